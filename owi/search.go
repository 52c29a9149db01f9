// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

import (
	"io"
	"strconv"

	"github.com/GermanBionicSystems/owi/common"
)

// Cursor is the resumable state of a ROM search: the bit position, 0 being
// the LSB of the family code, of the last discrepancy where the search took
// the 0 branch.
type Cursor int8

const (
	// First starts a new search.
	First Cursor = -1
	// Last is returned once no discrepancy is left to explore.
	Last Cursor = ROMSize * 8
)

func (c Cursor) String() string {
	switch c {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return strconv.Itoa(int(c))
	}
}

// Master is the bit level access to a bus needed by Search. It is
// implemented by *Bus.
type Master interface {
	Reset() (bool, error)
	ReadBits(n int) (byte, error)
	WriteBits(v byte, n int, power bool) error
}

// Search performs one pass of the ROM search algorithm with the command
// cmd, CmdSearchROM or CmdAlarmSearch, and returns the cursor to pass to the
// next call.
//
// rom must hold the ROM found by the previous call; it is overwritten with
// the ROM found by this pass. Start with First; when Search returns Last the
// ROM found is the last one. Calling Search with Last returns io.EOF without
// touching the bus.
//
// If no device answered the reset, or no device is in alarm state during an
// alarm search, the error implements onewire.NoDevicesError. A CRC mismatch
// leaves the sampled bytes in rom and returns an error implementing
// onewire.BusError; the ROM must be discarded.
//
// Since the whole state is carried by rom and the cursor, the bus can be used
// for other transactions between two calls.
func Search(m Master, cmd byte, rom *ROM, last Cursor) (Cursor, error) {
	if last >= Last {
		return Last, io.EOF
	}
	if present, err := m.Reset(); err != nil {
		return last, err
	} else if !present {
		return last, noDevicesError("owi: no device present")
	}
	if err := m.WriteBits(cmd, 8, false); err != nil {
		return last, err
	}
	next := Last
	var found ROM
	var crc byte
	pos := Cursor(0)
	for i := range found {
		var data byte
		for j := 0; j < 8; j++ {
			bits, err := m.ReadBits(2)
			if err != nil {
				return last, err
			}
			var dir byte
			switch bits {
			case 0b00:
				// Devices disagree at this position.
				switch {
				case pos == last:
					dir = 1
				case pos > last:
					next = pos
				case rom[i]&(1<<uint(j)) != 0:
					dir = 1
				default:
					next = pos
				}
			case 0b01:
				// All remaining devices have a 1.
				dir = 1
			case 0b10:
				// All remaining devices have a 0.
			case 0b11:
				if cmd == CmdAlarmSearch && pos == 0 {
					return last, noDevicesError("owi: no device in alarm state")
				}
				return last, busError("owi: devices disappeared during search at bit " + strconv.Itoa(int(pos)))
			}
			if err := m.WriteBits(dir, 1, false); err != nil {
				return last, err
			}
			data |= dir << uint(j)
			crc = common.CRC8Bit(crc, dir)
			pos++
		}
		found[i] = data
	}
	*rom = found
	if crc != 0 {
		return last, busError("owi: CRC error during search, rom=" + found.String())
	}
	return next, nil
}
