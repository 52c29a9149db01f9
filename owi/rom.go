// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

import (
	"encoding/hex"
	"errors"

	"github.com/GermanBionicSystems/owi/common"
	"periph.io/x/conn/v3/onewire"
)

// ROM commands.
const (
	CmdSearchROM   = 0xf0
	CmdReadROM     = 0x33
	CmdMatchROM    = 0x55
	CmdSkipROM     = 0xcc
	CmdAlarmSearch = 0xec
)

// ROMSize is the size of a device identifier in bytes.
const ROMSize = 8

// ROM is the 64-bit identifier of a device as it is transferred on the bus:
// family code in byte 0, 48-bit serial number in bytes 1..6 and the CRC of
// the first 7 bytes in byte 7.
type ROM [ROMSize]byte

// ROMFromAddress converts a periph onewire.Address, which is the same
// identifier in little-endian format.
func ROMFromAddress(a onewire.Address) ROM {
	var r ROM
	for i := range r {
		r[i] = byte(a >> (8 * uint(i)))
	}
	return r
}

// NewROM returns the ROM for the family and serial number, computing the
// CRC byte.
func NewROM(family byte, serial [6]byte) ROM {
	r := ROM{family}
	copy(r[1:7], serial[:])
	r[7] = common.CRC8(r[:7])
	return r
}

// Family returns the family code, i.e. the device type.
func (r ROM) Family() byte {
	return r[0]
}

// Valid reports whether the CRC byte matches the first 7 bytes. An invalid
// ROM must never be used for addressing.
func (r ROM) Valid() bool {
	return common.CheckCRC8(r[:])
}

// Address returns the ROM as a periph onewire.Address.
func (r ROM) Address() onewire.Address {
	var a onewire.Address
	for i := range r {
		a |= onewire.Address(r[i]) << (8 * uint(i))
	}
	return a
}

// String returns the ROM in the "ff-ssssssssssss-cc" form: family, serial
// number most significant byte first, crc.
func (r ROM) String() string {
	var s [6]byte
	for i := range s {
		s[i] = r[6-i]
	}
	return hex.EncodeToString(r[:1]) + "-" + hex.EncodeToString(s[:]) + "-" + hex.EncodeToString(r[7:])
}

// MarshalText implements encoding.TextMarshaler.
func (r ROM) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ROM) UnmarshalText(b []byte) error {
	v, err := ParseROM(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseROM parses the form returned by ROM.String. The crc part may be "--"
// in which case it is calculated, otherwise it is verified.
func ParseROM(s string) (ROM, error) {
	var r ROM
	if len(s) != 18 || s[2] != '-' || s[15] != '-' {
		return r, errors.New("owi: invalid ROM " + s)
	}
	family, serial, crc := s[:2], s[3:15], s[16:]
	if _, err := hex.Decode(r[:1], []byte(family)); err != nil {
		return r, errors.New("owi: invalid ROM family " + s)
	}
	var sn [6]byte
	if _, err := hex.Decode(sn[:], []byte(serial)); err != nil {
		return r, errors.New("owi: invalid ROM serial " + s)
	}
	for i := range sn {
		r[6-i] = sn[i]
	}
	r[7] = common.CRC8(r[:7])
	if crc == "--" {
		return r, nil
	}
	var c [1]byte
	if _, err := hex.Decode(c[:], []byte(crc)); err != nil || c[0] != r[7] {
		return ROM{}, errors.New("owi: invalid ROM crc " + s)
	}
	return r, nil
}
