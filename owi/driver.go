// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

import (
	"errors"

	"periph.io/x/conn/v3/onewire"
)

// AlarmObserver is implemented by drivers that want to be told when their
// device reports an alarm during Bus.AlarmDispatch.
type AlarmObserver interface {
	OnAlarm(d *Driver)
}

// AlarmFunc adapts a function to AlarmObserver.
type AlarmFunc func(d *Driver)

// OnAlarm implements AlarmObserver.
func (f AlarmFunc) OnAlarm(d *Driver) {
	f(d)
}

// Driver is the handle to one device on a 1-wire bus.
//
// The zero ROM is not a valid identifier; use SetROM with a known ROM, or
// ReadROM, SearchROM or Connect to discover it.
type Driver struct {
	Name  string        // name of the device, for reporting only
	Bus   *Bus          // bus the device is connected to
	Alarm AlarmObserver // notified by Bus.AlarmDispatch, may be nil

	rom ROM
}

func (d *Driver) String() string {
	s := d.Name
	if s == "" {
		s = "owi.Driver"
	}
	return s + "{" + d.rom.String() + "}"
}

// ROM returns the identifier of the device.
func (d *Driver) ROM() ROM {
	return d.rom
}

// SetROM sets the identifier of the device, e.g. one restored from
// persistent storage.
func (d *Driver) SetROM(r ROM) {
	d.rom = r
}

// SearchROM performs one pass of the ROM search, see Search. The ROM found
// is stored in the driver.
func (d *Driver) SearchROM(last Cursor) (Cursor, error) {
	if d.Bus == nil {
		return last, errNoBus
	}
	return Search(d.Bus, CmdSearchROM, &d.rom, last)
}

// AlarmSearch performs one pass of the alarm search, see Search. The ROM
// found is stored in the driver.
func (d *Driver) AlarmSearch(last Cursor) (Cursor, error) {
	if d.Bus == nil {
		return last, errNoBus
	}
	return Search(d.Bus, CmdAlarmSearch, &d.rom, last)
}

// ReadROM reads the ROM of the only device on the bus.
//
// It must not be used with more than one device on the bus: the answers
// collide and the result is a ROM that fails the CRC check.
func (d *Driver) ReadROM() error {
	if err := d.address(CmdReadROM, nil); err != nil {
		return err
	}
	var r ROM
	ok, err := d.Bus.ReadBlock(r[:])
	if err != nil {
		return err
	}
	if !ok {
		return busError("owi: CRC error reading rom " + r.String())
	}
	d.rom = r
	return nil
}

// MatchROM addresses the device. A device specific function command should
// follow.
func (d *Driver) MatchROM() error {
	return d.address(CmdMatchROM, d.rom[:])
}

// SkipROM addresses all the devices on the bus. A function command should
// follow; only broadcast writes are possible with more than one device.
func (d *Driver) SkipROM() error {
	return d.address(CmdSkipROM, nil)
}

// Connect searches the bus for the index-th device, counting from 0, of the
// given family and adopts its ROM.
//
// On failure the ROM is cleared. The error implements
// onewire.NoDevicesError if there are not enough matching devices.
func (d *Driver) Connect(family byte, index int) error {
	if index < 0 {
		return errors.New("owi: invalid index")
	}
	for last := First; last != Last; {
		next, err := d.SearchROM(last)
		if err != nil {
			d.rom = ROM{}
			return err
		}
		if d.rom.Family() == family {
			if index == 0 {
				return nil
			}
			index--
		}
		last = next
	}
	d.rom = ROM{}
	return noDevicesError("owi: no matching device")
}

// Tx addresses the device with a match ROM command, writes w and reads r.
// The line is left with the weak pull-up.
func (d *Driver) Tx(w, r []byte) error {
	if d.Bus == nil {
		return errNoBus
	}
	dev := onewire.Dev{Bus: d.Bus, Addr: d.rom.Address()}
	return dev.Tx(w, r)
}

// TxPower is like Tx but leaves the line driven high after the last byte to
// power the device, e.g. during a temperature conversion or an EEPROM
// write. End it with Bus.PowerOff.
func (d *Driver) TxPower(w, r []byte) error {
	if d.Bus == nil {
		return errNoBus
	}
	dev := onewire.Dev{Bus: d.Bus, Addr: d.rom.Address()}
	return dev.TxPower(w, r)
}

func (d *Driver) address(cmd byte, rom []byte) error {
	if d.Bus == nil {
		return errNoBus
	}
	if present, err := d.Bus.Reset(); err != nil {
		return err
	} else if !present {
		return noDevicesError("owi: no device present")
	}
	return d.Bus.WriteBlock(cmd, rom)
}

var errNoBus = errors.New("owi: driver is not connected to a bus")
