// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

// AlarmDispatch searches the devices in alarm state and calls OnAlarm on the
// attached driver of each of them. Devices without an attached driver are
// skipped.
//
// It returns true if at least one device reported an alarm. Observers are
// called between two search passes and may use the bus.
func (b *Bus) AlarmDispatch() (bool, error) {
	found := false
	var rom ROM
	for last := First; last != Last; {
		next, err := Search(b, CmdAlarmSearch, &rom, last)
		if err != nil {
			if isNoDevices(err) {
				return found, nil
			}
			return found, err
		}
		found = true
		if d, ok := b.Lookup(rom); ok && d.Alarm != nil {
			d.Alarm.OnAlarm(d)
		}
		last = next
	}
	return found, nil
}

// AlarmIterator walks the devices in alarm state, optionally restricted to
// one family.
//
//	it := bus.Alarms(0)
//	for it.Next() {
//		d := it.Driver()
//	}
//	if err := it.Err(); err != nil {
//	}
type AlarmIterator struct {
	bus    *Bus
	family byte
	last   Cursor
	rom    ROM
	d      *Driver
	err    error
}

// Alarms returns an iterator over the devices in alarm state of the given
// family. Family 0 matches all devices.
func (b *Bus) Alarms(family byte) *AlarmIterator {
	return &AlarmIterator{bus: b, family: family, last: First}
}

// Next advances to the next matching device. It returns false when the
// search is exhausted or failed; see Err.
func (it *AlarmIterator) Next() bool {
	it.d = nil
	for it.err == nil && it.last != Last {
		next, err := Search(it.bus, CmdAlarmSearch, &it.rom, it.last)
		if err != nil {
			if !isNoDevices(err) {
				it.err = err
			}
			it.last = Last
			return false
		}
		it.last = next
		if it.family == 0 || it.rom.Family() == it.family {
			if d, ok := it.bus.Lookup(it.rom); ok {
				it.d = d
			} else {
				it.d = &Driver{Bus: it.bus, rom: it.rom}
			}
			return true
		}
	}
	return false
}

// Driver returns the device found by the last call to Next. It is the
// attached driver if there is one.
func (it *AlarmIterator) Driver() *Driver {
	return it.d
}

// Err returns the error that stopped the iteration, if any. Not finding any
// device in alarm state is not an error.
func (it *AlarmIterator) Err() error {
	return it.err
}

// Reset restarts the iteration from the beginning.
func (it *AlarmIterator) Reset() {
	it.last = First
	it.rom = ROM{}
	it.d = nil
	it.err = nil
}
