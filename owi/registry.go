// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

// Handle identifies a driver attached to a bus. Handles stay valid until the
// driver is detached and are never reused.
type Handle int

// Attach registers d with the bus and sets d.Bus. The bus does not own the
// driver; it only keeps a reference until Detach.
//
// Attaching a driver already attached to the bus returns its handle.
func (b *Bus) Attach(d *Driver) Handle {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	for h, a := range b.drivers {
		if a == d {
			return Handle(h)
		}
	}
	d.Bus = b
	b.drivers = append(b.drivers, d)
	b.devices++
	return Handle(len(b.drivers) - 1)
}

// Detach unregisters the driver, clears its Bus and returns it. It returns
// nil if h is not attached.
func (b *Bus) Detach(h Handle) *Driver {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	if h < 0 || int(h) >= len(b.drivers) || b.drivers[h] == nil {
		return nil
	}
	d := b.drivers[h]
	b.drivers[h] = nil
	b.devices--
	if d.Bus == b {
		d.Bus = nil
	}
	return d
}

// Driver returns the driver attached as h, or nil.
func (b *Bus) Driver(h Handle) *Driver {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	if h < 0 || int(h) >= len(b.drivers) {
		return nil
	}
	return b.drivers[h]
}

// Lookup returns the first attached driver with the ROM r.
func (b *Bus) Lookup(r ROM) (*Driver, bool) {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	for _, d := range b.drivers {
		if d != nil && d.rom == r {
			return d, true
		}
	}
	return nil, false
}

// Devices returns the number of attached drivers.
func (b *Bus) Devices() int {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	return b.devices
}

// Drivers returns the attached drivers in registration order.
func (b *Bus) Drivers() []*Driver {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	out := make([]*Driver, 0, b.devices)
	for _, d := range b.drivers {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}
