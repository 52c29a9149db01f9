// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"

	"github.com/GermanBionicSystems/owi/owi"
	"periph.io/x/conn/v3/onewire"
)

// attach enumerates the devices with the search command cmd and attaches a
// driver for each device of the family, all families if 0.
func attach(b *owi.Bus, cmd, family byte, alarm owi.AlarmObserver) error {
	var rom owi.ROM
	for last := owi.First; last != owi.Last; {
		next, err := owi.Search(b, cmd, &rom, last)
		if err != nil {
			if cmd == owi.CmdAlarmSearch && isNoDevices(err) {
				return nil
			}
			return err
		}
		last = next
		if family != 0 && rom.Family() != family {
			continue
		}
		d := &owi.Driver{Name: fmt.Sprintf("dev%d", b.Devices()), Alarm: alarm}
		d.SetROM(rom)
		b.Attach(d)
	}
	return nil
}

// listDrivers prints the drivers attached to the bus.
func listDrivers(b *owi.Bus) error {
	for _, d := range b.Drivers() {
		if _, err := fmt.Fprintf(out, "%-6s %s\n", d.Name, formatROM(d.ROM())); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(out, "%s: %d device(s)\n", b, b.Devices())
	return err
}

func isNoDevices(err error) bool {
	var nd onewire.NoDevicesError
	return errors.As(err, &nd) && nd.NoDevices()
}
