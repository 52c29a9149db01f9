// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi_test

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/GermanBionicSystems/owi/common"
	"github.com/GermanBionicSystems/owi/owi"
	"github.com/GermanBionicSystems/owi/owislave"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/onewire"
)

func TestEmulation_Reset(t *testing.T) {
	l := newLine(t)
	b := l.bus(t)
	if present, err := b.Reset(); present || err != nil {
		t.Fatalf("Reset() = %t, %v on an empty line", present, err)
	}
	d := l.attach(t, owi.NewROM(0x28, [6]byte{1}))
	if present, err := b.Reset(); !present || err != nil {
		t.Fatalf("Reset() = %t, %v", present, err)
	}
	if s := d.Snapshot(); s.State != owislave.Presence {
		t.Fatal(s)
	}
}

func TestEmulation_ReadROM(t *testing.T) {
	l := newLine(t)
	rom := owi.NewROM(0x28, [6]byte{0xac, 0x41, 0x0e, 0x07})
	l.attach(t, rom)
	drv := &owi.Driver{Bus: l.bus(t)}
	if err := drv.ReadROM(); err != nil {
		t.Fatal(err)
	}
	if drv.ROM() != rom {
		t.Fatalf("got %s, want %s", drv.ROM(), rom)
	}
}

func TestEmulation_Search(t *testing.T) {
	l := newLine(t)
	roms := []owi.ROM{
		owi.NewROM(0x28, [6]byte{0x01}),
		owi.NewROM(0x10, [6]byte{0x02}),
		owi.NewROM(0x28, [6]byte{0x03, 0x80}),
		owi.NewROM(0x3a, [6]byte{0x01}),
	}
	for _, r := range roms {
		l.attach(t, r)
	}
	b := l.bus(t)
	got, err := b.Search(false)
	if err != nil {
		t.Fatal(err)
	}
	var want []onewire.Address
	for _, r := range roms {
		want = append(want, r.Address())
	}
	sortAddresses(want)
	sortAddresses(got)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Search() (-want +got):\n%s", diff)
	}

	// Connect counts the devices of one family in search order.
	var family []owi.ROM
	for i := 0; i < 2; i++ {
		drv := &owi.Driver{Bus: b}
		if err := drv.Connect(0x28, i); err != nil {
			t.Fatal(err)
		}
		family = append(family, drv.ROM())
	}
	if family[0] == family[1] || family[0].Family() != 0x28 || family[1].Family() != 0x28 {
		t.Fatalf("Connect() found %v", family)
	}
	drv := &owi.Driver{Bus: b}
	var nd onewire.NoDevicesError
	if err := drv.Connect(0x28, 2); !errors.As(err, &nd) {
		t.Fatalf("Connect() = %v", err)
	}
}

func TestEmulation_Tx(t *testing.T) {
	l := newLine(t)
	roms := []owi.ROM{owi.NewROM(0x28, [6]byte{0x01}), owi.NewROM(0x28, [6]byte{0x02})}
	var devs []*owislave.Device
	for _, r := range roms {
		devs = append(devs, l.attach(t, r))
	}
	devs[1].SetAlarm(true)
	b := l.bus(t)
	for i, r := range roms {
		drv := &owi.Driver{Bus: b}
		drv.SetROM(r)
		got := make([]byte, 2)
		if err := drv.Tx([]byte{owislave.CmdStatus}, got); err != nil {
			t.Fatal(err)
		}
		if !common.CheckCRC8(got) {
			t.Fatalf("%s: invalid CRC %#v", r, got)
		}
		if want := byte(i); got[0] != want {
			t.Fatalf("%s: status %#02x, want %#02x", r, got[0], want)
		}
	}
	for i, d := range devs {
		if s := d.Snapshot(); s.Transactions != 1 || s.State != owislave.Idle {
			t.Fatalf("device %d: %+v", i, s)
		}
	}
}

func TestEmulation_AlarmDispatch(t *testing.T) {
	l := newLine(t)
	roms := []owi.ROM{
		owi.NewROM(0x10, [6]byte{0x01}),
		owi.NewROM(0x10, [6]byte{0x02}),
		owi.NewROM(0x10, [6]byte{0x03}),
	}
	var devs []*owislave.Device
	for _, r := range roms {
		devs = append(devs, l.attach(t, r))
	}
	b := l.bus(t)
	calls := map[owi.ROM]int{}
	for _, r := range roms {
		drv := &owi.Driver{Alarm: owi.AlarmFunc(func(d *owi.Driver) { calls[d.ROM()]++ })}
		drv.SetROM(r)
		b.Attach(drv)
	}

	if found, err := b.AlarmDispatch(); found || err != nil {
		t.Fatalf("AlarmDispatch() = %t, %v without alarm", found, err)
	}
	if len(calls) != 0 {
		t.Fatal(calls)
	}

	devs[0].SetAlarm(true)
	devs[2].SetAlarm(true)
	if found, err := b.AlarmDispatch(); !found || err != nil {
		t.Fatalf("AlarmDispatch() = %t, %v", found, err)
	}
	want := map[owi.ROM]int{roms[0]: 1, roms[2]: 1}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("alarms (-want +got):\n%s", diff)
	}
}

// line is a data line shared by a bus master and emulated slave devices.
// The devices see the edges of the master synchronously. Their own pulses,
// issued from the edge handler, are recorded as windows of virtual time.
type line struct {
	clock   clockwork.FakeClock
	devices []*owislave.Device
	pins    []*slavePin
	driven  bool          // the master drives the line low
	handler bool          // a device edge handler is running
	elapsed time.Duration // time spent by the running edge handler
}

func newLine(t *testing.T) *line {
	l := &line{clock: clockwork.NewFakeClock()}
	t.Cleanup(owi.SetDelay(l.delay))
	return l
}

// delay advances the clock, or the time of the edge handler being run.
func (l *line) delay(d time.Duration) {
	if l.handler {
		l.elapsed += d
		return
	}
	l.clock.Advance(d)
}

func (l *line) now() time.Time {
	return l.clock.Now().Add(l.elapsed)
}

func (l *line) bus(t *testing.T) *owi.Bus {
	b, err := owi.New(&masterPin{Pin: gpiotest.Pin{N: "Q", Num: 4}, l: l}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (l *line) attach(t *testing.T, rom owi.ROM) *owislave.Device {
	p := &slavePin{Pin: gpiotest.Pin{N: "S", Num: len(l.pins)}, l: l}
	d, err := owislave.New(p, rom, &owislave.Opts{Clock: l.clock})
	if err != nil {
		t.Fatal(err)
	}
	l.pins = append(l.pins, p)
	l.devices = append(l.devices, d)
	return d
}

// drive changes the level driven by the master and interrupts the devices
// on an edge.
func (l *line) drive(low bool) {
	if l.driven == low {
		return
	}
	l.driven = low
	for _, d := range l.devices {
		l.handler = true
		l.elapsed = 0
		d.Interrupt()
		l.handler = false
		l.elapsed = 0
	}
}

// level is the wired-AND of the master and the devices.
func (l *line) level() gpio.Level {
	if l.driven {
		return gpio.Low
	}
	now := l.now()
	for _, p := range l.pins {
		if !now.Before(p.from) && now.Before(p.to) {
			return gpio.Low
		}
	}
	return gpio.High
}

type masterPin struct {
	gpiotest.Pin
	l *line
}

func (p *masterPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.l.drive(false)
	return nil
}

func (p *masterPin) Out(l gpio.Level) error {
	p.l.drive(l == gpio.Low)
	return nil
}

func (p *masterPin) Read() gpio.Level {
	return p.l.level()
}

// slavePin records the pulse of a device. A device only senses the master.
type slavePin struct {
	gpiotest.Pin
	l        *line
	from, to time.Time // last pulse driven by the device
	low      bool
}

func (p *slavePin) In(pull gpio.Pull, edge gpio.Edge) error {
	if p.low {
		p.to = p.l.now()
		p.low = false
	}
	return nil
}

func (p *slavePin) Out(l gpio.Level) error {
	if l == gpio.Low && !p.low {
		p.from = p.l.now()
		p.to = p.from.Add(time.Hour)
		p.low = true
	}
	return nil
}

func (p *slavePin) Read() gpio.Level {
	if p.l.driven {
		return gpio.Low
	}
	return gpio.High
}

func sortAddresses(a []onewire.Address) {
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
}
