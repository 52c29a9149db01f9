// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

import (
	"testing"

	"github.com/GermanBionicSystems/owi/owi/owitest"
	"github.com/google/go-cmp/cmp"
)

func TestAlarmDispatch(t *testing.T) {
	d1 := newDevice(0x10, 1, true)
	d2 := newDevice(0x10, 2, false)
	d3 := newDevice(0x28, 3, true)
	b, _ := newBus(t, d1, d2, d3)

	calls := map[string]int{}
	observer := AlarmFunc(func(d *Driver) {
		calls[d.Name]++
		// The bus is usable from an observer.
		if err := d.MatchROM(); err != nil {
			t.Error(err)
		}
		if err := b.WriteBits(0x44, 8, false); err != nil {
			t.Error(err)
		}
	})
	for i, d := range []*owitest.Device{d1, d2, d3} {
		drv := &Driver{Name: []string{"d1", "d2", "d3"}[i], Alarm: observer}
		drv.SetROM(ROMFromAddress(d.Addr))
		b.Attach(drv)
	}
	found, err := b.AlarmDispatch()
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected alarms")
	}
	if diff := cmp.Diff(map[string]int{"d1": 1, "d3": 1}, calls); diff != "" {
		t.Fatalf("OnAlarm calls (-want +got):\n%s", diff)
	}
	if d1.Selected != 1 || d2.Selected != 0 || d3.Selected != 1 {
		t.Fatal(d1.Selected, d2.Selected, d3.Selected)
	}
}

func TestAlarmDispatch_unattached(t *testing.T) {
	d1 := newDevice(0x10, 1, true)
	d2 := newDevice(0x10, 2, false)
	b, _ := newBus(t, d1, d2)
	calls := 0
	drv := &Driver{Alarm: AlarmFunc(func(*Driver) { calls++ })}
	drv.SetROM(ROMFromAddress(d2.Addr))
	b.Attach(drv)
	// Attached without observer.
	b.Attach(&Driver{rom: ROMFromAddress(d1.Addr)})
	found, err := b.AlarmDispatch()
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("d1 is in alarm state")
	}
	if calls != 0 {
		t.Fatal("d2 is not in alarm state")
	}
}

func TestAlarmDispatch_none(t *testing.T) {
	b, _ := newBus(t, newDevice(0x10, 1, false), newDevice(0x10, 2, false))
	found, err := b.AlarmDispatch()
	if found || err != nil {
		t.Fatal(found, err)
	}
	b, _ = newBus(t)
	if found, err = b.AlarmDispatch(); found || err != nil {
		t.Fatal(found, err)
	}
}

func TestAlarmIterator(t *testing.T) {
	d1 := newDevice(0x10, 1, true)
	d2 := newDevice(0x10, 2, false)
	d3 := newDevice(0x28, 3, true)
	b, _ := newBus(t, d1, d2, d3)
	drv1 := &Driver{Name: "d1"}
	drv1.SetROM(ROMFromAddress(d1.Addr))
	b.Attach(drv1)

	it := b.Alarms(0x10)
	if !it.Next() {
		t.Fatal(it.Err())
	}
	if it.Driver() != drv1 {
		t.Fatalf("expected the attached driver, got %s", it.Driver())
	}
	if it.Next() {
		t.Fatalf("unexpected %s", it.Driver())
	}
	if it.Err() != nil || it.Driver() != nil {
		t.Fatal(it.Err())
	}
	// Exhausted iterators stay exhausted.
	if it.Next() {
		t.Fatal("exhausted")
	}

	it = b.Alarms(0)
	var got []ROM
	for it.Next() {
		d := it.Driver()
		if d.Bus != b {
			t.Fatal("driver must be on the bus")
		}
		got = append(got, d.ROM())
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}
	want := []ROM{ROMFromAddress(d1.Addr), ROMFromAddress(d3.Addr)}
	if diff := cmp.Diff(sortedROMs(want), sortedROMs(got)); diff != "" {
		t.Fatalf("alarms (-want +got):\n%s", diff)
	}

	it.Reset()
	n := 0
	for it.Next() {
		n++
	}
	if n != 2 || it.Err() != nil {
		t.Fatal(n, it.Err())
	}
	if b.Devices() != 1 {
		t.Fatal("the iterator must not attach drivers")
	}
}

func TestAlarmIterator_none(t *testing.T) {
	b, _ := newBus(t, newDevice(0x10, 1, false))
	it := b.Alarms(0)
	if it.Next() || it.Err() != nil {
		t.Fatal(it.Err())
	}
}
