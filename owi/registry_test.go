// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry(t *testing.T) {
	b, _ := newBus(t)
	drivers := []*Driver{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	var handles []Handle
	for i, d := range drivers {
		d.SetROM(ROM{0x28, byte(i)})
		handles = append(handles, b.Attach(d))
		if d.Bus != b {
			t.Fatal("Attach must set the bus")
		}
	}
	if diff := cmp.Diff([]Handle{0, 1, 2}, handles); diff != "" {
		t.Fatalf("handles (-want +got):\n%s", diff)
	}
	if h := b.Attach(drivers[1]); h != handles[1] {
		t.Fatalf("attaching twice must return the same handle, got %d", h)
	}
	if n := b.Devices(); n != 3 {
		t.Fatal(n)
	}
	if d := b.Detach(handles[1]); d != drivers[1] {
		t.Fatalf("Detach() = %v", d)
	}
	if drivers[1].Bus != nil {
		t.Fatal("Detach must clear the bus")
	}
	if d := b.Detach(handles[1]); d != nil {
		t.Fatal("detached twice")
	}
	if d := b.Detach(42); d != nil {
		t.Fatal("unknown handle")
	}
	if b.Driver(handles[1]) != nil || b.Driver(-1) != nil || b.Driver(3) != nil {
		t.Fatal("no driver expected")
	}
	if b.Driver(handles[2]) != drivers[2] {
		t.Fatal("handles must be stable")
	}
	if n := b.Devices(); n != 2 {
		t.Fatal(n)
	}

	d := &Driver{Name: "d"}
	d.SetROM(ROM{0x28, 1})
	if h := b.Attach(d); h != 3 {
		t.Fatalf("handles must not be reused, got %d", h)
	}
	got := b.Drivers()
	if len(got) != 3 || got[0] != drivers[0] || got[1] != drivers[2] || got[2] != d {
		t.Fatalf("Drivers() = %v", got)
	}
	if l, ok := b.Lookup(ROM{0x28, 1}); !ok || l != d {
		t.Fatalf("Lookup() = %v, %t", l, ok)
	}
	if l, ok := b.Lookup(ROM{0x28, 2}); !ok || l != drivers[2] {
		t.Fatalf("Lookup() = %v, %t", l, ok)
	}
	if _, ok := b.Lookup(ROM{0x10}); ok {
		t.Fatal("unexpected driver")
	}
}
