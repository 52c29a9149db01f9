// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owitest is meant to be used to test code driving a 1-wire bus
// from a GPIO pin, using a simulated data line with simulated devices.
//
// Wire decodes the edges the master makes on the line with the time of a
// clockwork.Clock, usually a fake one advanced by the master's delays. The
// devices answer reset pulses with a presence pulse and implement the ROM
// layer: search, alarm search, match, skip and read ROM.
package owitest

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/onewire"
)

// Device timing, within the ranges of the DS18B20 datasheet.
const (
	tResetMin      = 480 * time.Microsecond // shortest low seen as a reset
	tPresenceWait  = 15 * time.Microsecond  // release to presence pulse
	tPresence      = 120 * time.Microsecond // presence pulse width
	tSample        = 30 * time.Microsecond  // a low longer than this writes a 0
	tHold          = 30 * time.Microsecond  // a transmitted 0 is held that long
	bitsPerROM     = 64
	bitsPerByte    = 8
	cmdSearchROM   = 0xf0
	cmdReadROM     = 0x33
	cmdMatchROM    = 0x55
	cmdSkipROM     = 0xcc
	cmdAlarmSearch = 0xec
)

// Wire implements gpio.PinIO and simulates a 1-wire data line with a
// pull-up resistor and Devices connected to it.
//
// Only the master side of the pin is usable: edge detection is not
// supported.
type Wire struct {
	gpiotest.Pin

	Clock   clockwork.Clock
	Devices []*Device
	Resets  int // number of reset pulses seen

	output       bool      // the pin drives the line
	low          bool      // the pin drives the line low
	fall         time.Time // last falling edge made by the pin
	hold         time.Time // a device holds the line low until then
	presenceFrom time.Time
	presenceTo   time.Time
}

// NewWire returns a line with the devices connected to it.
func NewWire(clock clockwork.Clock, devices ...*Device) *Wire {
	return &Wire{
		Pin:     gpiotest.Pin{N: "Q", Num: 4, L: gpio.High, P: gpio.Float},
		Clock:   clock,
		Devices: devices,
	}
}

// Driven returns true if the pin drives the line, false if it is an input.
func (w *Wire) Driven() bool {
	w.Lock()
	defer w.Unlock()
	return w.output
}

// In implements gpio.PinIn.
func (w *Wire) In(pull gpio.Pull, edge gpio.Edge) error {
	if edge != gpio.NoEdge {
		return errors.New("owitest: edge detection is not supported")
	}
	w.Lock()
	defer w.Unlock()
	w.output = false
	w.P = pull
	w.drive(false)
	return nil
}

// Out implements gpio.PinOut.
func (w *Wire) Out(l gpio.Level) error {
	w.Lock()
	defer w.Unlock()
	w.output = true
	w.L = l
	w.drive(l == gpio.Low)
	return nil
}

// Read implements gpio.PinIn.
func (w *Wire) Read() gpio.Level {
	w.Lock()
	defer w.Unlock()
	if w.output {
		return w.L
	}
	now := w.Clock.Now()
	if now.Before(w.hold) || (!now.Before(w.presenceFrom) && now.Before(w.presenceTo)) {
		return gpio.Low
	}
	return gpio.High
}

func (w *Wire) drive(low bool) {
	now := w.Clock.Now()
	switch {
	case low && !w.low:
		w.low = true
		w.fall = now
		for _, d := range w.Devices {
			if d.slotStart() {
				w.hold = now.Add(tHold)
			}
		}
	case !low && w.low:
		w.low = false
		width := now.Sub(w.fall)
		if width >= tResetMin {
			w.Resets++
			w.hold = time.Time{}
			for _, d := range w.Devices {
				d.reset()
			}
			if len(w.Devices) != 0 {
				w.presenceFrom = now.Add(tPresenceWait)
				w.presenceTo = w.presenceFrom.Add(tPresence)
			}
			return
		}
		for _, d := range w.Devices {
			d.slotEnd(width)
		}
	}
}

type phase int

const (
	idle phase = iota
	command
	searchBit
	searchComplement
	searchDirection
	match
	readROM
	function
	reply
)

// Device is a simulated device on a Wire.
type Device struct {
	Addr    onewire.Address
	Alarm   bool            // answers alarm searches
	Replies map[byte][]byte // bytes sent after receiving a function code

	// Received are the bytes written to the device after it was addressed.
	// Read slots are seen as written 1 bits, as on a real device.
	Received []byte
	// Selected counts how many times the device was addressed with a match,
	// skip or read ROM command.
	Selected int

	phase phase
	bit   int
	acc   byte
	sent  bool // the current slot is one the device transmits in
	out   []byte
}

func (d *Device) romBit(i int) byte {
	return byte(d.Addr>>uint(i)) & 1
}

func (d *Device) reset() {
	d.phase = command
	d.bit = 0
	d.acc = 0
	d.sent = false
}

// slotStart is called on a falling edge and returns true if the device pulls
// the line low for this slot.
func (d *Device) slotStart() bool {
	var v byte
	switch d.phase {
	case searchBit:
		v = d.romBit(d.bit)
		d.phase = searchComplement
	case searchComplement:
		v = d.romBit(d.bit) ^ 1
		d.phase = searchDirection
	case readROM:
		v = d.romBit(d.bit)
		if d.bit++; d.bit == bitsPerROM {
			d.selected()
		}
	case reply:
		v = d.out[d.bit/bitsPerByte] >> uint(d.bit%bitsPerByte) & 1
		if d.bit++; d.bit == len(d.out)*bitsPerByte {
			d.phase = function
			d.bit = 0
		}
	default:
		return false
	}
	d.sent = true
	return v == 0
}

// slotEnd is called on a rising edge ending a slot that was low for width.
func (d *Device) slotEnd(width time.Duration) {
	if d.sent {
		d.sent = false
		return
	}
	var v byte
	if width <= tSample {
		v = 1
	}
	switch d.phase {
	case command:
		if !d.receive(v) {
			return
		}
		switch d.acc {
		case cmdSearchROM:
			d.phase = searchBit
		case cmdAlarmSearch:
			d.phase = idle
			if d.Alarm {
				d.phase = searchBit
			}
		case cmdMatchROM:
			d.phase = match
		case cmdSkipROM:
			d.selected()
		case cmdReadROM:
			d.phase = readROM
		default:
			d.phase = idle
		}
		d.acc = 0
	case searchDirection:
		if v != d.romBit(d.bit) {
			d.phase = idle
			return
		}
		if d.bit++; d.bit == bitsPerROM {
			// The device found by a search is addressed.
			d.addressed()
			return
		}
		d.phase = searchBit
	case match:
		if v != d.romBit(d.bit) {
			d.phase = idle
			return
		}
		if d.bit++; d.bit == bitsPerROM {
			d.selected()
		}
	case function:
		if !d.receive(v) {
			return
		}
		d.Received = append(d.Received, d.acc)
		if r := d.Replies[d.acc]; len(r) != 0 && len(d.Received) == 1 {
			d.out = r
			d.phase = reply
		}
		d.acc = 0
	}
}

// receive shifts in a bit LSB first and returns true once a byte is
// complete in d.acc.
func (d *Device) receive(v byte) bool {
	d.acc |= v << uint(d.bit)
	if d.bit++; d.bit < bitsPerByte {
		return false
	}
	d.bit = 0
	return true
}

func (d *Device) selected() {
	d.Selected++
	d.addressed()
}

func (d *Device) addressed() {
	d.Received = nil
	d.phase = function
	d.bit = 0
	d.acc = 0
}
