// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Standard speed protocol timing, see Maxim AN126. Both ends of the bus,
// Bus and the slave emulation, derive their time slots from these.
const (
	ResetTime    = 480 * time.Microsecond // reset pulse, shortest low taken as a reset
	PresenceWait = 30 * time.Microsecond  // end of reset to presence pulse
	PresenceTime = 120 * time.Microsecond // presence pulse
	SampleTime   = 15 * time.Microsecond  // slot start to sample point
	SlotTime     = 60 * time.Microsecond  // shortest time slot
)

// Master time slots.
const (
	tRecovery       = 10 * time.Microsecond
	tResetLow       = ResetTime
	tPresenceSample = 70 * time.Microsecond // release to presence sample
	tResetRecovery  = ResetTime - tPresenceSample
	tReadLow        = 6 * time.Microsecond
	tReadSample     = SampleTime - tReadLow
	tReadRecovery   = SlotTime + tRecovery - SampleTime
	tWrite1Low      = tReadLow
	tWrite1High     = SlotTime + tRecovery - tWrite1Low
	tWrite0Low      = SlotTime
	tWrite0High     = tRecovery
)

// low drives the data line low. Pin errors are persistent, see Bus.
func (b *Bus) low() {
	if b.err == nil {
		b.err = b.q.Out(gpio.Low)
	}
}

// high actively drives the data line high.
func (b *Bus) high() {
	if b.err == nil {
		b.err = b.q.Out(gpio.High)
	}
}

// release turns the pin into an input so the pull-up restores the line.
func (b *Bus) release() {
	if b.err == nil {
		b.err = b.q.In(b.pull, gpio.NoEdge)
	}
}

// sense returns the current level of the data line.
func (b *Bus) sense() gpio.Level {
	if b.err != nil {
		return gpio.High
	}
	return b.q.Read()
}

// Delay busy waits for d. It times every slot of the bus and is meant for
// slave emulations sharing the same time base. time.Sleep is far too coarse
// for time slots.
func Delay(d time.Duration) {
	delay(d)
}

func spin(d time.Duration) {
	for start := time.Now(); time.Since(start) < d; {
	}
}

var delay = spin
