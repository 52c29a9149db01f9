// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owi implements a 1-wire bus master by bit-banging a single GPIO
// pin, the ROM search and addressing layer on top of it and a registry of
// device drivers attached to the bus.
//
// The data line must have an external pull-up resistor (typically 4.7kΩ)
// unless Opts.Pull selects the pin's internal pull-up.
//
// # Timing
//
// All time slots are generated with busy waits. Each bit slot and the
// presence sample run inside Critical so they are not stretched.
//
// # References
//
// Reset and bit timing: https://www.analog.com/en/technical-articles/1wire-communication-through-software.html
//
// ROM search: https://www.analog.com/en/app-notes/1wire-search-algorithm.html
package owi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GermanBionicSystems/owi/common"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// Pull is applied when the line is released. gpio.Float relies on an
	// external pull-up resistor.
	Pull gpio.Pull
	// ResetRetries is the number of additional reset pulses issued when no
	// device answered with a presence pulse.
	ResetRetries int
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Pull:         gpio.Float,
	ResetRetries: 4,
}

// New returns a 1-wire bus master driving the data pin q.
//
// The pin is released, leaving the bus idle.
func New(q gpio.PinIO, opts *Opts) (*Bus, error) {
	if q == nil || q == gpio.INVALID {
		return nil, errors.New("owi: invalid data pin")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	if opts.ResetRetries < 0 {
		return nil, errors.New("owi: invalid ResetRetries")
	}
	b := &Bus{q: q, pull: opts.Pull, retries: opts.ResetRetries}
	if b.pull == gpio.PullNoChange {
		b.pull = gpio.Float
	}
	if err := b.PowerOff(); err != nil {
		return nil, fmt.Errorf("owi: failed to release %s: %w", q, err)
	}
	return b, nil
}

// Bus is a 1-wire bus master on a GPIO pin. It implements onewire.Bus and
// onewire.BusSearcher, so periph device drivers can use it directly.
//
// The bit and byte primitives (Reset, ReadBits, WriteBits, ...) do not lock:
// a transaction is a sequence of primitives and the caller must serialize
// transactions. Tx and Search lock the bus for the duration of the
// transaction.
//
// Bus implements a persistent error model: an error returned by the pin
// places the bus into an error state and the error is returned by all
// subsequent calls. Errors on the 1-wire bus itself (no presence, CRC) are
// not persistent and implement onewire.BusError or onewire.NoDevicesError.
type Bus struct {
	mu      sync.Mutex // lock for the bus while a transaction is in progress
	q       gpio.PinIO // data line
	pull    gpio.Pull  // pull applied on release
	retries int        // additional reset attempts
	crc     byte       // running CRC of the bits read
	err     error      // persistent error, the bus will no longer operate

	regMu   sync.Mutex
	drivers []*Driver // attached drivers, indexed by Handle
	devices int       // number of attached drivers
}

func (b *Bus) String() string {
	return "owi(" + b.q.String() + ")"
}

// Halt implements conn.Resource.
//
// It releases the line.
func (b *Bus) Halt() error {
	return b.PowerOff()
}

// Close implements onewire.BusCloser.
func (b *Bus) Close() error {
	return b.Halt()
}

// Q implements onewire.Pins.
func (b *Bus) Q() gpio.PinIO {
	return b.q
}

// Reset issues a reset pulse and reports whether at least one device
// answered with a presence pulse. No presence is a normal outcome and is
// not an error.
func (b *Bus) Reset() (bool, error) {
	for retry := b.retries; ; retry-- {
		present := b.reset()
		if b.err != nil || present || retry == 0 {
			return present, b.err
		}
	}
}

func (b *Bus) reset() bool {
	if b.err != nil {
		return false
	}
	b.low()
	delay(tResetLow)
	present := func() bool {
		defer Critical()()
		b.release()
		delay(tPresenceSample)
		return b.sense() == gpio.Low
	}()
	delay(tResetRecovery)
	return present
}

// ReadBits reads n bits, 1 to 8, LSB first and returns them right aligned.
//
// Bits nobody drives read as 1. Every bit read is folded into the running
// CRC used by ReadBlock.
func (b *Bus) ReadBits(n int) (byte, error) {
	if n < 1 || n > 8 {
		return 0, errors.New("owi: invalid number of bits")
	}
	if b.err != nil {
		return 0, b.err
	}
	defer Critical()()
	var v byte
	for range n {
		b.low()
		delay(tReadLow)
		b.release()
		delay(tReadSample)
		var bit byte
		if b.sense() == gpio.High {
			bit = 1
		}
		v = v>>1 | bit<<7
		b.crc = common.CRC8Bit(b.crc, bit)
		delay(tReadRecovery)
	}
	return v >> uint(8-n), b.err
}

// WriteBits writes the n lowest bits of v, 1 to 8, LSB first.
//
// When power is true the line is left actively driven high to feed parasite
// powered devices. The caller must end it with PowerOff.
func (b *Bus) WriteBits(v byte, n int, power bool) error {
	if n < 1 || n > 8 {
		return errors.New("owi: invalid number of bits")
	}
	if b.err != nil {
		return b.err
	}
	func() {
		defer Critical()()
		b.high()
		for range n {
			b.low()
			if v&1 != 0 {
				delay(tWrite1Low)
				b.high()
				delay(tWrite1High)
			} else {
				delay(tWrite0Low)
				b.high()
				delay(tWrite0High)
			}
			v >>= 1
		}
	}()
	if !power {
		return b.PowerOff()
	}
	return b.err
}

// PowerOff ends parasite power: the pin is turned into a high impedance
// input and the pull-up holds the line.
func (b *Bus) PowerOff() error {
	b.release()
	return b.err
}

// ReadBlock fills buf with bytes read from the bus. The block is expected to
// end with its own CRC; ReadBlock returns true if it does.
//
// A block nobody answered reads as all ones and fails the check.
func (b *Bus) ReadBlock(buf []byte) (bool, error) {
	b.crc = 0
	for i := range buf {
		v, err := b.ReadBits(8)
		if err != nil {
			return false, err
		}
		buf[i] = v
	}
	return len(buf) != 0 && b.crc == 0, nil
}

// WriteBlock writes the command byte cmd followed by buf.
func (b *Bus) WriteBlock(cmd byte, buf []byte) error {
	if err := b.WriteBits(cmd, 8, false); err != nil {
		return err
	}
	for _, v := range buf {
		if err := b.WriteBits(v, 8, false); err != nil {
			return err
		}
	}
	return nil
}

// Tx implements onewire.Bus.
//
// It resets the bus, writes w then reads r. With onewire.StrongPullup the
// line is left driven high after the last byte; call PowerOff, or start the
// next transaction, to end it.
func (b *Bus) Tx(w, r []byte, power onewire.Pullup) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if present, err := b.Reset(); err != nil {
		return err
	} else if !present {
		return noDevicesError("owi: no device present")
	}
	for i, v := range w {
		last := power == onewire.StrongPullup && i == len(w)-1 && len(r) == 0
		if err := b.WriteBits(v, 8, last); err != nil {
			return err
		}
	}
	for i := range r {
		v, err := b.ReadBits(8)
		if err != nil {
			return err
		}
		r[i] = v
	}
	if power == onewire.StrongPullup && len(r) != 0 {
		b.high()
	}
	return b.err
}

// Search implements onewire.Bus.
//
// It enumerates all devices, or all devices in alarm state if alarmOnly is
// true. The already discovered devices are returned along any error.
func (b *Bus) Search(alarmOnly bool) ([]onewire.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cmd := byte(CmdSearchROM)
	if alarmOnly {
		cmd = CmdAlarmSearch
	}
	var devices []onewire.Address
	var rom ROM
	for last := First; last != Last; {
		next, err := Search(b, cmd, &rom, last)
		if err != nil {
			if alarmOnly && isNoDevices(err) {
				return devices, nil
			}
			return devices, err
		}
		devices = append(devices, rom.Address())
		last = next
	}
	return devices, nil
}

// SearchTriplet implements onewire.BusSearcher.
//
// It reads the id bit and its complement and writes the direction taken.
// direction is only taken when devices answered both 0 and 1.
func (b *Bus) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	bits, err := b.ReadBits(2)
	if err != nil {
		return onewire.TripletResult{}, err
	}
	tr := onewire.TripletResult{
		GotZero: bits&1 == 0,
		GotOne:  bits&2 == 0,
	}
	switch {
	case tr.GotZero && tr.GotOne:
		tr.Taken = direction & 1
	case tr.GotOne:
		tr.Taken = 1
	}
	return tr, b.WriteBits(tr.Taken, 1, false)
}

// Register registers a bus on the data pin q in onewirereg under name. The
// bus is created when it is opened.
func Register(name string, aliases []string, q gpio.PinIO, opts *Opts) error {
	return onewirereg.Register(name, aliases, q.Number(), func() (onewire.BusCloser, error) {
		b, err := New(q, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
}

// noDevicesError implements error and onewire.NoDevicesError.
type noDevicesError string

func (e noDevicesError) Error() string   { return string(e) }
func (e noDevicesError) NoDevices() bool { return true }

// busError implements error and onewire.BusError.
type busError string

func (e busError) Error() string  { return string(e) }
func (e busError) BusError() bool { return true }

func isNoDevices(err error) bool {
	var nd onewire.NoDevicesError
	return errors.As(err, &nd) && nd.NoDevices()
}

var _ conn.Resource = &Bus{}
var _ onewire.BusCloser = &Bus{}
var _ onewire.BusSearcher = &Bus{}
var _ onewire.Pins = &Bus{}
var _ onewire.NoDevicesError = noDevicesError("")
var _ onewire.BusError = busError("")
