// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owislave makes the host behave as one 1-wire slave device on a
// GPIO pin.
//
// The protocol is a state machine advanced by Interrupt, which must be called
// on every edge of the data line. The width of each low pulse is measured
// with the clock sampled at the edges: a long pulse is a reset, a short or
// long one a written 1 or 0. The device answers the reset with a presence
// pulse and implements the ROM layer: search, alarm search, match, skip and
// read ROM. Once addressed, it receives one function code. CmdStatus is
// answered with the alarm flag, other codes are passed to the Handler.
//
// The edge handling must complete before the next edge of the master: on a
// loaded system transactions are dropped, and the master sees no answer.
package owislave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/owi/common"
	"github.com/GermanBionicSystems/owi/owi"
	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// CmdStatus is the function code of the status query. The answer is one byte,
// bit 0 being the alarm flag, followed by its CRC.
const CmdStatus = 0x11

// Slave timing, derived from the bus timing.
const (
	tReset        = owi.ResetTime      // shortest low seen as a reset
	tPresenceWait = owi.PresenceWait   // end of reset to presence pulse
	tPresence     = owi.PresenceTime   // presence pulse width
	tBit1         = owi.SampleTime     // a shorter low writes a 1
	tBit0         = 2 * owi.SlotTime   // a longer low is an anomaly
	tHold         = 2 * owi.SampleTime // a transmitted 0 is held that long
)

// State is the protocol state of the device.
type State int

// Protocol states.
const (
	Idle     State = iota // not addressed, waits for a reset
	Reset                 // a reset pulse was detected
	Presence              // the presence pulse was sent
	Rom                   // a ROM command is in progress
	Function              // addressed, exchanging a function code
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Reset:
		return "Reset"
	case Presence:
		return "Presence"
	case Rom:
		return "Rom"
	case Function:
		return "Function"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler answers function codes.
type Handler interface {
	// Function is called with the function code received once the device was
	// addressed. It returns the bytes to transmit, which are followed by
	// their CRC, or nil to end the transaction.
	//
	// It is called from the edge handler and must return quickly.
	Function(fn byte) []byte
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(fn byte) []byte

// Function implements Handler.
func (f HandlerFunc) Function(fn byte) []byte {
	return f(fn)
}

// Opts contains options to pass to the constructor.
type Opts struct {
	// Clock timestamps the edges. It must have microsecond resolution.
	Clock clockwork.Clock
	// Pull is applied when the line is released.
	Pull gpio.Pull
	// Handler answers the function codes, may be nil.
	Handler Handler
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Clock: clockwork.NewRealClock(),
	Pull:  gpio.Float,
}

// Status is a consistent copy of the protocol state record.
type Status struct {
	State        State
	Edge         time.Time // last falling edge
	CRC          byte      // CRC of the reply being transmitted
	Transactions int       // function codes received
}

// New returns a slave device with the identifier rom on the data pin q. The
// CRC byte of rom is generated.
//
// The device does not answer until Interrupt is called on edges, see Run.
func New(q gpio.PinIO, rom owi.ROM, opts *Opts) (*Device, error) {
	if q == nil || q == gpio.INVALID {
		return nil, errors.New("owislave: invalid data pin")
	}
	if opts == nil {
		opts = &DefaultOpts
	}
	d := &Device{q: q, clock: opts.Clock, pull: opts.Pull, handler: opts.Handler}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	if d.pull == gpio.PullNoChange {
		d.pull = gpio.Float
	}
	rom[7] = common.CRC8(rom[:7])
	d.rom = rom
	return d, nil
}

// Device is a 1-wire slave device.
//
// The state record is only mutated by Interrupt and is guarded by a mutex,
// read it with Snapshot.
type Device struct {
	q       gpio.PinIO
	clock   clockwork.Clock
	pull    gpio.Pull
	handler Handler
	rom     owi.ROM

	mu           sync.Mutex
	state        State
	edge         time.Time // last falling edge
	crc          byte      // CRC of the reply bits sent
	transactions int
	alarm        bool
	halted       bool
	err          error // persistent pin error

	step    step   // position in the ROM command or function
	bit     int    // bit index within the step
	acc     byte   // bits received
	out     []byte // bytes transmitted in the reply step
	low     bool   // a falling edge is waiting for its rising edge
	sending bool   // the device transmits in the current slot
	crcSent bool

	trace func(State) // called on each state change
}

type step int

const (
	command step = iota
	match
	searchBit
	searchComplement
	searchDirection
	readROM
	function
	reply
)

func (d *Device) String() string {
	return "owislave(" + d.q.String() + "){" + d.rom.String() + "}"
}

// ROM returns the identifier of the device.
func (d *Device) ROM() owi.ROM {
	return d.rom
}

// Halt implements conn.Resource.
//
// It releases the line and disables edge detection. Run returns nil at its
// next wake up and edges are ignored until Run is called again.
func (d *Device) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.halted = true
	d.setState(Idle)
	return d.q.In(d.pull, gpio.NoEdge)
}

// SetAlarm sets the alarm flag: the device answers alarm searches and reports
// it in the status byte.
func (d *Device) SetAlarm(alarm bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alarm = alarm
}

// Alarm returns the alarm flag.
func (d *Device) Alarm() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.alarm
}

// Snapshot returns a copy of the protocol state record.
func (d *Device) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{State: d.state, Edge: d.edge, CRC: d.crc, Transactions: d.transactions}
}

// Err returns the pin error that stopped the device, if any.
func (d *Device) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Run enables edge detection on the data line and calls Interrupt on every
// edge until ctx is done, Halt is called or the pin fails. It returns nil
// after Halt.
func (d *Device) Run(ctx context.Context) error {
	d.mu.Lock()
	d.halted = false
	err := d.q.In(d.pull, gpio.BothEdges)
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("owislave: failed to enable edge detection on %s: %w", d.q, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.q.WaitForEdge(100 * time.Millisecond) {
			d.Interrupt()
		}
		d.mu.Lock()
		halted, err := d.halted, d.err
		d.mu.Unlock()
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
}

// Interrupt is the edge handler. It samples the line and the clock and
// advances the protocol.
func (d *Device) Interrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil || d.halted {
		return
	}
	now := d.clock.Now()
	if d.q.Read() == gpio.Low {
		d.falling(now)
	} else {
		d.rising(now)
	}
}

func (d *Device) falling(now time.Time) {
	d.edge = now
	d.low = true
	if d.state != Rom && d.state != Function {
		return
	}
	var v byte
	switch d.step {
	case searchBit:
		v = d.romBit()
		d.step = searchComplement
	case searchComplement:
		v = d.romBit() ^ 1
		d.step = searchDirection
	case readROM:
		v = d.romBit()
		if d.bit++; d.bit == 8*owi.ROMSize {
			d.selected()
		}
	case reply:
		v = d.out[d.bit/8] >> uint(d.bit%8) & 1
		d.crc = common.CRC8Bit(d.crc, v)
		if d.bit++; d.bit == 8*len(d.out) {
			if d.crcSent {
				d.setState(Idle)
			} else {
				// The CRC follows the reply.
				d.out = append(d.out, d.crc)
				d.crcSent = true
			}
		}
	default:
		return
	}
	d.sending = true
	if v == 0 {
		d.pulse(0, tHold)
	}
}

func (d *Device) rising(now time.Time) {
	if !d.low {
		// Edge of a pulse sent by the device.
		return
	}
	d.low = false
	width := now.Sub(d.edge)
	if width >= tReset {
		// A reset aborts any transfer, including one where the device
		// transmits.
		d.setState(Reset)
		d.step = command
		d.bit = 0
		d.acc = 0
		d.out = nil
		d.crcSent = false
		d.sending = false
		d.pulse(tPresenceWait, tPresence)
		d.setState(Presence)
		return
	}
	if d.sending {
		d.sending = false
		return
	}
	if d.state == Idle || d.state == Reset {
		return
	}
	var v byte
	switch {
	case width < tBit1:
		v = 1
	case width <= tBit0:
	default:
		d.setState(Idle)
		return
	}
	if d.state == Presence {
		d.setState(Rom)
	}
	switch d.step {
	case command:
		if !d.receive(v) {
			return
		}
		d.romCommand(d.acc)
	case match:
		if v != d.romBit() {
			d.setState(Idle)
			return
		}
		if d.bit++; d.bit == 8*owi.ROMSize {
			d.selected()
		}
	case searchDirection:
		if v != d.romBit() {
			d.setState(Idle)
			return
		}
		if d.bit++; d.bit == 8*owi.ROMSize {
			d.selected()
			return
		}
		d.step = searchBit
	case function:
		if !d.receive(v) {
			return
		}
		d.function(d.acc)
	default:
		// A written bit while the device transmits.
		d.setState(Idle)
	}
}

func (d *Device) romCommand(cmd byte) {
	d.acc = 0
	switch cmd {
	case owi.CmdSearchROM:
		d.step = searchBit
	case owi.CmdAlarmSearch:
		if !d.alarm {
			d.setState(Idle)
			return
		}
		d.step = searchBit
	case owi.CmdMatchROM:
		d.step = match
	case owi.CmdSkipROM:
		d.selected()
	case owi.CmdReadROM:
		d.step = readROM
	default:
		d.setState(Idle)
	}
}

func (d *Device) function(fn byte) {
	d.transactions++
	var r []byte
	if d.handler != nil {
		r = d.handler.Function(fn)
	}
	if r == nil && fn == CmdStatus {
		var status byte
		if d.alarm {
			status = 1
		}
		r = []byte{status}
	}
	if len(r) == 0 {
		d.setState(Idle)
		return
	}
	d.out = append(make([]byte, 0, len(r)+1), r...)
	d.crc = 0
	d.crcSent = false
	d.step = reply
	d.bit = 0
}

// selected moves to the function step once the device is addressed.
func (d *Device) selected() {
	d.setState(Function)
	d.step = function
	d.bit = 0
	d.acc = 0
}

// receive shifts in a bit LSB first and returns true once a byte is
// complete in d.acc.
func (d *Device) receive(v byte) bool {
	d.acc |= v << uint(d.bit)
	if d.bit++; d.bit < 8 {
		return false
	}
	d.bit = 0
	return true
}

func (d *Device) romBit() byte {
	return d.rom[d.bit/8] >> uint(d.bit%8) & 1
}

// pulse drives the line low for width after wait, then releases it.
func (d *Device) pulse(wait, width time.Duration) {
	defer owi.Critical()()
	if wait != 0 {
		delay(wait)
	}
	if d.err = d.q.Out(gpio.Low); d.err != nil {
		return
	}
	delay(width)
	edge := gpio.BothEdges
	if d.halted {
		edge = gpio.NoEdge
	}
	d.err = d.q.In(d.pull, edge)
}

func (d *Device) setState(s State) {
	if s == d.state {
		return
	}
	d.state = s
	if s == Idle {
		d.step = command
		d.bit = 0
		d.acc = 0
		d.sending = false
	}
	if d.trace != nil {
		d.trace(s)
	}
}

var delay = owi.Delay

var _ conn.Resource = &Device{}
