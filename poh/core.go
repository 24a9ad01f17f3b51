// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package poh drives the PoH hash-chaining core of an FPGA card through
// its register interface, and stages batches of hashes in device memory.
package poh // import "github.com/go-lpc/warp/poh"

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/go-daq/tdaq/log"
)

// Transport gives access to the memory-mapped registers of a card.
type Transport interface {
	// ReadRegister reads the 4-byte register at the absolute address addr.
	ReadRegister(dst []byte, addr uint64) error
	// WriteRegister writes src at the absolute register address addr.
	WriteRegister(src []byte, addr uint64) error
}

// State is the state of the control protocol, as seen from the host.
type State uint8

const (
	StateIdle        State = iota // initial state, no configuration written
	StateConfiguring              // configuration registers written, ready to run
	StateRunning                  // start issued, waiting for done
	StateDone                     // done observed and acknowledged
	StateFault                    // a transfer failed or timed out: device state is undefined
)

func (st State) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFault:
		return "fault"
	}
	return fmt.Sprintf("state(%d)", uint8(st))
}

// Core controls one PoH core.
//
// A Core holds exclusive ownership of the underlying transport for the
// duration of a run: it must not be used concurrently, and no other
// session may access the same device while a run is in progress.
type Core struct {
	dev   Transport
	cfg   config
	msg   log.MsgStream
	state State

	xbuf [8]byte
}

// New returns a Core controlling the PoH core reachable through dev.
func New(dev Transport, opts ...Option) *Core {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newCore(dev, cfg)
}

func newCore(dev Transport, cfg config) *Core {
	return &Core{
		dev:   dev,
		cfg:   cfg,
		msg:   cfg.msgstream(),
		state: StateIdle,
	}
}

// State returns the current protocol state.
func (c *Core) State() State { return c.state }

func (c *Core) addr(reg Reg) uint64 {
	return c.cfg.base + uint64(reg)
}

func (c *Core) readU32(reg Reg) (uint32, error) {
	addr := c.addr(reg)
	err := c.dev.ReadRegister(c.xbuf[:4], addr)
	if err != nil {
		return 0, &TransportError{Op: "read " + reg.String(), Addr: addr, Err: err}
	}
	return binary.LittleEndian.Uint32(c.xbuf[:4]), nil
}

func (c *Core) writeU32(reg Reg, v uint32) error {
	addr := c.addr(reg)
	binary.LittleEndian.PutUint32(c.xbuf[:4], v)
	err := c.dev.WriteRegister(c.xbuf[:4], addr)
	if err != nil {
		return &TransportError{Op: "write " + reg.String(), Addr: addr, Err: err}
	}
	return nil
}

// writeAddr writes the 64-bit address a as two independent register
// writes: low word into lo, then high word into hi.
func (c *Core) writeAddr(lo, hi Reg, a uint64) error {
	putAddr(&c.xbuf, a)
	for _, w := range []struct {
		reg Reg
		p   []byte
	}{
		{lo, c.xbuf[0:4]},
		{hi, c.xbuf[4:8]},
	} {
		addr := c.addr(w.reg)
		err := c.dev.WriteRegister(w.p, addr)
		if err != nil {
			return &TransportError{Op: "write " + w.reg.String(), Addr: addr, Err: err}
		}
	}
	return nil
}

// wait polls the control register until bit reads set.
//
// The read that observes bit is the last read of the control register:
// for the clear-on-read Done bit, it is also the acknowledgement.
func (c *Core) wait(ctx context.Context, bit ControlBit) error {
	var (
		delay   = c.cfg.poll.min
		timeout = c.cfg.poll.timeout
		start   = time.Now()
		timer   *time.Timer
		nreads  = 0
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		v, err := c.readU32(RegControl)
		if err != nil {
			return err
		}
		nreads++
		if bit.isSet(v) {
			c.msg.Debugf("control=0x%08x: %v after %d read(s)", v, bit, nreads)
			return nil
		}

		if timeout > 0 && time.Since(start) >= timeout {
			return fmt.Errorf(
				"poh: %v not observed after %d read(s) (control=0x%08x, timeout=%v): %w",
				bit, nreads, v, timeout, ErrTimeout,
			)
		}

		if timer == nil {
			timer = time.NewTimer(delay)
		} else {
			timer.Reset(delay)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("poh: waiting for %v: %w", bit, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > c.cfg.poll.max {
			delay = c.cfg.poll.max
		}
	}
}

// Initialize waits for the core to report Idle and then programs the
// base addresses of the data regions and the number of hashes of the
// next run.
//
// No configuration register is written before Idle has been observed.
// On error, the device register state is undefined.
func (c *Core) Initialize(ctx context.Context, addrs BaseAddrs, n uint32) error {
	err := addrs.Validate(int(n))
	if err != nil {
		return fmt.Errorf("poh: invalid layout: %w", err)
	}

	c.msg.Debugf("waiting for idle...")
	err = c.wait(ctx, CtrlIdle)
	if err != nil {
		c.state = StateFault
		return fmt.Errorf("poh: could not wait for idle core: %w", err)
	}
	c.state = StateConfiguring

	err = c.writeAddr(RegInHashesLo, RegInHashesHi, addrs.InHashes)
	if err != nil {
		c.state = StateFault
		return fmt.Errorf("poh: could not write in-hashes base address: %w", err)
	}

	err = c.writeAddr(RegNumItersLo, RegNumItersHi, addrs.NumIters)
	if err != nil {
		c.state = StateFault
		return fmt.Errorf("poh: could not write num-iters base address: %w", err)
	}

	err = c.writeU32(RegNumHashes, n)
	if err != nil {
		c.state = StateFault
		return fmt.Errorf("poh: could not write number of hashes: %w", err)
	}

	err = c.writeAddr(RegOutHashesLo, RegOutHashesHi, addrs.OutHashes)
	if err != nil {
		c.state = StateFault
		return fmt.Errorf("poh: could not write out-hashes base address: %w", err)
	}

	c.msg.Debugf(
		"configured: in=0x%x, iters=0x%x, out=0x%x, n=%d",
		addrs.InHashes, addrs.NumIters, addrs.OutHashes, n,
	)
	return nil
}

// Run starts the configured core and waits until it reports Done.
//
// Done is clear-on-read: the read that observed it acknowledged it, so
// a subsequent read of the control register may show it cleared even
// though the run completed.
func (c *Core) Run(ctx context.Context) error {
	if c.state != StateConfiguring {
		return fmt.Errorf("poh: could not run core in state %v: %w", c.state, ErrNotConfigured)
	}

	c.state = StateRunning
	err := c.writeU32(RegControl, uint32(CtrlStart))
	if err != nil {
		c.state = StateFault
		return fmt.Errorf("poh: could not send start command: %w", err)
	}

	err = c.wait(ctx, CtrlDone)
	if err != nil {
		c.state = StateFault
		return fmt.Errorf("poh: could not wait for done core: %w", err)
	}
	c.state = StateDone

	return nil
}

// DumpRegisters writes the content of the configuration registers to w.
// The control register is not read, so a pending Done is left untouched.
func (c *Core) DumpRegisters(w io.Writer) error {
	var (
		buf  = bufio.NewWriter(w)
		vals = make(map[Reg]uint32)
	)
	defer buf.Flush()

	for _, reg := range Regs() {
		if reg == RegControl {
			continue
		}
		v, err := c.readU32(reg)
		if err != nil {
			return fmt.Errorf("poh: could not dump registers: %w", err)
		}
		vals[reg] = v
		fmt.Fprintf(buf, "%-14s (0x%02x)= 0x%08x\n", reg, uint64(reg), v)
	}
	fmt.Fprintf(buf, "in-hashes base=  0x%x\n", JoinAddr(vals[RegInHashesLo], vals[RegInHashesHi]))
	fmt.Fprintf(buf, "num-iters base=  0x%x\n", JoinAddr(vals[RegNumItersLo], vals[RegNumItersHi]))
	fmt.Fprintf(buf, "out-hashes base= 0x%x\n", JoinAddr(vals[RegOutHashesLo], vals[RegOutHashesHi]))
	fmt.Fprintf(buf, "protocol state=  %v\n", c.state)

	err := buf.Flush()
	if err != nil {
		return fmt.Errorf("poh: could not dump registers: %w", err)
	}
	return nil
}
