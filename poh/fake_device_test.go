// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/warp/xdma"
)

var quiet = WithMsgStream(log.NewMsgStream("poh", log.LvlError, io.Discard))

type regOp struct {
	write bool
	reg   Reg
	v     uint32
}

func (op regOp) String() string {
	if op.write {
		return fmt.Sprintf("w(%v)=0x%x", op.reg, op.v)
	}
	return fmt.Sprintf("r(%v)=0x%x", op.reg, op.v)
}

// fakeDevice replays a script of control register values and records
// every register access.
type fakeDevice struct {
	mu   sync.Mutex
	base uint64
	ctrl []uint32 // scripted control register reads
	last uint32   // value returned once the script is exhausted
	regs map[Reg]uint32
	ops  []regOp

	rerr map[Reg]error // read failures, per register
	werr map[Reg]error // write failures, per register
}

func newFakeDevice(ctrl ...uint32) *fakeDevice {
	return &fakeDevice{
		base: VariumC1100Base,
		ctrl: ctrl,
		regs: make(map[Reg]uint32),
		rerr: make(map[Reg]error),
		werr: make(map[Reg]error),
	}
}

func (dev *fakeDevice) ReadRegister(dst []byte, addr uint64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	reg := Reg(addr - dev.base)
	if err := dev.rerr[reg]; err != nil {
		return err
	}
	v := dev.regs[reg]
	if reg == RegControl {
		v = dev.last
		if len(dev.ctrl) > 0 {
			v = dev.ctrl[0]
			dev.ctrl = dev.ctrl[1:]
		}
	}
	binary.LittleEndian.PutUint32(dst, v)
	dev.ops = append(dev.ops, regOp{reg: reg, v: v})
	return nil
}

func (dev *fakeDevice) WriteRegister(src []byte, addr uint64) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	reg := Reg(addr - dev.base)
	if err := dev.werr[reg]; err != nil {
		return err
	}
	if len(src) != 4 {
		return fmt.Errorf("fake: invalid register write size %d", len(src))
	}
	v := binary.LittleEndian.Uint32(src)
	dev.regs[reg] = v
	dev.ops = append(dev.ops, regOp{write: true, reg: reg, v: v})
	return nil
}

// failingDMA wraps a DMA device and fails the selected transfers.
type failingDMA struct {
	DMA
	werr error
	rerr error
}

func (dev *failingDMA) DMAWrite(buf *xdma.Buffer, off uint64) error {
	if dev.werr != nil {
		return dev.werr
	}
	return dev.DMA.DMAWrite(buf, off)
}

func (dev *failingDMA) DMARead(buf *xdma.Buffer, off uint64) error {
	if dev.rerr != nil {
		return dev.rerr
	}
	return dev.DMA.DMARead(buf, off)
}

var (
	_ Transport = (*fakeDevice)(nil)
	_ DMA       = (*failingDMA)(nil)
)
