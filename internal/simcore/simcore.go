// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package simcore simulates a card hosting a PoH core: its control and
// configuration registers, and the device memory reached through DMA.
package simcore // import "github.com/go-lpc/warp/internal/simcore"

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-lpc/warp/xdma"
)

const (
	hashSize = 32
	iterSize = 8

	ctrlStart = 1 << 0
	ctrlDone  = 1 << 1
	ctrlIdle  = 1 << 2

	offControl   = 0x00
	offInLo      = 0x10
	offInHi      = 0x14
	offItersLo   = 0x1c
	offItersHi   = 0x20
	offNumHashes = 0x28
	offOutLo     = 0x30
	offOutHi     = 0x34
	offEnd       = 0x38
)

// HashFunc computes the output of one slot from its input hash and
// number of iterations.
type HashFunc func(in [hashSize]byte, iters uint64) [hashSize]byte

// SHA256 chains iters SHA-256 hashes starting from in.
func SHA256(in [hashSize]byte, iters uint64) [hashSize]byte {
	h := in
	for i := uint64(0); i < iters; i++ {
		h = sha256.Sum256(h[:])
	}
	return h
}

// ReversedSHA256 is SHA256 for a core that reads and writes hashes
// in reversed byte order.
func ReversedSHA256(in [hashSize]byte, iters uint64) [hashSize]byte {
	return reverse(SHA256(reverse(in), iters))
}

func reverse(h [hashSize]byte) [hashSize]byte {
	var o [hashSize]byte
	for i, v := range h {
		o[hashSize-1-i] = v
	}
	return o
}

// Op is a register access recorded by the simulator.
type Op struct {
	Write bool
	Addr  uint64
	Value uint32
}

func (op Op) String() string {
	if op.Write {
		return fmt.Sprintf("w[0x%x]=0x%08x", op.Addr, op.Value)
	}
	return fmt.Sprintf("r[0x%x]=0x%08x", op.Addr, op.Value)
}

// Option configures a simulated card.
type Option func(*Card)

// WithBase sets the base address of the core registers.
func WithBase(base uint64) Option {
	return func(c *Card) { c.base = base }
}

// WithMemSize sets the size of the device memory.
func WithMemSize(n int) Option {
	return func(c *Card) { c.mem = make([]byte, n) }
}

// WithHash sets the function computed by the core.
func WithHash(f HashFunc) Option {
	return func(c *Card) { c.hash = f }
}

// WithBusy sets the number of control register reads a run lasts.
func WithBusy(n int) Option {
	return func(c *Card) { c.busy = n }
}

// WithBootPolls sets the number of control register reads before the
// core reports Idle for the first time.
func WithBootPolls(n int) Option {
	return func(c *Card) { c.boot = n }
}

// WithTrace enables the recording of register accesses.
func WithTrace() Option {
	return func(c *Card) { c.trace = true }
}

// Card is a simulated card.
// Card is safe for concurrent use, although the control protocol
// expects a single owner.
type Card struct {
	mu sync.Mutex

	base uint64
	regs [offEnd / 4]uint32
	mem  []byte
	hash HashFunc

	boot    int // remaining reads before idle
	busy    int // reads per run
	left    int // remaining reads of the current run
	running bool
	done    bool
	runs    int
	err     error // last simulation error

	trace bool
	ops   []Op
}

// New returns a simulated card.
func New(opts ...Option) *Card {
	c := &Card{
		base: 0x0005_0000,
		mem:  make([]byte, 1<<16),
		hash: SHA256,
		busy: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Runs returns the number of completed runs.
func (c *Card) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// Err returns the last error met while computing a run.
func (c *Card) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Ops returns the recorded register accesses.
func (c *Card) Ops() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Op(nil), c.ops...)
}

// Mem returns the device memory.
func (c *Card) Mem() []byte { return c.mem }

func (c *Card) offset(addr uint64, n int) (int, error) {
	if addr < c.base || addr+uint64(n) > c.base+offEnd || (addr-c.base)%4 != 0 {
		return 0, fmt.Errorf("simcore: invalid register address 0x%x", addr)
	}
	return int(addr - c.base), nil
}

// ReadRegister reads the 4-byte register at addr.
// Reading the control register advances the simulation by one step.
func (c *Card) ReadRegister(dst []byte, addr uint64) error {
	if len(dst) != 4 {
		return fmt.Errorf("simcore: invalid register read size %d", len(dst))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	off, err := c.offset(addr, 4)
	if err != nil {
		return err
	}

	v := c.regs[off/4]
	if off == offControl {
		v = c.control()
	}
	binary.LittleEndian.PutUint32(dst, v)
	if c.trace {
		c.ops = append(c.ops, Op{Addr: addr, Value: v})
	}
	return nil
}

func (c *Card) control() uint32 {
	if c.boot > 0 {
		c.boot--
		return 0
	}

	if c.running {
		if c.left > 0 {
			c.left--
		} else {
			c.compute()
			c.running = false
			c.done = true
			c.runs++
		}
	}

	var v uint32
	switch {
	case c.running:
		v |= ctrlStart
	default:
		v |= ctrlIdle
	}
	if c.done {
		v |= ctrlDone
		c.done = false
	}
	return v
}

// WriteRegister writes src, a sequence of 4-byte words, at addr.
// Writing the start bit to the control register starts a run.
func (c *Card) WriteRegister(src []byte, addr uint64) error {
	if len(src) == 0 || len(src)%4 != 0 {
		return fmt.Errorf("simcore: invalid register write size %d", len(src))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	off, err := c.offset(addr, len(src))
	if err != nil {
		return err
	}

	for i := 0; i < len(src); i += 4 {
		v := binary.LittleEndian.Uint32(src[i:])
		if c.trace {
			c.ops = append(c.ops, Op{Write: true, Addr: addr + uint64(i), Value: v})
		}
		if off+i == offControl {
			if v&ctrlStart != 0 && !c.running {
				c.running = true
				c.left = c.busy
			}
			continue
		}
		c.regs[(off+i)/4] = v
	}
	return nil
}

func (c *Card) reg64(lo, hi int) uint64 {
	return uint64(c.regs[hi/4])<<32 | uint64(c.regs[lo/4])
}

func (c *Card) compute() {
	var (
		in    = c.reg64(offInLo, offInHi)
		iters = c.reg64(offItersLo, offItersHi)
		out   = c.reg64(offOutLo, offOutHi)
		n     = uint64(c.regs[offNumHashes/4])
		size  = uint64(len(c.mem))
	)
	c.err = nil
	for i := uint64(0); i < n; i++ {
		var (
			src = in + i*hashSize
			cnt = iters + i*iterSize
			dst = out + i*hashSize
		)
		if src+hashSize > size || cnt+iterSize > size || dst+hashSize > size {
			c.err = fmt.Errorf("simcore: slot %d out of device memory (size=%d)", i, size)
			return
		}
		var h [hashSize]byte
		copy(h[:], c.mem[src:])
		res := c.hash(h, binary.LittleEndian.Uint64(c.mem[cnt:]))
		copy(c.mem[dst:], res[:])
	}
}

// DMAWrite copies the filled part of buf into device memory at off.
func (c *Card) DMAWrite(buf *xdma.Buffer, off uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := buf.Bytes()
	if off+uint64(len(p)) > uint64(len(c.mem)) {
		return fmt.Errorf("simcore: dma-write of %d bytes at 0x%x out of device memory", len(p), off)
	}
	copy(c.mem[off:], p)
	return nil
}

// DMARead fills buf, up to its capacity, from device memory at off.
func (c *Card) DMARead(buf *xdma.Buffer, off uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := uint64(buf.Cap())
	if off+n > uint64(len(c.mem)) {
		return fmt.Errorf("simcore: dma-read of %d bytes at 0x%x out of device memory", n, off)
	}
	buf.Reset()
	_, err := buf.Write(c.mem[off : off+n])
	if err != nil {
		return fmt.Errorf("simcore: dma-read: %w", err)
	}
	return nil
}
