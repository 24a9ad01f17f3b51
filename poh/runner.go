// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/warp/xdma"
)

// DMA gives access to the registers and to the memory of a card.
type DMA interface {
	Transport

	// DMAWrite transfers the filled part of buf to device memory at off.
	DMAWrite(buf *xdma.Buffer, off uint64) error
	// DMARead fills buf, up to its capacity, from device memory at off.
	DMARead(buf *xdma.Buffer, off uint64) error
}

// Runner stages batches in device memory and drives the core over them.
//
// Like Core, a Runner owns its device exclusively while a batch runs.
// Several batches may be run sequentially with the same Runner.
type Runner struct {
	dev  DMA
	core *Core
	cfg  config
	msg  log.MsgStream
}

// NewRunner returns a runner for the PoH core of dev.
func NewRunner(dev DMA, opts ...Option) *Runner {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	core := newCore(dev, cfg)
	return &Runner{
		dev:  dev,
		core: core,
		cfg:  core.cfg,
		msg:  core.msg,
	}
}

// Core returns the control protocol driven by the runner.
func (r *Runner) Core() *Core { return r.core }

// ByteOrder returns the hash byte order convention of the runner.
func (r *Runner) ByteOrder() ByteOrder { return r.cfg.order }

// Run processes the batch b on the device and stores the output hashes
// in b.Out, in slot order.
func (r *Runner) Run(ctx context.Context, b *Batch) error {
	var (
		n     = b.Len()
		addrs = r.cfg.addrs
	)
	b.Out = nil

	err := addrs.Validate(n)
	if err != nil {
		return fmt.Errorf("poh: invalid batch layout: %w", err)
	}

	hashes, err := xdma.NewBuffer(n * HashSize)
	if err != nil {
		return fmt.Errorf("poh: could not allocate in-hashes buffer: %w", err)
	}
	defer hashes.Free()

	iters, err := xdma.NewBuffer(n * IterSize)
	if err != nil {
		return fmt.Errorf("poh: could not allocate num-iters buffer: %w", err)
	}
	defer iters.Free()

	var word [IterSize]byte
	for i, slot := range b.Slots {
		in := r.cfg.order.Apply(slot.In)
		_, err = hashes.Write(in[:])
		if err != nil {
			return fmt.Errorf("poh: could not stage in-hash of slot %d: %w", i, err)
		}
		binary.LittleEndian.PutUint64(word[:], slot.Iters)
		_, err = iters.Write(word[:])
		if err != nil {
			return fmt.Errorf("poh: could not stage num-iters of slot %d: %w", i, err)
		}
	}

	err = r.core.Initialize(ctx, addrs, uint32(n))
	if err != nil {
		return fmt.Errorf("poh: could not initialize core: %w", err)
	}

	err = r.dmaWrite(hashes, addrs.InHashes, "in-hashes")
	if err != nil {
		return err
	}

	err = r.dmaWrite(iters, addrs.NumIters, "num-iters")
	if err != nil {
		return err
	}

	err = r.core.Run(ctx)
	if err != nil {
		return fmt.Errorf("poh: could not run core: %w", err)
	}

	out, err := xdma.NewBuffer(n * HashSize)
	if err != nil {
		return fmt.Errorf("poh: could not allocate out-hashes buffer: %w", err)
	}
	defer out.Free()

	err = r.dev.DMARead(out, addrs.OutHashes)
	if err != nil {
		r.core.state = StateFault
		return fmt.Errorf(
			"poh: could not read out-hashes: %w",
			&TransportError{Op: "dma-read out-hashes", Addr: addrs.OutHashes, Err: err},
		)
	}

	raw := out.Bytes()
	if len(raw) != n*HashSize {
		return fmt.Errorf("poh: short out-hashes read (got=%d, want=%d)", len(raw), n*HashSize)
	}
	b.Out = make([]Hash, n)
	for i := range b.Out {
		copy(b.Out[i][:], raw[i*HashSize:(i+1)*HashSize])
	}
	r.msg.Debugf("batch of %d slot(s) processed", n)

	return nil
}

func (r *Runner) dmaWrite(buf *xdma.Buffer, off uint64, name string) error {
	err := r.dev.DMAWrite(buf, off)
	if err != nil {
		r.core.state = StateFault
		return fmt.Errorf(
			"poh: could not write %s: %w", name,
			&TransportError{Op: "dma-write " + name, Addr: off, Err: err},
		)
	}
	return nil
}

// Check runs the batch b and verifies its outputs with the byte order
// convention of the runner.
func (r *Runner) Check(ctx context.Context, b *Batch) error {
	err := r.Run(ctx, b)
	if err != nil {
		return err
	}
	return b.Verify(r.cfg.order)
}
