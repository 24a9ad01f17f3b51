// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xdma provides access to an FPGA card through the Xilinx XDMA
// character devices: memory-mapped user registers and host-to-card /
// card-to-host DMA channels.
package xdma // import "github.com/go-lpc/warp/xdma"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-lpc/warp/internal/mmap"
	"golang.org/x/sys/unix"
)

const (
	regSize = 4 // size of a user register, in bytes
)

var (
	errFreed  = errors.New("xdma: buffer freed")
	errClosed = errors.New("xdma: device closed")
)

type config struct {
	dir  string // directory holding the XDMA device nodes
	user int    // size of the user BAR mapping
	ch   int    // DMA channel
}

func newConfig() config {
	return config{
		dir:  "/dev",
		user: 1 << 20,
		ch:   0,
	}
}

// Option configures how an XDMA device is opened.
type Option func(*config)

// WithDevDir sets the directory holding the XDMA device nodes.
func WithDevDir(dir string) Option {
	return func(cfg *config) {
		cfg.dir = dir
	}
}

// WithUserSize sets the size of the user BAR window to map.
func WithUserSize(n int) Option {
	return func(cfg *config) {
		cfg.user = n
	}
}

// WithChannel selects the H2C/C2H DMA channel pair.
func WithChannel(ch int) Option {
	return func(cfg *config) {
		cfg.ch = ch
	}
}

// Device is an XDMA-attached FPGA card.
//
// A Device must be owned by a single session at a time.
type Device struct {
	id   int
	user *mmap.Handle
	h2c  *os.File
	c2h  *os.File
}

// Open opens the XDMA card with the provided index.
func Open(id int, opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		user = filepath.Join(cfg.dir, fmt.Sprintf("xdma%d_user", id))
		h2c  = filepath.Join(cfg.dir, fmt.Sprintf("xdma%d_h2c_%d", id, cfg.ch))
		c2h  = filepath.Join(cfg.dir, fmt.Sprintf("xdma%d_c2h_%d", id, cfg.ch))
		dev  = &Device{id: id}
		err  error
	)

	dev.user, err = mmap.Open(user, 0, cfg.user)
	if err != nil {
		return nil, fmt.Errorf("xdma: could not map user registers of card %d: %w", id, err)
	}
	defer func() {
		if err != nil {
			_ = dev.Close()
		}
	}()

	dev.h2c, err = os.OpenFile(h2c, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("xdma: could not open host-to-card channel: %w", err)
	}

	dev.c2h, err = os.OpenFile(c2h, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("xdma: could not open card-to-host channel: %w", err)
	}

	return dev, nil
}

// ID returns the card index.
func (dev *Device) ID() int { return dev.id }

// Close releases the register mapping and the DMA channels.
func (dev *Device) Close() error {
	if dev.user == nil && dev.h2c == nil && dev.c2h == nil {
		return nil
	}

	var errUser, errH2C, errC2H error
	if dev.user != nil {
		errUser = dev.user.Close()
	}
	if dev.h2c != nil {
		errH2C = dev.h2c.Close()
	}
	if dev.c2h != nil {
		errC2H = dev.c2h.Close()
	}
	dev.user = nil
	dev.h2c = nil
	dev.c2h = nil

	if errUser != nil {
		return fmt.Errorf("xdma: could not close user registers: %w", errUser)
	}
	if errH2C != nil {
		return fmt.Errorf("xdma: could not close host-to-card channel: %w", errH2C)
	}
	if errC2H != nil {
		return fmt.Errorf("xdma: could not close card-to-host channel: %w", errC2H)
	}
	return nil
}

// ReadRegister reads the 4-byte user register at addr into dst.
func (dev *Device) ReadRegister(dst []byte, addr uint64) error {
	if len(dst) != regSize {
		return fmt.Errorf("xdma: invalid register read size %d", len(dst))
	}
	if dev.user == nil {
		return errClosed
	}
	_, err := dev.user.ReadAt(dst, int64(addr))
	if err != nil {
		return fmt.Errorf("xdma: could not read register 0x%x: %w", addr, err)
	}
	return nil
}

// WriteRegister writes src to the user register space at addr.
func (dev *Device) WriteRegister(src []byte, addr uint64) error {
	if len(src) == 0 || len(src)%regSize != 0 {
		return fmt.Errorf("xdma: invalid register write size %d", len(src))
	}
	if dev.user == nil {
		return errClosed
	}
	_, err := dev.user.WriteAt(src, int64(addr))
	if err != nil {
		return fmt.Errorf("xdma: could not write register 0x%x: %w", addr, err)
	}
	return nil
}

// DMAWrite transfers the filled part of buf to card memory at offset off.
func (dev *Device) DMAWrite(buf *Buffer, off uint64) error {
	if dev.h2c == nil {
		return errClosed
	}
	p := buf.Bytes()
	for len(p) > 0 {
		n, err := unix.Pwrite(int(dev.h2c.Fd()), p, int64(off))
		if err != nil {
			return fmt.Errorf("xdma: could not write %d bytes at 0x%x: %w", len(p), off, err)
		}
		if n == 0 {
			return fmt.Errorf("xdma: could not write %d bytes at 0x%x: %w", len(p), off, io.ErrShortWrite)
		}
		p = p[n:]
		off += uint64(n)
	}
	return nil
}

// DMARead fills buf, up to its capacity, from card memory at offset off.
func (dev *Device) DMARead(buf *Buffer, off uint64) error {
	if dev.c2h == nil {
		return errClosed
	}
	p := buf.fill()
	for len(p) > 0 {
		n, err := unix.Pread(int(dev.c2h.Fd()), p, int64(off))
		if err != nil {
			buf.Reset()
			return fmt.Errorf("xdma: could not read %d bytes at 0x%x: %w", len(p), off, err)
		}
		if n == 0 {
			buf.Reset()
			return fmt.Errorf("xdma: could not read %d bytes at 0x%x: %w", len(p), off, io.ErrUnexpectedEOF)
		}
		p = p[n:]
		off += uint64(n)
	}
	return nil
}
