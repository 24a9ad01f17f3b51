// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdma

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// Buffer is a fixed-capacity, page-aligned host buffer used as the
// source or destination of a DMA transfer.
//
// Bytes are appended with Write; DMA reads fill the buffer up to its
// capacity.
type Buffer struct {
	raw []byte // whole mapping
	mem []byte
	n   int
}

// NewBuffer allocates a page-aligned buffer able to hold size bytes.
func NewBuffer(size int) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("xdma: invalid buffer size %d", size)
	}
	page := os.Getpagesize()
	mlen := (size + page - 1) / page * page
	if mlen == 0 {
		mlen = page
	}
	mem, err := unix.Mmap(
		-1, 0, mlen,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, fmt.Errorf("xdma: could not allocate %d bytes buffer: %w", size, err)
	}
	buf := &Buffer{raw: mem, mem: mem[:size:size]}
	runtime.SetFinalizer(buf, (*Buffer).Free)
	return buf, nil
}

// Write appends p to the buffer.
// Write returns io.ErrShortWrite if p does not fit in the remaining capacity.
func (buf *Buffer) Write(p []byte) (int, error) {
	if buf.mem == nil {
		return 0, errFreed
	}
	n := copy(buf.mem[buf.n:], p)
	buf.n += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Bytes returns the filled part of the buffer.
func (buf *Buffer) Bytes() []byte { return buf.mem[:buf.n] }

// Len returns the number of filled bytes.
func (buf *Buffer) Len() int { return buf.n }

// Cap returns the capacity of the buffer.
func (buf *Buffer) Cap() int { return len(buf.mem) }

// Reset empties the buffer, keeping its storage.
func (buf *Buffer) Reset() { buf.n = 0 }

// Free releases the buffer storage.
func (buf *Buffer) Free() error {
	if buf.mem == nil {
		return nil
	}
	raw := buf.raw
	buf.raw = nil
	buf.mem = nil
	buf.n = 0
	runtime.SetFinalizer(buf, nil)
	return unix.Munmap(raw)
}

// fill marks the whole buffer as filled and returns its storage.
func (buf *Buffer) fill() []byte {
	buf.n = len(buf.mem)
	return buf.mem
}

var _ io.Writer = (*Buffer)(nil)
