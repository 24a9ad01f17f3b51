// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

import (
	"encoding/binary"
	"fmt"
	"sort"
)

const (
	HashSize = 32 // size of a hash slot, in bytes
	IterSize = 8  // size of an iteration-count slot, in bytes

	regionAlign = 64 // alignment of packed regions
)

// SplitAddr splits a 64-bit device address into its low and high 32-bit halves.
func SplitAddr(a uint64) (lo, hi uint32) {
	return uint32(a), uint32(a >> 32)
}

// JoinAddr reassembles a 64-bit device address from its 32-bit halves.
func JoinAddr(lo, hi uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}

// putAddr encodes a as two little-endian register words, low word first.
func putAddr(p *[8]byte, a uint64) {
	lo, hi := SplitAddr(a)
	binary.LittleEndian.PutUint32(p[0:4], lo)
	binary.LittleEndian.PutUint32(p[4:8], hi)
}

// BaseAddrs holds the device-memory offsets of the three data regions
// of a batch.
type BaseAddrs struct {
	InHashes  uint64 // input hashes, HashSize bytes per slot
	NumIters  uint64 // iteration counts, IterSize bytes per slot
	OutHashes uint64 // output hashes, HashSize bytes per slot
}

// DefaultBaseAddrs is the fixed layout used by the verification drivers.
var DefaultBaseAddrs = BaseAddrs{
	InHashes:  0,
	NumIters:  4096,
	OutHashes: 8192,
}

// PackedBaseAddrs returns a layout for n slots where the three regions
// are packed back to back from origin, each aligned on 64 bytes.
func PackedBaseAddrs(origin uint64, n int) BaseAddrs {
	var (
		in    = alignUp(origin)
		iters = alignUp(in + uint64(n)*HashSize)
		out   = alignUp(iters + uint64(n)*IterSize)
	)
	return BaseAddrs{
		InHashes:  in,
		NumIters:  iters,
		OutHashes: out,
	}
}

func alignUp(v uint64) uint64 {
	return (v + regionAlign - 1) / regionAlign * regionAlign
}

type region struct {
	name string
	beg  uint64
	end  uint64
}

func (addrs BaseAddrs) regions(n int) [3]region {
	return [3]region{
		{"in-hashes", addrs.InHashes, addrs.InHashes + uint64(n)*HashSize},
		{"num-iters", addrs.NumIters, addrs.NumIters + uint64(n)*IterSize},
		{"out-hashes", addrs.OutHashes, addrs.OutHashes + uint64(n)*HashSize},
	}
}

// Validate checks the three regions do not overlap for a batch of n slots.
func (addrs BaseAddrs) Validate(n int) error {
	if n < 1 {
		return fmt.Errorf("poh: invalid number of slots %d", n)
	}
	if uint64(n) > 1<<32-1 {
		return fmt.Errorf("poh: too many slots %d", n)
	}

	rs := addrs.regions(n)
	for _, r := range rs {
		if r.end < r.beg {
			return fmt.Errorf("poh: %s region overflows the address space (base=0x%x)", r.name, r.beg)
		}
	}
	sort.Slice(rs[:], func(i, j int) bool { return rs[i].beg < rs[j].beg })
	for i := 1; i < len(rs); i++ {
		prev, cur := rs[i-1], rs[i]
		if cur.beg < prev.end {
			return fmt.Errorf(
				"poh: %s region [0x%x, 0x%x) overlaps %s region [0x%x, 0x%x) for %d slots",
				cur.name, cur.beg, cur.end, prev.name, prev.beg, prev.end, n,
			)
		}
	}
	return nil
}

// ArenaSize returns the device-memory size needed to hold n slots,
// ie: the end of the highest region.
func (addrs BaseAddrs) ArenaSize(n int) uint64 {
	var end uint64
	for _, r := range addrs.regions(n) {
		if r.end > end {
			end = r.end
		}
	}
	return end
}
