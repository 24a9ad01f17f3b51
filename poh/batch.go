// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash is the content of a hash slot.
type Hash [HashSize]byte

// ParseHash decodes a hex-encoded hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, fmt.Errorf("poh: could not decode hash %q: %w", s, err)
	}
	if len(raw) != HashSize {
		return h, fmt.Errorf("poh: invalid hash length %d (want %d)", len(raw), HashSize)
	}
	copy(h[:], raw)
	return h, nil
}

func mustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Reverse returns h with its bytes in reverse order.
func (h Hash) Reverse() Hash {
	var o Hash
	for i, v := range h {
		o[HashSize-1-i] = v
	}
	return o
}

// ByteOrder is the convention used to lay hash values out in device memory.
//
// The same convention is applied to the input hashes written to the
// device and to the expected hashes the outputs are compared against.
type ByteOrder uint8

const (
	AsGiven  ByteOrder = iota // hashes are written and compared as given
	Reversed                  // hashes are byte-reversed before writing and comparing
)

// ParseByteOrder parses a byte order name ("as-given" or "reversed").
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "as-given", "asgiven", "":
		return AsGiven, nil
	case "reversed", "reverse":
		return Reversed, nil
	}
	return AsGiven, fmt.Errorf("poh: invalid byte order %q", s)
}

func (o ByteOrder) String() string {
	switch o {
	case AsGiven:
		return "as-given"
	case Reversed:
		return "reversed"
	}
	return fmt.Sprintf("byte-order(%d)", uint8(o))
}

// Apply returns h laid out following the byte order convention.
func (o ByteOrder) Apply(h Hash) Hash {
	if o == Reversed {
		return h.Reverse()
	}
	return h
}

// Slot is one unit of work of a batch.
type Slot struct {
	In    Hash   // input hash
	Iters uint64 // number of iterations
	Want  Hash   // expected output hash
}

// Batch is a set of slots processed by one run of the core.
type Batch struct {
	Slots []Slot
	Out   []Hash // output hashes, filled by a run, in slot order
}

// NewBatch returns a batch of n identical slots.
func NewBatch(n int, slot Slot) *Batch {
	b := &Batch{Slots: make([]Slot, n)}
	for i := range b.Slots {
		b.Slots[i] = slot
	}
	return b
}

// Len returns the number of slots of the batch.
func (b *Batch) Len() int { return len(b.Slots) }

// Verify compares each output slot with its expected hash, laid out with
// the provided byte order.
// Verify reports all mismatching slots, not only the first one.
func (b *Batch) Verify(order ByteOrder) error {
	if len(b.Out) != len(b.Slots) {
		return fmt.Errorf("poh: invalid number of outputs (got=%d, want=%d)", len(b.Out), len(b.Slots))
	}

	var mismatches []Mismatch
	for i, slot := range b.Slots {
		want := order.Apply(slot.Want)
		if b.Out[i] != want {
			mismatches = append(mismatches, Mismatch{
				Slot: i,
				Want: want,
				Got:  b.Out[i],
			})
		}
	}
	if len(mismatches) != 0 {
		return &VerifyError{Slots: len(b.Slots), Mismatches: mismatches}
	}
	return nil
}
