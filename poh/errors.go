// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout is returned when the core does not reach the awaited
	// state before the configured timeout.
	ErrTimeout = errors.New("poh: timeout")

	// ErrNotConfigured is returned by Run when the core has not been
	// initialized since the last run.
	ErrNotConfigured = errors.New("poh: core not configured")

	// ErrMismatch is matched by verification failures.
	ErrMismatch = errors.New("poh: verification mismatch")
)

// TransportError wraps a failure of the register or DMA transport.
type TransportError struct {
	Op   string // failed operation
	Addr uint64 // register or device-memory address
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("poh: transport failure (%s @0x%x): %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Mismatch describes one output slot that differs from its expected hash.
type Mismatch struct {
	Slot int
	Want Hash
	Got  Hash
}

func (m Mismatch) String() string {
	return fmt.Sprintf("slot[%d]: got=%v, want=%v", m.Slot, m.Got, m.Want)
}

// VerifyError lists all the mismatching slots of a batch.
type VerifyError struct {
	Slots      int // number of verified slots
	Mismatches []Mismatch
}

func (e *VerifyError) Error() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "poh: %d/%d slot(s) mismatch", len(e.Mismatches), e.Slots)
	for _, m := range e.Mismatches {
		fmt.Fprintf(o, "\n%v", m)
	}
	return o.String()
}

func (e *VerifyError) Is(target error) bool { return target == ErrMismatch }
