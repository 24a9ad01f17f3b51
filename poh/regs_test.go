// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

import "testing"

func TestRegs(t *testing.T) {
	want := []struct {
		reg  Reg
		off  uint64
		name string
	}{
		{RegControl, 0x00, "control"},
		{RegGlobalIntrEnable, 0x04, "gie"},
		{RegIPIntrEnable, 0x08, "ier"},
		{RegIPIntrStatus, 0x0c, "isr"},
		{RegInHashesLo, 0x10, "in_hashes_lo"},
		{RegInHashesHi, 0x14, "in_hashes_hi"},
		{RegNumItersLo, 0x1c, "num_iters_lo"},
		{RegNumItersHi, 0x20, "num_iters_hi"},
		{RegNumHashes, 0x28, "num_hashes"},
		{RegOutHashesLo, 0x30, "out_hashes_lo"},
		{RegOutHashesHi, 0x34, "out_hashes_hi"},
	}

	regs := Regs()
	if got, want := len(regs), len(want); got != want {
		t.Fatalf("invalid number of registers: got=%d, want=%d", got, want)
	}
	for i, reg := range regs {
		if got, want := reg, want[i].reg; got != want {
			t.Fatalf("invalid register[%d]: got=%v, want=%v", i, got, want)
		}
		if got, want := uint64(reg), want[i].off; got != want {
			t.Fatalf("invalid offset for %v: got=0x%x, want=0x%x", reg, got, want)
		}
		if got, want := reg.String(), want[i].name; got != want {
			t.Fatalf("invalid name: got=%q, want=%q", got, want)
		}
	}

	if got, want := Reg(0x18).String(), "reg(0x18)"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}
}

func TestControlBits(t *testing.T) {
	for _, tc := range []struct {
		bit  ControlBit
		v    uint32
		name string
	}{
		{CtrlStart, 0x1, "start"},
		{CtrlDone, 0x2, "done"},
		{CtrlIdle, 0x4, "idle"},
		{CtrlReady, 0x8, "ready"},
		{CtrlAutoRestart, 0x1000_0000, "auto-restart"},
		{ControlBit(0x40), 0x40, "ctrl(0x40)"},
	} {
		if got, want := uint32(tc.bit), tc.v; got != want {
			t.Fatalf("invalid bit value: got=0x%x, want=0x%x", got, want)
		}
		if got, want := tc.bit.String(), tc.name; got != want {
			t.Fatalf("invalid bit name: got=%q, want=%q", got, want)
		}
	}

	if !CtrlIdle.isSet(0x6) || CtrlDone.isSet(0x5) {
		t.Fatalf("invalid bit test")
	}
}
