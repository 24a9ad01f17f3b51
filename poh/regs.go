// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

import "fmt"

// VariumC1100Base is the base address of the PoH core registers
// in the Varium C1100 shell.
const VariumC1100Base = 0x0005_0000

// Reg is the offset of a PoH core register, relative to the core base address.
type Reg uint64

const (
	RegControl          Reg = 0x00
	RegGlobalIntrEnable Reg = 0x04
	RegIPIntrEnable     Reg = 0x08
	RegIPIntrStatus     Reg = 0x0c
	RegInHashesLo       Reg = 0x10
	RegInHashesHi       Reg = 0x14
	RegNumItersLo       Reg = 0x1c
	RegNumItersHi       Reg = 0x20
	RegNumHashes        Reg = 0x28
	RegOutHashesLo      Reg = 0x30
	RegOutHashesHi      Reg = 0x34
)

var regNames = map[Reg]string{
	RegControl:          "control",
	RegGlobalIntrEnable: "gie",
	RegIPIntrEnable:     "ier",
	RegIPIntrStatus:     "isr",
	RegInHashesLo:       "in_hashes_lo",
	RegInHashesHi:       "in_hashes_hi",
	RegNumItersLo:       "num_iters_lo",
	RegNumItersHi:       "num_iters_hi",
	RegNumHashes:        "num_hashes",
	RegOutHashesLo:      "out_hashes_lo",
	RegOutHashesHi:      "out_hashes_hi",
}

func (r Reg) String() string {
	if name, ok := regNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reg(0x%02x)", uint64(r))
}

// Regs returns all the PoH core registers, in offset order.
func Regs() []Reg {
	return []Reg{
		RegControl,
		RegGlobalIntrEnable,
		RegIPIntrEnable,
		RegIPIntrStatus,
		RegInHashesLo,
		RegInHashesHi,
		RegNumItersLo,
		RegNumItersHi,
		RegNumHashes,
		RegOutHashesLo,
		RegOutHashesHi,
	}
}

// ControlBit is a bit of the control register.
type ControlBit uint32

const (
	CtrlStart ControlBit = 1 << 0 // write: start a run
	CtrlDone  ControlBit = 1 << 1 // read: run completed (clear-on-read)
	CtrlIdle  ControlBit = 1 << 2 // read: core ready for a new configuration
	CtrlReady ControlBit = 1 << 3 // read: not used by the protocol

	CtrlAutoRestart ControlBit = 1 << 28 // read/write: not used by the protocol
)

// isSet reports whether bit is set in the control register value v.
func (bit ControlBit) isSet(v uint32) bool {
	return v&uint32(bit) == uint32(bit)
}

func (bit ControlBit) String() string {
	switch bit {
	case CtrlStart:
		return "start"
	case CtrlDone:
		return "done"
	case CtrlIdle:
		return "idle"
	case CtrlReady:
		return "ready"
	case CtrlAutoRestart:
		return "auto-restart"
	}
	return fmt.Sprintf("ctrl(0x%x)", uint32(bit))
}
