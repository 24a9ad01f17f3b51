// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"
)

const (
	idle = uint32(CtrlIdle)
	done = uint32(CtrlDone)
)

func fastPolling() []Option {
	return []Option{
		quiet,
		WithPollInterval(0),
		WithMaxPollInterval(10 * time.Microsecond),
		WithTimeout(50 * time.Millisecond),
	}
}

func TestInitialize(t *testing.T) {
	dev := newFakeDevice(0, 0x1, 0x8, idle)
	core := New(dev, fastPolling()...)

	addrs := BaseAddrs{
		InHashes:  0x1_2345_6780,
		NumIters:  0x2_0000_1000,
		OutHashes: 0xdead_beef_0000_2000,
	}
	err := core.Initialize(context.Background(), addrs, 42)
	if err != nil {
		t.Fatalf("could not initialize core: %+v", err)
	}

	if got, want := core.State(), StateConfiguring; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	want := []regOp{
		{reg: RegControl, v: 0},
		{reg: RegControl, v: 0x1},
		{reg: RegControl, v: 0x8},
		{reg: RegControl, v: idle},
		{write: true, reg: RegInHashesLo, v: 0x2345_6780},
		{write: true, reg: RegInHashesHi, v: 0x1},
		{write: true, reg: RegNumItersLo, v: 0x0000_1000},
		{write: true, reg: RegNumItersHi, v: 0x2},
		{write: true, reg: RegNumHashes, v: 42},
		{write: true, reg: RegOutHashesLo, v: 0x0000_2000},
		{write: true, reg: RegOutHashesHi, v: 0xdead_beef},
	}
	if got := dev.ops; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid register accesses:\ngot= %v\nwant=%v", got, want)
	}
}

func TestInitializeIdleGating(t *testing.T) {
	dev := newFakeDevice(0, 0, 0, 0, idle|done)
	core := New(dev, fastPolling()...)

	err := core.Initialize(context.Background(), DefaultBaseAddrs, 1)
	if err != nil {
		t.Fatalf("could not initialize core: %+v", err)
	}

	sawIdle := false
	for i, op := range dev.ops {
		switch {
		case !op.write && op.reg == RegControl && CtrlIdle.isSet(op.v):
			sawIdle = true
		case op.write && !sawIdle:
			t.Fatalf("configuration write %v (op=%d) issued before idle", op, i)
		}
	}
	if !sawIdle {
		t.Fatalf("idle never observed")
	}
}

func TestInitializeInvalidLayout(t *testing.T) {
	dev := newFakeDevice(idle)
	core := New(dev, fastPolling()...)

	for _, tc := range []struct {
		name  string
		addrs BaseAddrs
		n     uint32
	}{
		{"zero-slot", DefaultBaseAddrs, 0},
		{"overlap", DefaultBaseAddrs, 129},
		{"same-base", BaseAddrs{0, 0, 4096}, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := core.Initialize(context.Background(), tc.addrs, tc.n)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if len(dev.ops) != 0 {
				t.Fatalf("register accessed with an invalid layout: %v", dev.ops)
			}
		})
	}
}

func TestRun(t *testing.T) {
	dev := newFakeDevice(idle, 0x1, 0x1, 0x1, idle|done)
	dev.last = idle
	core := New(dev, fastPolling()...)

	err := core.Run(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNotConfigured)
	}
	if len(dev.ops) != 0 {
		t.Fatalf("unconfigured run accessed registers: %v", dev.ops)
	}

	err = core.Initialize(context.Background(), DefaultBaseAddrs, 1)
	if err != nil {
		t.Fatalf("could not initialize core: %+v", err)
	}
	nops := len(dev.ops)

	err = core.Run(context.Background())
	if err != nil {
		t.Fatalf("could not run core: %+v", err)
	}
	if got, want := core.State(), StateDone; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}

	want := []regOp{
		{write: true, reg: RegControl, v: uint32(CtrlStart)},
		{reg: RegControl, v: 0x1},
		{reg: RegControl, v: 0x1},
		{reg: RegControl, v: 0x1},
		{reg: RegControl, v: idle | done},
	}
	if got := dev.ops[nops:]; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid register accesses:\ngot= %v\nwant=%v", got, want)
	}

	// done was acknowledged by the last read: a new run needs a new configuration.
	err = core.Run(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNotConfigured)
	}

	err = core.Initialize(context.Background(), DefaultBaseAddrs, 2)
	if err != nil {
		t.Fatalf("could not re-initialize core: %+v", err)
	}
	dev.last = idle | done
	err = core.Run(context.Background())
	if err != nil {
		t.Fatalf("could not run core a second time: %+v", err)
	}
}

func TestTimeout(t *testing.T) {
	for _, tc := range []struct {
		name string
		f    func(core *Core) error
	}{
		{
			name: "idle",
			f: func(core *Core) error {
				return core.Initialize(context.Background(), DefaultBaseAddrs, 1)
			},
		},
		{
			name: "done",
			f: func(core *Core) error {
				core.state = StateConfiguring
				return core.Run(context.Background())
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := newFakeDevice()
			core := New(dev, fastPolling()...)

			err := tc.f(core)
			if !errors.Is(err, ErrTimeout) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrTimeout)
			}
			if got, want := core.State(), StateFault; got != want {
				t.Fatalf("invalid state: got=%v, want=%v", got, want)
			}
			for _, op := range dev.ops {
				if op.write && op.reg != RegControl {
					t.Fatalf("configuration written without idle: %v", op)
				}
			}
		})
	}
}

func TestContextCancel(t *testing.T) {
	dev := newFakeDevice()
	core := New(dev, quiet, WithTimeout(0), WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := core.Initialize(ctx, DefaultBaseAddrs, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, context.DeadlineExceeded)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("context deadline reported as poll timeout: %+v", err)
	}
}

func TestTransportFailure(t *testing.T) {
	for _, tc := range []struct {
		name string
		prep func(dev *fakeDevice)
		run  bool
		op   string
	}{
		{
			name: "read-control",
			prep: func(dev *fakeDevice) { dev.rerr[RegControl] = io.ErrUnexpectedEOF },
			op:   "read control",
		},
		{
			name: "write-in-hashes-hi",
			prep: func(dev *fakeDevice) { dev.werr[RegInHashesHi] = io.ErrShortWrite },
			op:   "write in_hashes_hi",
		},
		{
			name: "write-num-hashes",
			prep: func(dev *fakeDevice) { dev.werr[RegNumHashes] = io.ErrShortWrite },
			op:   "write num_hashes",
		},
		{
			name: "write-out-hashes-lo",
			prep: func(dev *fakeDevice) { dev.werr[RegOutHashesLo] = io.ErrShortWrite },
			op:   "write out_hashes_lo",
		},
		{
			name: "write-start",
			prep: func(dev *fakeDevice) { dev.werr[RegControl] = io.ErrShortWrite },
			run:  true,
			op:   "write control",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev := newFakeDevice()
			dev.last = idle
			core := New(dev, fastPolling()...)
			tc.prep(dev)

			err := core.Initialize(context.Background(), DefaultBaseAddrs, 1)
			if tc.run {
				if err != nil {
					t.Fatalf("could not initialize core: %+v", err)
				}
				err = core.Run(context.Background())
			}

			var terr *TransportError
			if !errors.As(err, &terr) {
				t.Fatalf("invalid error type %T: %+v", err, err)
			}
			if got, want := terr.Op, tc.op; got != want {
				t.Fatalf("invalid failed op: got=%q, want=%q", got, want)
			}
			if got, want := core.State(), StateFault; got != want {
				t.Fatalf("invalid state: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	dev := newFakeDevice(0, 0, 0, 0, 0, 0, idle)
	core := New(dev, quiet,
		WithPollInterval(100*time.Microsecond),
		WithMaxPollInterval(200*time.Microsecond),
		WithTimeout(time.Second),
	)

	start := time.Now()
	err := core.Initialize(context.Background(), DefaultBaseAddrs, 1)
	if err != nil {
		t.Fatalf("could not initialize core: %+v", err)
	}
	// 100µs + 5x200µs of back-off.
	if got, want := time.Since(start), 1100*time.Microsecond; got < want {
		t.Fatalf("polling did not back off: elapsed=%v, want>=%v", got, want)
	}
}

func TestDumpRegisters(t *testing.T) {
	dev := newFakeDevice(idle)
	core := New(dev, fastPolling()...)

	err := core.Initialize(context.Background(), BaseAddrs{0x1_0000_0000, 4096, 8192}, 3)
	if err != nil {
		t.Fatalf("could not initialize core: %+v", err)
	}
	nops := len(dev.ops)

	o := new(strings.Builder)
	err = core.DumpRegisters(o)
	if err != nil {
		t.Fatalf("could not dump registers: %+v", err)
	}

	for _, op := range dev.ops[nops:] {
		if op.reg == RegControl {
			t.Fatalf("control register read while dumping registers")
		}
	}

	for _, want := range []string{
		"num_hashes     (0x28)= 0x00000003\n",
		"in-hashes base=  0x100000000\n",
		"num-iters base=  0x1000\n",
		"out-hashes base= 0x2000\n",
		"protocol state=  configuring\n",
	} {
		if !strings.Contains(o.String(), want) {
			t.Fatalf("missing %q in dump:\n%s", want, o.String())
		}
	}

	dev.rerr[RegNumHashes] = io.EOF
	err = core.DumpRegisters(io.Discard)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, io.EOF)
	}
}

func TestStateString(t *testing.T) {
	for _, tc := range []struct {
		st   State
		want string
	}{
		{StateIdle, "idle"},
		{StateConfiguring, "configuring"},
		{StateRunning, "running"},
		{StateDone, "done"},
		{StateFault, "fault"},
		{State(42), "state(42)"},
	} {
		if got := tc.st.String(); got != tc.want {
			t.Fatalf("invalid state name: got=%q, want=%q", got, tc.want)
		}
	}
}
