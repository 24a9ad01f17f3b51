// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package simcore

import (
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/go-lpc/warp/xdma"
)

func hash(t *testing.T, s string) [hashSize]byte {
	t.Helper()
	var h [hashSize]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("could not decode %q: %+v", s, err)
	}
	copy(h[:], raw)
	return h
}

func TestSHA256(t *testing.T) {
	var (
		in  = hash(t, "01ba4719c80b6fe911b091a7c05124b64eeece964e09c058ef8f9805daca546b")
		out = hash(t, "9c827201b94019b42f85706bc49c59ff84b5604d11caafb90ab94856c4e1dd7a")
	)

	if got, want := SHA256(in, 1), out; got != want {
		t.Fatalf("invalid sha256:\ngot= %x\nwant=%x", got, want)
	}
	if got, want := SHA256(in, 0), in; got != want {
		t.Fatalf("invalid 0-iteration hash:\ngot= %x\nwant=%x", got, want)
	}
	if got, want := SHA256(in, 2), SHA256(out, 1); got != want {
		t.Fatalf("invalid chained hash:\ngot= %x\nwant=%x", got, want)
	}
	if got, want := ReversedSHA256(reverse(in), 1), reverse(out); got != want {
		t.Fatalf("invalid reversed sha256:\ngot= %x\nwant=%x", got, want)
	}
}

func TestCard(t *testing.T) {
	const base = 0x1000
	card := New(WithBase(base), WithMemSize(1024), WithBusy(3), WithBootPolls(2), WithTrace())

	var (
		reg = make([]byte, 4)
		u32 = func(v uint32) []byte {
			p := make([]byte, 4)
			binary.LittleEndian.PutUint32(p, v)
			return p
		}
		ctrl = func() uint32 {
			t.Helper()
			err := card.ReadRegister(reg, base)
			if err != nil {
				t.Fatalf("could not read control: %+v", err)
			}
			return binary.LittleEndian.Uint32(reg)
		}
		write = func(off uint64, v uint32) {
			t.Helper()
			err := card.WriteRegister(u32(v), base+off)
			if err != nil {
				t.Fatalf("could not write register 0x%x: %+v", off, err)
			}
		}
	)

	for i := 0; i < 2; i++ {
		if got := ctrl(); got&ctrlIdle != 0 {
			t.Fatalf("core idle during boot (read=%d): 0x%x", i, got)
		}
	}
	if got := ctrl(); got&ctrlIdle == 0 {
		t.Fatalf("core not idle after boot: 0x%x", got)
	}

	in := hash(t, "01ba4719c80b6fe911b091a7c05124b64eeece964e09c058ef8f9805daca546b")
	copy(card.Mem()[0:], in[:])
	binary.LittleEndian.PutUint64(card.Mem()[256:], 1)

	write(offInLo, 0)
	write(offInHi, 0)
	write(offItersLo, 256)
	write(offItersHi, 0)
	write(offNumHashes, 1)
	write(offOutLo, 512)
	write(offOutHi, 0)
	write(offControl, ctrlStart)

	for i := 0; i < 3; i++ {
		v := ctrl()
		if v&ctrlDone != 0 || v&ctrlIdle != 0 {
			t.Fatalf("core done too early (read=%d): 0x%x", i, v)
		}
	}
	if got := ctrl(); got&ctrlDone == 0 || got&ctrlIdle == 0 {
		t.Fatalf("core not done: 0x%x", got)
	}
	if got := ctrl(); got&ctrlDone != 0 {
		t.Fatalf("done bit not cleared on read: 0x%x", got)
	}

	var out [hashSize]byte
	copy(out[:], card.Mem()[512:])
	if got, want := out, hash(t, "9c827201b94019b42f85706bc49c59ff84b5604d11caafb90ab94856c4e1dd7a"); got != want {
		t.Fatalf("invalid output:\ngot= %x\nwant=%x", got, want)
	}
	if got, want := card.Runs(), 1; got != want {
		t.Fatalf("invalid number of runs: got=%d, want=%d", got, want)
	}
	if err := card.Err(); err != nil {
		t.Fatalf("unexpected simulation error: %+v", err)
	}
	if len(card.Ops()) == 0 {
		t.Fatalf("no register access recorded")
	}

	// run with an output region past the end of device memory.
	write(offOutLo, 1020)
	write(offControl, ctrlStart)
	for card.Runs() != 2 {
		ctrl()
	}
	if card.Err() == nil {
		t.Fatalf("expected a simulation error")
	}
}

func TestCardErrors(t *testing.T) {
	card := New(WithMemSize(64))

	for _, tc := range []struct {
		name string
		f    func() error
	}{
		{"read-short", func() error { return card.ReadRegister(make([]byte, 2), 0x50000) }},
		{"read-below-base", func() error { return card.ReadRegister(make([]byte, 4), 0x10) }},
		{"read-past-end", func() error { return card.ReadRegister(make([]byte, 4), 0x50000+offEnd) }},
		{"read-unaligned", func() error { return card.ReadRegister(make([]byte, 4), 0x50002) }},
		{"write-empty", func() error { return card.WriteRegister(nil, 0x50000) }},
		{"write-past-end", func() error { return card.WriteRegister(make([]byte, 8), 0x50000+offEnd-4) }},
		{"dma-write", func() error {
			buf, err := xdma.NewBuffer(32)
			if err != nil {
				return nil
			}
			defer buf.Free()
			_, _ = buf.Write(make([]byte, 32))
			return card.DMAWrite(buf, 48)
		}},
		{"dma-read", func() error {
			buf, err := xdma.NewBuffer(32)
			if err != nil {
				return nil
			}
			defer buf.Free()
			return card.DMARead(buf, 48)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.f(); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
}
