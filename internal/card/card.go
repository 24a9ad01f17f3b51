// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package card opens the card hosting a PoH core from its description:
//
//	xdma:<id>    the XDMA device <id>
//	sim:<hash>   a simulated core computing <hash> (sha256, reversed-sha256)
package card // import "github.com/go-lpc/warp/internal/card"

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-lpc/warp/internal/simcore"
	"github.com/go-lpc/warp/poh"
	"github.com/go-lpc/warp/xdma"
)

type config struct {
	dir  string
	base uint64
	user int
}

// Option configures how a card is opened.
type Option func(*config)

// WithDevDir sets the directory holding the XDMA device nodes.
func WithDevDir(dir string) Option {
	return func(cfg *config) {
		cfg.dir = dir
	}
}

// WithBaseAddr sets the base address of the PoH core registers
// of a simulated card.
func WithBaseAddr(base uint64) Option {
	return func(cfg *config) {
		cfg.base = base
	}
}

// WithUserSize sets the size of the XDMA register window to map.
func WithUserSize(n int) Option {
	return func(cfg *config) {
		cfg.user = n
	}
}

// Card is an opened card.
type Card struct {
	poh.DMA
	Name string

	dev *xdma.Device // nil for simulated cards
}

// Open opens the card described by spec.
func Open(spec string, opts ...Option) (*Card, error) {
	cfg := config{
		dir:  "/dev",
		base: poh.VariumC1100Base,
		user: 1 << 20,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	kind, arg, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("card: invalid card %q", spec)
	}

	switch kind {
	case "xdma":
		id, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("card: invalid xdma device ID %q: %w", arg, err)
		}
		dev, err := xdma.Open(id, xdma.WithDevDir(cfg.dir), xdma.WithUserSize(cfg.user))
		if err != nil {
			return nil, fmt.Errorf("card: could not open xdma device %d: %w", id, err)
		}
		return &Card{DMA: dev, Name: "xdma" + arg, dev: dev}, nil

	case "sim":
		var hash simcore.HashFunc
		switch arg {
		case "sha256":
			hash = simcore.SHA256
		case "reversed-sha256":
			hash = simcore.ReversedSHA256
		default:
			return nil, fmt.Errorf("card: unknown simulated core %q", arg)
		}
		sim := simcore.New(simcore.WithBase(cfg.base), simcore.WithHash(hash))
		return &Card{DMA: sim, Name: "sim"}, nil
	}

	return nil, fmt.Errorf("card: unknown card kind %q", kind)
}

// Close releases the resources held by the card.
func (c *Card) Close() error {
	if c.dev == nil {
		return nil
	}
	err := c.dev.Close()
	c.dev = nil
	return err
}
