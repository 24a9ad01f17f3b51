// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

import (
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
)

type config struct {
	base uint64 // base address of the core registers

	poll struct {
		timeout time.Duration
		min     time.Duration // first back-off interval
		max     time.Duration // back-off ceiling
	}

	addrs BaseAddrs
	order ByteOrder

	msg log.MsgStream
}

func newConfig() config {
	var cfg config
	cfg.base = VariumC1100Base
	cfg.poll.timeout = 10 * time.Second
	cfg.poll.min = 1 * time.Microsecond
	cfg.poll.max = 1 * time.Millisecond
	cfg.addrs = DefaultBaseAddrs
	cfg.order = AsGiven
	return cfg
}

func (cfg *config) msgstream() log.MsgStream {
	if cfg.msg == nil {
		cfg.msg = log.NewMsgStream("poh", log.LvlInfo, os.Stdout)
	}
	return cfg.msg
}

// Option configures a Core or a Runner.
type Option func(*config)

// WithBaseAddr sets the base address of the core registers.
func WithBaseAddr(base uint64) Option {
	return func(cfg *config) {
		cfg.base = base
	}
}

// WithTimeout sets the maximum time spent waiting for the core
// to report Idle or Done.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.poll.timeout = timeout
	}
}

// WithPollInterval sets the initial interval between two reads
// of the control register. The interval doubles after each read.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll.min = d
	}
}

// WithMaxPollInterval caps the interval between two reads of the
// control register.
func WithMaxPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.poll.max = d
	}
}

// WithBaseAddrs sets the device-memory layout used by a Runner.
func WithBaseAddrs(addrs BaseAddrs) Option {
	return func(cfg *config) {
		cfg.addrs = addrs
	}
}

// WithByteOrder sets the hash byte order convention used by a Runner.
func WithByteOrder(order ByteOrder) Option {
	return func(cfg *config) {
		cfg.order = order
	}
}

// WithMsgStream sets the message stream used for logging.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}
