// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command poh-ctl is an interactive console to drive the PoH core of a card.
//
// Usage: poh-ctl [OPTIONS]
//
// Example:
//
//	$> poh-ctl -card=xdma:0
//	poh> scenario C
//	poh> run
//	poh> regs
//	poh> quit
package main // import "github.com/go-lpc/warp/cmd/poh-ctl"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/warp"
	"github.com/go-lpc/warp/internal/card"
	"github.com/go-lpc/warp/poh"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("poh-ctl: ")
	log.SetFlags(0)

	var (
		spec    = flag.String("card", "xdma:0", "card to drive (xdma:<id>, sim:sha256, sim:reversed-sha256)")
		devDir  = flag.String("dev-dir", "/dev", "directory holding the XDMA device nodes")
		base    = flag.Uint64("base", poh.VariumC1100Base, "base address of the PoH core registers")
		timeout = flag.Duration("timeout", 10*time.Second, "timeout for the core to report idle or done")
		hist    = flag.String("history", historyFile(), "path to the history file")
		version = flag.Bool("version", false, "print version and exit")
	)

	flag.Parse()

	if *version {
		v, sum := warp.Version()
		log.Printf("version: %s %s", v, sum)
		return
	}

	dev, err := card.Open(*spec, card.WithDevDir(*devDir), card.WithBaseAddr(*base))
	if err != nil {
		log.Fatalf("could not open card: %+v", err)
	}
	defer dev.Close()

	c := newConsole(dev, os.Stdout,
		poh.WithBaseAddr(*base),
		poh.WithTimeout(*timeout),
	)

	err = c.loop(context.Background(), *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func historyFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".poh-ctl.history")
}

type console struct {
	dev  poh.DMA
	w    io.Writer
	opts []poh.Option

	sc     poh.Scenario
	runner *poh.Runner
}

func newConsole(dev poh.DMA, w io.Writer, opts ...poh.Option) *console {
	c := &console{
		dev:  dev,
		w:    w,
		opts: opts,
	}
	c.setScenario(poh.ScenarioA())
	return c
}

// setScenario selects sc and creates a new runner for its byte order.
// The core protocol state restarts from idle.
func (c *console) setScenario(sc poh.Scenario) {
	c.sc = sc
	opts := append([]poh.Option{
		poh.WithMsgStream(tlog.NewMsgStream("poh", tlog.LvlInfo, c.w)),
	}, c.opts...)
	opts = append(opts, poh.WithByteOrder(sc.Order))
	c.runner = poh.NewRunner(c.dev, opts...)
}

func (c *console) loop(ctx context.Context, hist string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(complete)

	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = term.ReadHistory(f)
			_ = f.Close()
		}
		defer func() {
			f, err := os.Create(hist)
			if err != nil {
				log.Printf("could not save history: %+v", err)
				return
			}
			defer f.Close()
			_, _ = term.WriteHistory(f)
		}()
	}

	for {
		line, err := term.Prompt("poh> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := c.exec(ctx, line)
		if err != nil {
			fmt.Fprintf(c.w, "error: %+v\n", err)
		}
		if quit {
			return nil
		}
	}
}

var cmdHelp = map[string]string{
	"help":     "display this help message",
	"state":    "display the protocol state",
	"regs":     "dump the configuration registers",
	"scenario": "select a scenario (A, B or C)",
	"order":    "override the hash byte order (as-given or reversed)",
	"run":      "run and verify the selected scenario",
	"init":     "write a configuration: init <n> [<in> <iters> <out>]",
	"start":    "start the core and wait for done",
	"quit":     "quit the console",
}

func cmdNames() []string {
	names := make([]string, 0, len(cmdHelp))
	for k := range cmdHelp {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func complete(line string) []string {
	var o []string
	for _, name := range cmdNames() {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			o = append(o, name)
		}
	}
	return o
}

// exec executes a console command.
// exec reports whether the console should be exited.
func (c *console) exec(ctx context.Context, line string) (bool, error) {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return false, nil
	}
	args := toks[1:]
	core := c.runner.Core()

	switch name := strings.ToLower(toks[0]); name {
	case "help", "?":
		for _, name := range cmdNames() {
			fmt.Fprintf(c.w, "%-9s %s\n", name, cmdHelp[name])
		}

	case "quit", "exit", "q":
		return true, nil

	case "state":
		fmt.Fprintf(c.w, "scenario=%s slots=%d order=%v state=%v\n",
			c.sc.Name, c.sc.Batch.Len(), c.runner.ByteOrder(), core.State(),
		)

	case "regs":
		return false, core.DumpRegisters(c.w)

	case "scenario":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: scenario <name>")
		}
		for _, sc := range poh.Scenarios() {
			if strings.EqualFold(sc.Name, args[0]) {
				c.setScenario(sc)
				return false, nil
			}
		}
		return false, fmt.Errorf("unknown scenario %q", args[0])

	case "order":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: order <as-given|reversed>")
		}
		order, err := poh.ParseByteOrder(args[0])
		if err != nil {
			return false, err
		}
		sc := c.sc
		sc.Order = order
		c.setScenario(sc)

	case "run":
		b := &poh.Batch{Slots: c.sc.Batch.Slots}
		start := time.Now()
		err := c.runner.Check(ctx, b)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(c.w, "scenario %s: %d slot(s) ok (%v)\n", c.sc.Name, b.Len(), time.Since(start))

	case "init":
		var (
			addrs = poh.DefaultBaseAddrs
			vs    []uint64
		)
		if len(args) != 1 && len(args) != 4 {
			return false, fmt.Errorf("usage: init <n> [<in> <iters> <out>]")
		}
		for _, arg := range args {
			v, err := strconv.ParseUint(arg, 0, 64)
			if err != nil {
				return false, fmt.Errorf("invalid init argument %q: %w", arg, err)
			}
			vs = append(vs, v)
		}
		if len(vs) == 4 {
			addrs = poh.BaseAddrs{InHashes: vs[1], NumIters: vs[2], OutHashes: vs[3]}
		}
		if vs[0] > 1<<32-1 {
			return false, fmt.Errorf("invalid number of slots %d", vs[0])
		}
		return false, core.Initialize(ctx, addrs, uint32(vs[0]))

	case "start":
		return false, core.Run(ctx)

	default:
		return false, fmt.Errorf("unknown command %q", name)
	}

	return false, nil
}
