// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command poh-srv starts a TDAQ server driving the PoH core of a card.
//
// The card is selected with the first positional argument:
//
//	xdma:<id>           the XDMA device <id> (e.g. xdma:0)
//	sim:<hash>          a simulated core (sim:sha256, sim:reversed-sha256)
//
// The /config command carries the name of the scenario to run (A, B or C)
// and an optional byte order override, optionally followed by the base
// address of the core registers (u64) and the idle/done timeout in
// nanoseconds (u64, 0 disables it). Once started, the server runs the
// scenario batch in a loop and publishes the results on /hashes.
// A /stop received while a batch is in flight abandons that batch.
package main // import "github.com/go-lpc/warp/cmd/poh-srv"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/warp/internal/card"
	"github.com/go-lpc/warp/poh"
)

func main() {
	cmd := flags.New()

	spec := "sim:sha256"
	if len(cmd.Args) > 0 {
		spec = cmd.Args[0]
	}
	dev := newServer(spec, "/dev")

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/hashes", dev.hashes)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type server struct {
	spec   string // card selection
	devDir string
	freq   time.Duration // interval between two batches

	sc      poh.Scenario
	base    uint64        // base address of the core registers
	timeout time.Duration // timeout for the core to report idle or done

	card   *card.Card
	runner *poh.Runner

	n    int // number of processed batches
	bad  int // number of batches with mismatches
	data chan []byte
}

func newServer(spec, devDir string) *server {
	return &server{
		spec:   spec,
		devDir: devDir,
		freq:    100 * time.Millisecond,
		sc:      poh.ScenarioA(),
		base:    poh.VariumC1100Base,
		timeout: 10 * time.Second,
	}
}

func (srv *server) close() error {
	srv.runner = nil
	if srv.card == nil {
		return nil
	}
	err := srv.card.Close()
	srv.card = nil
	return err
}

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	var (
		name, order = "A", ""
		base        = srv.base
		timeout     = srv.timeout
	)
	if len(req.Body) > 0 {
		r := bytes.NewReader(req.Body)
		dec := tdaq.NewDecoder(r)
		name = dec.ReadStr()
		order = dec.ReadStr()
		if dec.Err() == nil && r.Len() > 0 {
			base = dec.ReadU64()
			timeout = time.Duration(dec.ReadU64())
		}
		if err := dec.Err(); err != nil {
			ctx.Msg.Errorf("could not decode /config request: %+v", err)
			return fmt.Errorf("could not decode /config request: %w", err)
		}
	}

	var sc poh.Scenario
	for _, v := range poh.Scenarios() {
		if strings.EqualFold(v.Name, name) {
			sc = v
			break
		}
	}
	if sc.Batch == nil {
		ctx.Msg.Errorf("unknown scenario %q", name)
		return fmt.Errorf("unknown scenario %q", name)
	}

	if order != "" {
		var err error
		sc.Order, err = poh.ParseByteOrder(order)
		if err != nil {
			ctx.Msg.Errorf("could not parse byte order: %+v", err)
			return fmt.Errorf("could not parse byte order: %w", err)
		}
	}

	srv.sc = sc
	srv.base = base
	srv.timeout = timeout
	ctx.Msg.Infof(
		"scenario %s: %d slot(s), order=%v, base=0x%x, timeout=%v",
		sc.Name, sc.Batch.Len(), sc.Order, base, timeout,
	)
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	err := srv.close()
	if err != nil {
		ctx.Msg.Errorf("could not close previous card: %+v", err)
	}

	srv.card, err = card.Open(
		srv.spec,
		card.WithDevDir(srv.devDir),
		card.WithBaseAddr(srv.base),
	)
	if err != nil {
		ctx.Msg.Errorf("could not open card %q: %+v", srv.spec, err)
		return fmt.Errorf("could not open card %q: %w", srv.spec, err)
	}

	srv.runner = poh.NewRunner(
		srv.card,
		poh.WithBaseAddr(srv.base),
		poh.WithTimeout(srv.timeout),
		poh.WithByteOrder(srv.sc.Order),
		poh.WithMsgStream(ctx.Msg),
	)
	srv.data = make(chan []byte, 1024)
	srv.n = 0
	srv.bad = 0
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.n = 0
	srv.bad = 0
	srv.data = make(chan []byte, 1024)
	return srv.close()
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if srv.runner == nil {
		return fmt.Errorf("card not initialized")
	}
	return nil
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n, bad := srv.n, srv.bad
	ctx.Msg.Debugf("received /stop command... -> n=%d, mismatches=%d", n, bad)
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return srv.close()
}

func (srv *server) hashes(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

func (srv *server) run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
			raw, err := srv.process(ctx)
			if err != nil {
				if ctx.Ctx.Err() != nil {
					ctx.Msg.Infof("batch %d interrupted by /stop", srv.n)
					return nil
				}
				ctx.Msg.Errorf("could not process batch %d: %+v", srv.n, err)
				return fmt.Errorf("could not process batch %d: %w", srv.n, err)
			}
			select {
			case srv.data <- raw:
			default:
			}
		}
		time.Sleep(srv.freq)
	}
}

// process runs one batch of the configured scenario and encodes its
// outcome: batch sequence number, number of slots, number of mismatches
// then the hex-encoded output hashes.
func (srv *server) process(ctx tdaq.Context) ([]byte, error) {
	b := &poh.Batch{Slots: srv.sc.Batch.Slots}
	err := srv.runner.Check(ctx.Ctx, b)

	var (
		verr *poh.VerifyError
		bad  int
	)
	switch {
	case err == nil:
	case errors.As(err, &verr):
		bad = len(verr.Mismatches)
		ctx.Msg.Warnf("batch %d: %+v", srv.n, err)
	default:
		return nil, err
	}

	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU64(uint64(srv.n))
	enc.WriteU32(uint32(b.Len()))
	enc.WriteU32(uint32(bad))
	for _, h := range b.Out {
		enc.WriteStr(h.String())
	}
	if err := enc.Err(); err != nil {
		return nil, fmt.Errorf("could not encode batch %d: %w", srv.n, err)
	}

	srv.n++
	if bad > 0 {
		srv.bad++
	}
	return buf.Bytes(), nil
}
