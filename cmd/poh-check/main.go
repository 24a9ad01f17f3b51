// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command poh-check runs verification scenarios on the PoH core of one
// or more cards and reports mismatching slots.
//
// Usage: poh-check [OPTIONS]
//
// Example:
//
//	$> poh-check -dev=0,1 -scenario=A,C
//	$> poh-check -sim=sha256 -scenario=A
//	$> poh-check -dev=0 -db=pohvec -scenario=A,long-chain
//
// Options:
//
//	-base uint
//	  	base address of the PoH core registers (default 327680)
//	-db string
//	  	name of the test-vector database (empty: built-in scenarios only)
//	-dev string
//	  	comma-separated list of XDMA device IDs (default "0")
//	-dev-dir string
//	  	directory holding the XDMA device nodes (default "/dev")
//	-freq duration
//	  	pmon frequency (default 1s)
//	-mail
//	  	send a mail alert on failure
//	-order string
//	  	hash byte order override (as-given|reversed)
//	-pmon
//	  	enable pmon monitoring
//	-scenario string
//	  	comma-separated list of scenarios to run (default "A,B,C")
//	-sim string
//	  	run against a simulated core (sha256|reversed-sha256)
//	-timeout duration
//	  	timeout for the core to report idle or done (default 10s)
//	-v	enable verbose mode
//	-version
//	  	print version and exit
package main // import "github.com/go-lpc/warp/cmd/poh-check"

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/warp"
	"github.com/go-lpc/warp/internal/card"
	"github.com/go-lpc/warp/poh"
	"github.com/go-lpc/warp/vecdb"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
	mail "gopkg.in/gomail.v2"
)

func main() {
	log.SetPrefix("poh-check: ")
	log.SetFlags(0)

	var (
		devs    = flag.String("dev", "0", "comma-separated list of XDMA device IDs")
		devDir  = flag.String("dev-dir", "/dev", "directory holding the XDMA device nodes")
		sim     = flag.String("sim", "", "run against a simulated core (sha256|reversed-sha256)")
		names   = flag.String("scenario", "A,B,C", "comma-separated list of scenarios to run")
		order   = flag.String("order", "", "hash byte order override (as-given|reversed)")
		base    = flag.Uint64("base", poh.VariumC1100Base, "base address of the PoH core registers")
		timeout = flag.Duration("timeout", 10*time.Second, "timeout for the core to report idle or done")
		dbname  = flag.String("db", "", "name of the test-vector database (empty: built-in scenarios only)")
		doMon   = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq  = flag.Duration("freq", 1*time.Second, "pmon frequency")
		doMail  = flag.Bool("mail", false, "send a mail alert on failure")
		verbose = flag.Bool("v", false, "enable verbose mode")
		version = flag.Bool("version", false, "print version and exit")
	)

	flag.Parse()

	if *version {
		v, sum := warp.Version()
		log.Printf("version: %s %s", v, sum)
		return
	}

	ids, err := parseIDs(*devs)
	if err != nil {
		log.Fatalf("could not parse device IDs: %+v", err)
	}

	cfg := config{
		devs:    ids,
		devDir:  *devDir,
		sim:     *sim,
		names:   split(*names),
		order:   *order,
		base:    *base,
		timeout: *timeout,
		dbname:  *dbname,
		mon:     *doMon,
		freq:    *doFreq,
		alert:   *doMail,
		verbose: *verbose,
	}

	err = run(context.Background(), cfg)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type config struct {
	devs    []int
	devDir  string
	sim     string
	names   []string
	order   string
	base    uint64
	timeout time.Duration
	dbname  string
	mon     bool
	freq    time.Duration
	alert   bool
	verbose bool
}

func split(s string) []string {
	var o []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		o = append(o, v)
	}
	return o
}

func parseIDs(s string) ([]int, error) {
	var ids []int
	for _, v := range split(s) {
		id, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID %q: %w", v, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no device ID")
	}
	return ids, nil
}

func run(ctx context.Context, cfg config) error {
	if cfg.mon {
		stop, err := monitor(cfg.freq)
		if err != nil {
			return fmt.Errorf("could not start monitoring: %w", err)
		}
		defer stop()
	}

	var db *vecdb.DB
	if cfg.dbname != "" {
		var err error
		db, err = vecdb.Open(cfg.dbname)
		if err != nil {
			return fmt.Errorf("could not open test-vector db: %w", err)
		}
		defer db.Close()
	}

	scenarios, err := loadScenarios(ctx, db, cfg.names)
	if err != nil {
		return fmt.Errorf("could not load scenarios: %w", err)
	}

	var (
		grp errgroup.Group
		res = make([][]vecdb.Result, len(cfg.devs))
	)
	for i := range cfg.devs {
		i := i
		grp.Go(func() error {
			var err error
			res[i], err = check(ctx, cfg, cfg.devs[i], scenarios)
			return err
		})
	}

	werr := grp.Wait()

	var rec recorder
	if db != nil {
		rec = db
	}
	return report(ctx, rec, cfg.alert, res, werr)
}

type recorder interface {
	Record(ctx context.Context, res ...vecdb.Result) error
}

// alert sends the failed results to the maintainers.
var alert = alertMail

// report records the results of all cards, including those collected on a
// card before it faulted, and raises an alert when any of them failed.
func report(ctx context.Context, rec recorder, notify bool, res [][]vecdb.Result, werr error) error {
	var (
		all  []vecdb.Result
		fail []vecdb.Result
	)
	for _, vs := range res {
		for _, r := range vs {
			all = append(all, r)
			if r.Status != vecdb.StatusOK {
				fail = append(fail, r)
			}
		}
	}

	if rec != nil && len(all) > 0 {
		err := rec.Record(ctx, all...)
		if err != nil {
			log.Printf("could not record results: %+v", err)
		}
	}

	if notify && len(fail) > 0 {
		alert(fail)
	}

	switch {
	case werr != nil && len(fail) > 0:
		return fmt.Errorf(
			"%d/%d scenario run(s) failed: could not run scenarios: %w",
			len(fail), len(all), werr,
		)
	case werr != nil:
		return fmt.Errorf("could not run scenarios: %w", werr)
	case len(fail) > 0:
		return fmt.Errorf("%d/%d scenario run(s) failed", len(fail), len(all))
	}

	log.Printf("%d scenario run(s): all ok", len(all))
	return nil
}

// loadScenarios returns the built-in scenarios named A, B or C, and
// retrieves the other ones from the test-vector database.
func loadScenarios(ctx context.Context, db *vecdb.DB, names []string) ([]poh.Scenario, error) {
	builtins := make(map[string]poh.Scenario)
	for _, sc := range poh.Scenarios() {
		builtins[sc.Name] = sc
	}

	var scs []poh.Scenario
	for _, name := range names {
		if sc, ok := builtins[strings.ToUpper(name)]; ok {
			scs = append(scs, sc)
			continue
		}
		if db == nil {
			return nil, fmt.Errorf("unknown scenario %q (no test-vector db)", name)
		}
		sc, err := db.Scenario(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("could not retrieve scenario %q: %w", name, err)
		}
		scs = append(scs, sc)
	}
	if len(scs) == 0 {
		return nil, fmt.Errorf("no scenario to run")
	}
	return scs, nil
}

var openCard = func(cfg config, id int) (*card.Card, error) {
	spec := fmt.Sprintf("xdma:%d", id)
	if cfg.sim != "" {
		spec = "sim:" + cfg.sim
	}
	c, err := card.Open(spec, card.WithDevDir(cfg.devDir), card.WithBaseAddr(cfg.base))
	if err != nil {
		return nil, err
	}
	if cfg.sim != "" {
		c.Name = fmt.Sprintf("sim%d", id)
	}
	return c, nil
}

// check runs all the scenarios, in sequence, on the card id.
// Only transport and protocol failures are reported as errors: mismatches
// are reported in the results.
func check(ctx context.Context, cfg config, id int, scenarios []poh.Scenario) ([]vecdb.Result, error) {
	dev, err := openCard(cfg, id)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	lvl := tlog.LvlInfo
	if cfg.verbose {
		lvl = tlog.LvlDebug
	}
	msg := tlog.NewMsgStream(dev.Name, lvl, os.Stdout)

	res := make([]vecdb.Result, 0, len(scenarios))
	for _, sc := range scenarios {
		order := sc.Order
		if cfg.order != "" {
			order, err = poh.ParseByteOrder(cfg.order)
			if err != nil {
				return res, fmt.Errorf("could not parse byte order: %w", err)
			}
		}

		r := poh.NewRunner(
			dev,
			poh.WithBaseAddr(cfg.base),
			poh.WithTimeout(cfg.timeout),
			poh.WithByteOrder(order),
			poh.WithMsgStream(msg),
		)

		// scenarios are shared by all cards: outputs go to a private batch.
		b := &poh.Batch{Slots: sc.Batch.Slots}
		start := time.Now()
		err := r.Check(ctx, b)
		res = append(res, vecdb.NewResult(dev.Name, sc, err, time.Since(start)))

		switch {
		case err == nil:
			log.Printf("%s: scenario %s: %d slot(s) ok", dev.Name, sc.Name, sc.Batch.Len())
		case errors.Is(err, poh.ErrMismatch):
			log.Printf("%s: scenario %s (order=%v): %+v", dev.Name, sc.Name, order, err)
		default:
			var dump strings.Builder
			_ = r.Core().DumpRegisters(&dump)
			log.Printf("%s: scenario %s: %+v\n%s", dev.Name, sc.Name, err, dump.String())
			return res, fmt.Errorf("%s: could not run scenario %s: %w", dev.Name, sc.Name, err)
		}
	}

	return res, nil
}

func monitor(freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not monitor pid=%d: %w", os.Getpid(), err)
	}

	f, err := os.Create("poh-check-pmon.log")
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}

var (
	alertMailUsr  = os.Getenv("MAIL_USERNAME")
	alertMailPwd  = os.Getenv("MAIL_PASSWORD")
	alertMailSrv  = os.Getenv("MAIL_SERVER")
	alertMailPort = atoi(os.Getenv("MAIL_PORT"))
	alertMailTgts = split(os.Getenv("MAIL_TGTS"))
)

func alertMail(fail []vecdb.Result) {
	if alertMailUsr == "" || alertMailPwd == "" ||
		alertMailSrv == "" || alertMailPort == 0 ||
		len(alertMailTgts) == 0 {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", alertMailUsr)
	msg.SetHeader("Bcc", alertMailTgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[poh-check] %d failed scenario run(s)", len(fail)))
	msg.SetBody("text/plain", alertBody(fail))

	dial := mail.NewDialer(alertMailSrv, alertMailPort, alertMailUsr, alertMailPwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func alertBody(fail []vecdb.Result) string {
	o := new(strings.Builder)
	for _, r := range fail {
		fmt.Fprintf(o, "card: %s\nscenario: %s\nstatus: %s (%d/%d)\n%s\n\n",
			r.Card, r.Scenario, r.Status, r.Mismatches, r.Slots, r.Message,
		)
	}
	return o.String()
}

func atoi(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
