// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vecdb holds types to retrieve PoH test vectors from, and record
// verification results into, the test-vector database.
//
// The database holds two tables:
//
//	vectors(scenario, slot, in_hash, iters, out_hash, byte_order)
//	results(card, scenario, slots, mismatches, status, message, elapsed_ns, datetime)
//
// Hashes are stored as 64-character hex strings.
package vecdb // import "github.com/go-lpc/warp/vecdb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-lpc/warp/poh"
	_ "github.com/go-sql-driver/mysql"
	"golang.org/x/sync/errgroup"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to retrieve test vectors and record
// verification results.
type DB struct {
	db   *sql.DB
	name string // name of the test-vector database
}

// Open opens a connection to the test-vector database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("vecdb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("vecdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Names returns the names of the scenarios stored in the database.
func (db *DB) Names(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var names []string
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT DISTINCT scenario FROM vectors ORDER BY scenario",
	)
	if err != nil {
		return nil, fmt.Errorf("vecdb: could not query scenario names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, fmt.Errorf("vecdb: could not get scenario name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vecdb: could not scan db for scenario names: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("vecdb: context error while retrieving scenario names: %w", err)
	}

	return names, nil
}

// Scenario returns the scenario name, with its slots in slot order.
func (db *DB) Scenario(ctx context.Context, name string) (poh.Scenario, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	sc := poh.Scenario{Name: name, Batch: new(poh.Batch)}
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT in_hash, iters, out_hash, byte_order FROM vectors
WHERE scenario=?
ORDER BY slot
`,
		name,
	)
	if err != nil {
		return sc, fmt.Errorf("vecdb: could not query scenario %q: %w", name, err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var (
			slot    poh.Slot
			in, out string
			order   string
			bo      poh.ByteOrder
		)
		err = rows.Scan(&in, &slot.Iters, &out, &order)
		if err != nil {
			return sc, fmt.Errorf("vecdb: could not scan row %d of scenario %q: %w", i, name, err)
		}

		slot.In, err = poh.ParseHash(in)
		if err != nil {
			return sc, fmt.Errorf("vecdb: invalid in-hash for slot %d of scenario %q: %w", i, name, err)
		}
		slot.Want, err = poh.ParseHash(out)
		if err != nil {
			return sc, fmt.Errorf("vecdb: invalid out-hash for slot %d of scenario %q: %w", i, name, err)
		}

		bo, err = poh.ParseByteOrder(order)
		if err != nil {
			return sc, fmt.Errorf("vecdb: invalid byte order for slot %d of scenario %q: %w", i, name, err)
		}
		switch {
		case i == 0:
			sc.Order = bo
		case bo != sc.Order:
			return sc, fmt.Errorf(
				"vecdb: inconsistent byte order for slot %d of scenario %q (got=%v, want=%v)",
				i, name, bo, sc.Order,
			)
		}

		sc.Batch.Slots = append(sc.Batch.Slots, slot)
		i++
	}

	if err := rows.Err(); err != nil {
		return sc, fmt.Errorf("vecdb: could not scan db for scenario %q: %w", name, err)
	}

	if err := ctx.Err(); err != nil {
		return sc, fmt.Errorf("vecdb: context error while retrieving scenario %q: %w", name, err)
	}

	if sc.Batch.Len() == 0 {
		return sc, fmt.Errorf("vecdb: no slot for scenario %q", name)
	}

	return sc, nil
}

// Record stores the verification results into the database.
// Results are inserted concurrently; the first failure is returned.
func (db *DB) Record(ctx context.Context, res ...Result) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(4)
	for i := range res {
		r := res[i]
		grp.Go(func() error {
			_, err := db.db.ExecContext(
				ctx,
				`
INSERT INTO results (card, scenario, slots, mismatches, status, message, elapsed_ns, datetime)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`,
				r.Card, r.Scenario, int64(r.Slots), int64(r.Mismatches),
				string(r.Status), r.Message, int64(r.Elapsed), r.Date.UTC(),
			)
			if err != nil {
				return fmt.Errorf(
					"vecdb: could not record result of scenario %q on card %q: %w",
					r.Scenario, r.Card, err,
				)
			}
			return nil
		})
	}

	return grp.Wait()
}
