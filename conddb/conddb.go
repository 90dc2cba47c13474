// Copyright 2026 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the conditions and
// configuration database for the CRI readout controllers.
package conddb // import "github.com/go-daq/cri/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// LinkConfig is the configuration of one optical link of a CRI board
// for a given setup.
type LinkConfig struct {
	Link     int     // physical link index on the board
	EqID     uint16  // equipment identifier stamped by the pattern generator
	Source   string  // data source: "disable", "user" or "pgen"
	PgenRate float64 // pattern generator rate, fraction of maximum in [0,1]
}

// DB exposes convenience methods to easily retrieve conditions data
// and configuration data from the CRI database.
type DB struct {
	db   *sql.DB
	name string // name of the CRI database
}

// Open opens a connection to the CRI database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastSetupID returns the identifier of the most recent setup.
func (db *DB) LastSetupID(ctx context.Context) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var setup uint32
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT identifier FROM setups ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return setup, fmt.Errorf("conddb: could not query setup-id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&setup)
		if err != nil {
			return setup, fmt.Errorf("conddb: could not get setup-id value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return setup, fmt.Errorf("conddb: could not scan db for setup-id: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return setup, fmt.Errorf("conddb: context error while retrieving setup-id: %w", err)
	}

	return setup, nil
}

// LinkConfigs returns the per-link configuration of the given setup,
// ordered by link index.
func (db *DB) LinkConfigs(ctx context.Context, setup uint32) ([]LinkConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cfg []LinkConfig
	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT links.link, links.eqid, links.source, links.pgen_rate FROM links
JOIN setups ON setups.identifier=links.setup
WHERE setups.identifier=?
ORDER BY links.link
`,
		setup,
	)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not run link cfg query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var lnk LinkConfig
		err = rows.Scan(&lnk.Link, &lnk.EqID, &lnk.Source, &lnk.PgenRate)
		if err != nil {
			return cfg, fmt.Errorf("conddb: could not scan row %d for link cfg: %w", i, err)
		}
		i++

		cfg = append(cfg, lnk)
	}

	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: could not scan db for link cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: context error while retrieving link cfg: %w", err)
	}

	return cfg, nil
}
