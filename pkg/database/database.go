// go-synclock
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of go-synclock.
//
// go-synclock is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-synclock is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-synclock.  If not, see <http://www.gnu.org/licenses/>.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/synclock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

/*
 * Each datastore is an independent sqlite file. It holds one core table,
 * StoreMeta, recording which module owns the file, the schema version and
 * the application version that last wrote it. Concrete stores implement
 * Schema and expose their own API on top; callers never write SQL.
 *
 * Every schema read, write and upgrade runs under the store's single
 * synclock.Mutex, so one writer at a time touches the file.
 */

var (
	ErrNullSQL        = errors.New("datastore is not connected")
	ErrStorageInit    = errors.New("datastore initialization failed")
	ErrStorageUpgrade = errors.New("datastore upgrade failed")
	ErrStorageNewer   = errors.New("datastore was written by a newer schema")
)

const sqliteConnParams = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"

// Schema describes the tables a concrete store owns. Versions start at 1;
// version 0 means the file was never initialized.
type Schema interface {
	Module() string
	TargetVersion() uint
	// Initialize creates the schema at TargetVersion on an empty database.
	Initialize(ctx context.Context, db *sql.DB) error
	// Upgrade brings a database at version from up to TargetVersion.
	Upgrade(ctx context.Context, db *sql.DB, from uint) error
}

type Option func(*Datastore)

// WithAppVersion sets the application version recorded in StoreMeta.
func WithAppVersion(version string) Option {
	return func(ds *Datastore) {
		ds.appVersion = version
	}
}

// WithLockTimeout sets the deadlock timeout of the store lock.
func WithLockTimeout(d time.Duration) Option {
	return func(ds *Datastore) {
		ds.lockTimeout = &d
	}
}

// WithSQL uses an already open database instead of opening path. It exists
// for tests.
func WithSQL(db *sql.DB) Option {
	return func(ds *Datastore) {
		ds.sql = db
	}
}

type Datastore struct {
	ctx         context.Context
	sql         *sql.DB
	schema      Schema
	mu          *synclock.Mutex
	lockTimeout *time.Duration
	path        string
	appVersion  string
}

// Open opens, creating if needed, the datastore file at path. It does not
// touch the schema; call Setup for that.
func Open(ctx context.Context, path string, schema Schema, opts ...Option) (*Datastore, error) {
	ds := &Datastore{
		ctx:        ctx,
		schema:     schema,
		path:       path,
		appVersion: "dev",
	}
	for _, opt := range opts {
		opt(ds)
	}

	lockOpts := []synclock.Option{synclock.WithName("datastore:" + schema.Module())}
	if ds.lockTimeout != nil {
		lockOpts = append(lockOpts, synclock.WithTimeout(*ds.lockTimeout))
	}
	ds.mu = synclock.New(lockOpts...)

	if ds.sql != nil {
		return ds, nil
	}

	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory for datastore: %w", err)
	}
	sqlInstance, err := sql.Open("sqlite3", path+sqliteConnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open datastore: %w", err)
	}
	ds.sql = sqlInstance

	return ds, nil
}

// Lock returns the store lock, for diagnostics.
func (ds *Datastore) Lock() *synclock.Mutex {
	return ds.mu
}

func (ds *Datastore) Path() string {
	return ds.path
}

func (ds *Datastore) Schema() Schema {
	return ds.schema
}

// SchemaVersion returns the schema version recorded for the store's
// module, or 0 if it was never initialized.
func (ds *Datastore) SchemaVersion() (uint, error) {
	l, err := synclock.NewLocker(ds.mu)
	if err != nil {
		return 0, fmt.Errorf("failed to lock datastore: %w", err)
	}
	defer l.Release()

	if ds.sql == nil {
		return 0, ErrNullSQL
	}
	return sqlGetVersion(ds.ctx, ds.sql, ds.schema.Module())
}

// Initialize creates the core table and the module schema on a new
// database. Failures wrap ErrStorageInit.
func (ds *Datastore) Initialize() error {
	l, err := synclock.NewLocker(ds.mu)
	if err != nil {
		return fmt.Errorf("failed to lock datastore: %w", err)
	}
	defer l.Release()

	if ds.sql == nil {
		return ErrNullSQL
	}

	module := ds.schema.Module()
	target := ds.schema.TargetVersion()
	log.Info().Str("module", module).Uint("version", target).Msg("initializing datastore")

	if err := sqlAllocateMeta(ds.ctx, ds.sql); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStorageInit, module, err)
	}
	if err := ds.schema.Initialize(ds.ctx, ds.sql); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStorageInit, module, err)
	}
	if err := sqlSetVersion(ds.ctx, ds.sql, module, target, ds.appVersion); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStorageInit, module, err)
	}
	return nil
}

// Upgrade moves a database at version from up to the schema target.
// Failures wrap ErrStorageUpgrade.
func (ds *Datastore) Upgrade(from uint) error {
	l, err := synclock.NewLocker(ds.mu)
	if err != nil {
		return fmt.Errorf("failed to lock datastore: %w", err)
	}
	defer l.Release()

	if ds.sql == nil {
		return ErrNullSQL
	}

	module := ds.schema.Module()
	target := ds.schema.TargetVersion()
	if from >= target {
		return nil
	}
	log.Info().
		Str("module", module).
		Uint("from", from).
		Uint("to", target).
		Msg("upgrading datastore")

	if err := ds.schema.Upgrade(ds.ctx, ds.sql, from); err != nil {
		return fmt.Errorf("%w: %s from %d: %w", ErrStorageUpgrade, module, from, err)
	}
	if err := sqlSetVersion(ds.ctx, ds.sql, module, target, ds.appVersion); err != nil {
		return fmt.Errorf("%w: %s from %d: %w", ErrStorageUpgrade, module, from, err)
	}
	return nil
}

// Setup initializes a new database or upgrades an old one. The store lock
// is held across the whole check and the nested calls re-enter it.
func (ds *Datastore) Setup() error {
	l, err := synclock.NewLocker(ds.mu)
	if err != nil {
		return fmt.Errorf("failed to lock datastore: %w", err)
	}
	defer l.Release()

	version, err := ds.SchemaVersion()
	if err != nil {
		return err
	}

	target := ds.schema.TargetVersion()
	switch {
	case version == 0:
		return ds.Initialize()
	case version < target:
		return ds.Upgrade(version)
	case version > target:
		return fmt.Errorf("%w: %s is at version %d, expected %d",
			ErrStorageNewer, ds.schema.Module(), version, target)
	default:
		return nil
	}
}

// Exclusive runs fn with the database under the store write lock.
func (ds *Datastore) Exclusive(fn func(ctx context.Context, db *sql.DB) error) error {
	return synclock.WithLock(ds.mu, func() error {
		if ds.sql == nil {
			return ErrNullSQL
		}
		return fn(ds.ctx, ds.sql)
	})
}

// Shared runs fn with the database under the store shared lock.
func (ds *Datastore) Shared(fn func(ctx context.Context, db *sql.DB) error) error {
	return synclock.WithRLock(ds.mu, func() error {
		if ds.sql == nil {
			return ErrNullSQL
		}
		return fn(ds.ctx, ds.sql)
	})
}

// Close retires the store. It takes the lock for good, so any later use
// from another goroutine fails with a deadlock timeout rather than touching
// a closed file.
func (ds *Datastore) Close() error {
	synclock.NewEOLLocker(ds.mu)

	if ds.sql == nil {
		return nil
	}
	err := ds.sql.Close()
	ds.sql = nil
	if err != nil {
		return fmt.Errorf("failed to close datastore: %w", err)
	}
	return nil
}
