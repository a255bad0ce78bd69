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

// Package devicelog persists the devices seen by capture sources.
package devicelog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/database"
	"github.com/rs/zerolog/log"
)

const (
	ModuleName    = "devicelog"
	SchemaVersion = 2
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Observation is a single sighting of a device by a capture source.
type Observation struct {
	Time    time.Time
	MAC     string
	Source  string
	Channel int
}

type Device struct {
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	MAC       string    `json:"mac"`
	Source    string    `json:"source"`
	Channel   int       `json:"channel"`
	Packets   int64     `json:"packets"`
}

func schemaAt(version uint) *database.MigrationSchema {
	return &database.MigrationSchema{
		Files:  migrationFiles,
		Name:   ModuleName,
		Dir:    "migrations",
		Target: version,
	}
}

type DeviceLog struct {
	ds *database.Datastore
}

// Open opens the device log at path and brings its schema up to date.
func Open(ctx context.Context, path string, opts ...database.Option) (*DeviceLog, error) {
	return open(ctx, path, SchemaVersion, opts...)
}

func open(ctx context.Context, path string, version uint, opts ...database.Option) (*DeviceLog, error) {
	ds, err := database.Open(ctx, path, schemaAt(version), opts...)
	if err != nil {
		return nil, err
	}
	if err := ds.Setup(); err != nil {
		if closeErr := ds.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close device log after setup error")
		}
		return nil, err
	}
	return &DeviceLog{ds: ds}, nil
}

// Datastore returns the underlying store.
func (dl *DeviceLog) Datastore() *database.Datastore {
	return dl.ds
}

func (dl *DeviceLog) Close() error {
	return dl.ds.Close()
}

// Record stores an observation, creating the device on first sight.
//
//nolint:gocritic // struct passed for DB insertion
func (dl *DeviceLog) Record(obs Observation) error {
	return dl.ds.Exclusive(func(ctx context.Context, db *sql.DB) error {
		return sqlRecord(ctx, db, obs)
	})
}

// Device returns the device with the given MAC and whether it exists.
func (dl *DeviceLog) Device(mac string) (Device, bool, error) {
	var (
		dev   Device
		found bool
	)
	err := dl.ds.Shared(func(ctx context.Context, db *sql.DB) error {
		var err error
		dev, found, err = sqlGetDevice(ctx, db, mac)
		return err
	})
	return dev, found, err
}

// Devices returns every device, most recently seen first.
func (dl *DeviceLog) Devices() ([]Device, error) {
	var devices []Device
	err := dl.ds.Shared(func(ctx context.Context, db *sql.DB) error {
		var err error
		devices, err = sqlGetDevices(ctx, db)
		return err
	})
	return devices, err
}

func (dl *DeviceLog) Count() (int, error) {
	var count int
	err := dl.ds.Shared(func(ctx context.Context, db *sql.DB) error {
		var err error
		count, err = sqlCount(ctx, db)
		return err
	})
	return count, err
}

// Prune deletes devices not seen since before and returns how many went.
func (dl *DeviceLog) Prune(before time.Time) (int64, error) {
	var removed int64
	err := dl.ds.Exclusive(func(ctx context.Context, db *sql.DB) error {
		var err error
		removed, err = sqlPrune(ctx, db, before)
		if err != nil {
			return err
		}
		// still holding the write lock; Count re-enters it
		remaining, err := dl.Count()
		if err != nil {
			return err
		}
		log.Debug().
			Int64("removed", removed).
			Int("remaining", remaining).
			Msg("pruned device log")
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune device log: %w", err)
	}
	return removed, nil
}
