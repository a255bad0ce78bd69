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
	"fmt"
	"io/fs"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/synclock"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

// goose keeps its filesystem, dialect and logger in package globals, so
// every migration in the process runs under this lock.
var migrationMutex = synclock.New(
	synclock.WithName("migrations"),
	synclock.WithTimeout(time.Minute),
)

// MigrationLock returns the process-wide migration lock, for diagnostics.
func MigrationLock() *synclock.Mutex {
	return migrationMutex
}

// gooseZerologAdapter implements goose.Logger interface to redirect
// goose output to zerolog instead of stdout
type gooseZerologAdapter struct{}

func (*gooseZerologAdapter) Printf(format string, v ...any) {
	log.Info().Msgf(format, v...)
}

func (*gooseZerologAdapter) Fatalf(format string, v ...any) {
	log.Fatal().Msgf(format, v...)
}

// MigrateTo applies the goose migrations in migrationDir of migrationFiles
// up to and including version.
func MigrateTo(
	ctx context.Context,
	db *sql.DB,
	migrationFiles fs.FS,
	migrationDir string,
	version uint,
) error {
	log.Debug().Msg("waiting for migration mutex")
	l, err := synclock.NewLocker(migrationMutex)
	if err != nil {
		return fmt.Errorf("failed to lock migration state: %w", err)
	}
	log.Debug().Msg("migration mutex acquired")
	defer func() {
		l.Release()
		log.Debug().Msg("migration mutex released")
	}()

	goose.SetLogger(&gooseZerologAdapter{})
	goose.SetBaseFS(migrationFiles)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("error setting goose dialect: %w", err)
	}

	log.Debug().
		Str("migration_dir", migrationDir).
		Uint("version", version).
		Msg("running goose migrations")
	if err := goose.UpToContext(ctx, db, migrationDir, int64(version)); err != nil {
		return fmt.Errorf("error running migrations up to %d: %w", version, err)
	}

	return nil
}

// MigrationSchema is a Schema whose versions are goose migration numbers.
type MigrationSchema struct {
	Files  fs.FS
	Name   string
	Dir    string
	Target uint
}

func (s *MigrationSchema) Module() string {
	return s.Name
}

func (s *MigrationSchema) TargetVersion() uint {
	return s.Target
}

func (s *MigrationSchema) Initialize(ctx context.Context, db *sql.DB) error {
	return MigrateTo(ctx, db, s.Files, s.Dir, s.Target)
}

// Upgrade applies the pending migrations; goose tracks which ones ran, so
// from is only informational.
func (s *MigrationSchema) Upgrade(ctx context.Context, db *sql.DB, from uint) error {
	log.Debug().Str("module", s.Name).Uint("from", from).Msg("applying pending migrations")
	return MigrateTo(ctx, db, s.Files, s.Dir, s.Target)
}
