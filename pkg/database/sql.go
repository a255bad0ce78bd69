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
	"time"
)

func sqlAllocateMeta(ctx context.Context, db *sql.DB) error {
	sqlStmt := `
	create table if not exists StoreMeta (
		Module text primary key,
		DBVersion integer not null,
		AppVersion text not null,
		Updated integer not null
	);
	`
	_, err := db.ExecContext(ctx, sqlStmt)
	if err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}
	return nil
}

func sqlGetVersion(ctx context.Context, db *sql.DB, module string) (uint, error) {
	var tables int
	err := db.QueryRowContext(ctx,
		`select count(*) from sqlite_master where type = 'table' and name = 'StoreMeta';`,
	).Scan(&tables)
	if err != nil {
		return 0, fmt.Errorf("failed to check meta table: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}

	var version uint
	err = db.QueryRowContext(ctx,
		`select DBVersion from StoreMeta where Module = ?;`,
		module,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func sqlSetVersion(ctx context.Context, db *sql.DB, module string, version uint, appVersion string) error {
	_, err := db.ExecContext(ctx, `
		insert into StoreMeta (Module, DBVersion, AppVersion, Updated)
		values (?, ?, ?, ?)
		on conflict(Module) do update set
			DBVersion = excluded.DBVersion,
			AppVersion = excluded.AppVersion,
			Updated = excluded.Updated;
	`, module, version, appVersion, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return nil
}
