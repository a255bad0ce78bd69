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

package devicelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

//nolint:gocritic // struct passed for DB insertion
func sqlRecord(ctx context.Context, db *sql.DB, obs Observation) error {
	stmt, err := db.PrepareContext(ctx, `
		insert into Devices(
			MAC, Source, Channel, FirstSeen, LastSeen, Packets
		) values (?, ?, ?, ?, ?, 1)
		on conflict(MAC) do update set
			Source = excluded.Source,
			Channel = excluded.Channel,
			LastSeen = excluded.LastSeen,
			Packets = Packets + 1;
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare device insert statement: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close sql statement")
		}
	}()

	seen := obs.Time.Unix()
	_, err = stmt.ExecContext(ctx, obs.MAC, obs.Source, obs.Channel, seen, seen)
	if err != nil {
		return fmt.Errorf("failed to execute device insert: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (Device, error) {
	var (
		dev       Device
		firstSeen int64
		lastSeen  int64
	)
	err := row.Scan(&dev.MAC, &dev.Source, &dev.Channel, &firstSeen, &lastSeen, &dev.Packets)
	if err != nil {
		return Device{}, err //nolint:wrapcheck // wrapped by callers
	}
	dev.FirstSeen = time.Unix(firstSeen, 0)
	dev.LastSeen = time.Unix(lastSeen, 0)
	return dev, nil
}

func sqlGetDevice(ctx context.Context, db *sql.DB, mac string) (Device, bool, error) {
	row := db.QueryRowContext(ctx, `
		select MAC, Source, Channel, FirstSeen, LastSeen, Packets
		from Devices where MAC = ?;
	`, mac)
	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, false, nil
	} else if err != nil {
		return Device{}, false, fmt.Errorf("failed to scan device: %w", err)
	}
	return dev, true, nil
}

func sqlGetDevices(ctx context.Context, db *sql.DB) ([]Device, error) {
	rows, err := db.QueryContext(ctx, `
		select MAC, Source, Channel, FirstSeen, LastSeen, Packets
		from Devices order by LastSeen desc, MAC;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close rows")
		}
	}()

	list := make([]Device, 0, 25)
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		list = append(list, dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return list, nil
}

func sqlCount(ctx context.Context, db *sql.DB) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `select count(*) from Devices;`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return count, nil
}

func sqlPrune(ctx context.Context, db *sql.DB, before time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, `delete from Devices where LastSeen < ?;`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to execute device prune: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}
