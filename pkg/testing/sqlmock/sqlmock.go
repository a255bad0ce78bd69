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

// Package sqlmock provides SQL mocking utilities for the datastore tests.
// It lives outside the database packages so both they and their subpackages
// can use it without import cycles.
package sqlmock

import (
	"database/sql"
	"fmt"

	"github.com/DATA-DOG/go-sqlmock"
)

// NewSQLMock creates a sqlmock with regex query matching enabled.
func NewSQLMock() (*sql.DB, sqlmock.Sqlmock, error) {
	db, mockDB, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sqlmock: %w", err)
	}
	return db, mockDB, nil
}

// ExpectSchemaVersion queues the queries a datastore runs to read its
// schema version. A version of 0 simulates a file without a meta table.
func ExpectSchemaVersion(mock sqlmock.Sqlmock, module string, version uint) {
	if version == 0 {
		mock.ExpectQuery(`select count\(\*\) from sqlite_master`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		return
	}
	mock.ExpectQuery(`select count\(\*\) from sqlite_master`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`select DBVersion from StoreMeta where Module`).
		WithArgs(module).
		WillReturnRows(sqlmock.NewRows([]string{"DBVersion"}).AddRow(version))
}
