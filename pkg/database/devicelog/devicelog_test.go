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
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ZaparooProject/go-synclock/pkg/database"
	testsqlmock "github.com/ZaparooProject/go-synclock/pkg/testing/sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *DeviceLog {
	t.Helper()
	dl, err := Open(context.Background(), filepath.Join(t.TempDir(), "devices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dl.Close() })
	return dl
}

func TestOpen_CreatesSchema(t *testing.T) {
	t.Parallel()

	dl := openTestLog(t)
	version, err := dl.Datastore().SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(SchemaVersion), version)
	assert.Equal(t, ModuleName, dl.Datastore().Schema().Module())
}

func TestOpen_UpgradesVersionOne(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "devices.db")
	old, err := open(context.Background(), path, 1)
	require.NoError(t, err)
	version, err := old.Datastore().SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	require.NoError(t, old.Close())

	dl, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer func() { _ = dl.Close() }()

	version, err = dl.Datastore().SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, dl.Record(Observation{
		Time: time.Unix(1000, 0), MAC: "aa:bb:cc:dd:ee:ff", Source: "wlan0", Channel: 6,
	}))
}

func TestRecord_InsertsAndUpdates(t *testing.T) {
	t.Parallel()

	dl := openTestLog(t)
	mac := "00:11:22:33:44:55"

	require.NoError(t, dl.Record(Observation{Time: time.Unix(100, 0), MAC: mac, Source: "wlan0", Channel: 1}))
	require.NoError(t, dl.Record(Observation{Time: time.Unix(200, 0), MAC: mac, Source: "wlan1", Channel: 11}))

	dev, found, err := dl.Device(mac)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, mac, dev.MAC)
	assert.Equal(t, "wlan1", dev.Source)
	assert.Equal(t, 11, dev.Channel)
	assert.Equal(t, int64(2), dev.Packets)
	assert.Equal(t, time.Unix(100, 0), dev.FirstSeen)
	assert.Equal(t, time.Unix(200, 0), dev.LastSeen)

	_, found, err = dl.Device("ff:ff:ff:ff:ff:ff")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDevices_OrderedByLastSeen(t *testing.T) {
	t.Parallel()

	dl := openTestLog(t)
	for i, mac := range []string{"a", "b", "c"} {
		require.NoError(t, dl.Record(Observation{Time: time.Unix(int64(i*10), 0), MAC: mac, Source: "s"}))
	}

	devices, err := dl.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "c", devices[0].MAC)
	assert.Equal(t, "a", devices[2].MAC)

	count, err := dl.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestPrune_RemovesStaleDevices(t *testing.T) {
	t.Parallel()

	dl := openTestLog(t)
	require.NoError(t, dl.Record(Observation{Time: time.Unix(10, 0), MAC: "old", Source: "s"}))
	require.NoError(t, dl.Record(Observation{Time: time.Unix(500, 0), MAC: "new", Source: "s"}))

	removed, err := dl.Prune(time.Unix(100, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := dl.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.True(t, dl.Datastore().Lock().State().Free())
}

func TestRecord_ConcurrentSources(t *testing.T) {
	t.Parallel()

	dl := openTestLog(t)
	const sources = 6
	const perSource = 20

	var wg sync.WaitGroup
	errs := make(chan error, sources*perSource)
	for s := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perSource {
				errs <- dl.Record(Observation{
					Time:   time.Unix(int64(i), 0),
					MAC:    fmt.Sprintf("dev-%d", i),
					Source: fmt.Sprintf("src-%d", s),
				})
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range perSource {
			_, err := dl.Devices()
			errs <- err
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	devices, err := dl.Devices()
	require.NoError(t, err)
	require.Len(t, devices, perSource)
	for _, dev := range devices {
		assert.Equal(t, int64(sources), dev.Packets)
	}
}

func TestSqlRecord_DatabaseError(t *testing.T) {
	t.Parallel()

	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	obs := Observation{Time: time.Unix(42, 0), MAC: "m", Source: "s", Channel: 3}
	mock.ExpectPrepare(`insert into Devices.*on conflict`).
		ExpectExec().
		WithArgs(obs.MAC, obs.Source, obs.Channel, int64(42), int64(42)).
		WillReturnError(errors.New("database is locked"))

	err = sqlRecord(context.Background(), db, obs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute device insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSqlPrune_RowsAffectedError(t *testing.T) {
	t.Parallel()

	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec(`delete from Devices where LastSeen`).
		WithArgs(int64(100)).
		WillReturnResult(sqlmock.NewErrorResult(errors.New("no rows info")))

	_, err = sqlPrune(context.Background(), db, time.Unix(100, 0))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_WithSQLSetupFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := testsqlmock.NewSQLMock()
	require.NoError(t, err)

	mock.ExpectQuery(`select count\(\*\) from sqlite_master`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectClose()

	_, err = Open(context.Background(), "unused.db", database.WithSQL(db))
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
