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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/api"
	"github.com/ZaparooProject/go-synclock/pkg/config"
	"github.com/ZaparooProject/go-synclock/pkg/database"
	"github.com/ZaparooProject/go-synclock/pkg/database/devicelog"
	"github.com/ZaparooProject/go-synclock/pkg/helpers"
	"github.com/ZaparooProject/go-synclock/pkg/service"
	"github.com/ZaparooProject/go-synclock/pkg/service/tracker"
	"github.com/ZaparooProject/go-synclock/pkg/synclock"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	simulatedDevices  = 16
	simulatedInterval = time.Second
)

var appVersion = "dev"

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func defaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "synclockd")
}

func run() error {
	configDir := flag.String("config", defaultDir(), "directory containing "+config.CfgFile)
	dataDir := flag.String("data", defaultDir(), "directory for the device log and log files")
	debug := flag.Bool("debug", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		_, _ = fmt.Fprintln(os.Stdout, appVersion)
		return nil
	}

	cfg, err := config.NewConfig(afero.NewOsFs(), *configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	err = helpers.InitLogging(
		filepath.Join(*dataDir, "logs"),
		*debug || cfg.DebugLogging(),
		[]io.Writer{os.Stderr},
	)
	if err != nil {
		return fmt.Errorf("error initializing logging: %w", err)
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	runID := uuid.New().String()
	log.Info().
		Str("version", appVersion).
		Str("run_id", runID).
		Bool("lock_timeouts", synclock.TimeoutsEnabled).
		Msg("starting synclockd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lockTimeout := cfg.DeadlockTimeout()
	registry := synclock.NewRegistry()
	for _, m := range []*synclock.Mutex{cfg.Lock(), database.MigrationLock()} {
		if err := registry.Register(m); err != nil {
			return err
		}
	}

	dbPath := cfg.DatastorePath()
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(*dataDir, dbPath)
	}
	log.Info().Str("path", dbPath).Msg("opening device log")
	dl, err := devicelog.Open(
		ctx,
		dbPath,
		database.WithAppVersion(appVersion),
		database.WithLockTimeout(lockTimeout),
	)
	if err != nil {
		return fmt.Errorf("error opening device log: %w", err)
	}
	defer func() {
		if err := dl.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing device log")
		}
	}()
	if err := registry.Register(dl.Datastore().Lock()); err != nil {
		return err
	}

	tr, events := tracker.New(synclock.WithTimeout(lockTimeout))
	if err := registry.Register(tr.Lock()); err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	srv, err := api.NewServer(api.Deps{
		Clock:    clock,
		Registry: registry,
		Store:    dl.Datastore(),
		Devices:  tr,
	}, api.Options{
		Listen:      cfg.APIListen(),
		RunID:       runID,
		CORSOrigins: cfg.CORSOrigins(),
		AllowedIPs:  cfg.AllowedIPs(),
	})
	if err != nil {
		return fmt.Errorf("error creating api server: %w", err)
	}

	workers := cfg.Workers()
	sources := make([]service.Source, 0, workers.Sources)
	for i := range workers.Sources {
		sources = append(sources, service.NewSimulatedSource(clock, i, simulatedDevices, simulatedInterval))
	}

	err = service.Run(ctx, service.Deps{
		Clock:    clock,
		Log:      dl,
		Tracker:  tr,
		Events:   events,
		Registry: registry,
		API:      srv,
		Sources:  sources,
	}, service.Options{
		Handlers:            workers.Handlers,
		MaintenanceInterval: workers.MaintenanceInterval.Duration,
		Retention:           workers.Retention.Duration,
	})
	if errors.Is(err, synclock.ErrDeadlockTimeout) {
		for _, st := range registry.Held() {
			log.Error().
				Str("mutex", st.Name).
				Int64("owner", st.Owner).
				Int32("owner_count", st.OwnerCount).
				Int32("shared_count", st.SharedCount).
				Msg("lock held at shutdown")
		}
	}
	return err
}
