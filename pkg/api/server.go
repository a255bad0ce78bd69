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

// Package api serves read-only diagnostics over HTTP: registered lock
// state, datastore schema versions and tracked devices.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/api/middleware"
	"github.com/ZaparooProject/go-synclock/pkg/database"
	"github.com/ZaparooProject/go-synclock/pkg/database/devicelog"
	"github.com/ZaparooProject/go-synclock/pkg/synclock"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	RequestTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Devices is the read side of the device tracker.
type Devices interface {
	Snapshot() ([]devicelog.Device, error)
	Get(mac string) (devicelog.Device, bool, error)
}

type Deps struct {
	Clock    clockwork.Clock
	Registry *synclock.Registry
	Store    *database.Datastore
	Devices  Devices
}

type Options struct {
	Listen      string
	RunID       string
	CORSOrigins []string
	AllowedIPs  []string
}

type Server struct {
	deps    Deps
	handler http.Handler
	limiter *middleware.IPRateLimiter
	started time.Time
	opts    Options
}

type HealthResponse struct {
	Status string `json:"status"`
	RunID  string `json:"runId"`
	Uptime string `json:"uptime"`
}

type StoreResponse struct {
	Module        string `json:"module"`
	Path          string `json:"path"`
	Version       uint   `json:"version"`
	TargetVersion uint   `json:"targetVersion"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

//nolint:gocritic // options copied into the server
func NewServer(deps Deps, opts Options) (*Server, error) {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	filter, err := middleware.NewIPFilter(opts.AllowedIPs)
	if err != nil {
		return nil, err
	}

	s := &Server{
		deps:    deps,
		opts:    opts,
		limiter: middleware.NewIPRateLimiter(deps.Clock),
		started: deps.Clock.Now(),
	}
	if deps.Registry != nil {
		if err := deps.Registry.Register(s.limiter.Lock()); err != nil {
			return nil, err
		}
	}

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.NoCache)
	r.Use(chimiddleware.Timeout(RequestTimeout))
	r.Use(middleware.HTTPIPFilterMiddleware(filter))
	r.Use(middleware.HTTPRateLimitMiddleware(s.limiter))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept"},
		ExposedHeaders: []string{},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/locks", s.handleLocks)
		r.Get("/store", s.handleStore)
		r.Get("/devices", s.handleDevices)
		r.Get("/devices/{mac}", s.handleDevice)
	})

	s.handler = r
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully. A
// failure of the rate limiter's lock also stops the server.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.limiter.RunCleanup(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("api server listening")
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("api server shutdown")
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		RunID:  s.opts.RunID,
		Uptime: s.deps.Clock.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeJSON(w, http.StatusOK, []synclock.State{})
		return
	}
	if r.URL.Query().Get("held") == "true" {
		writeJSON(w, http.StatusOK, s.deps.Registry.Held())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Registry.Snapshot())
}

func (s *Server) handleStore(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Store == nil {
		writeError(w, http.StatusNotFound, errors.New("no datastore"))
		return
	}
	version, err := s.deps.Store.SchemaVersion()
	if err != nil {
		writeLockError(w, err)
		return
	}
	schema := s.deps.Store.Schema()
	writeJSON(w, http.StatusOK, StoreResponse{
		Module:        schema.Module(),
		Path:          s.deps.Store.Path(),
		Version:       version,
		TargetVersion: schema.TargetVersion(),
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Devices == nil {
		writeJSON(w, http.StatusOK, []devicelog.Device{})
		return
	}
	devices, err := s.deps.Devices.Snapshot()
	if err != nil {
		writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	mac := chi.URLParam(r, "mac")
	if s.deps.Devices == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("device %s not found", mac))
		return
	}
	dev, ok, err := s.deps.Devices.Get(mac)
	if err != nil {
		writeLockError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("device %s not found", mac))
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("error encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// writeLockError reports a lock that could not be taken in time as
// temporarily unavailable.
func writeLockError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("api request failed")
	if errors.Is(err, synclock.ErrDeadlockTimeout) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
