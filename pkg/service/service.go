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

// Package service runs the daemon's workers: capture sources feeding the
// tracker and device log, handlers reacting to tracker events, periodic
// maintenance and the API server.
//
// Every worker shares state through synclock mutexes. A lock that cannot be
// taken within its timeout is treated as a deadlock: the worker returns the
// error, which cancels the others, and Run returns it.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/api"
	"github.com/ZaparooProject/go-synclock/pkg/database/devicelog"
	"github.com/ZaparooProject/go-synclock/pkg/service/broker"
	"github.com/ZaparooProject/go-synclock/pkg/service/tracker"
	"github.com/ZaparooProject/go-synclock/pkg/synclock"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const handlerBuffer = 100

var ErrNoSources = errors.New("no capture sources configured")

type Deps struct {
	Clock    clockwork.Clock
	Log      *devicelog.DeviceLog
	Tracker  *tracker.Tracker
	Events   <-chan tracker.Event
	Registry *synclock.Registry
	API      *api.Server
	Sources  []Source
}

type Options struct {
	Handlers            int
	MaintenanceInterval time.Duration
	Retention           time.Duration
}

// Run starts every worker and blocks until ctx is cancelled or one of them
// fails. A clean shutdown returns nil.
//
//nolint:gocritic // deps copied into the workers
func Run(ctx context.Context, deps Deps, opts Options) error {
	if len(deps.Sources) == 0 {
		return ErrNoSources
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	b := broker.NewBroker(deps.Events)
	if deps.Registry != nil {
		if err := deps.Registry.Register(b.Lock()); err != nil {
			return err
		}
		defer deps.Registry.Unregister(b.Lock().Name())
	}

	subs := make([]<-chan tracker.Event, 0, opts.Handlers)
	for range opts.Handlers {
		ch, _, err := b.Subscribe(handlerBuffer)
		if err != nil {
			return err
		}
		subs = append(subs, ch)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.Run(gctx)
	})

	emit := func(obs devicelog.Observation) error {
		if err := deps.Tracker.Observe(obs); err != nil {
			return err
		}
		if deps.Log != nil {
			return deps.Log.Record(obs)
		}
		return nil
	}
	for _, src := range deps.Sources {
		log.Info().Str("source", src.Name()).Msg("starting capture source")
		g.Go(func() error {
			return src.Run(gctx, emit)
		})
	}

	for i, ch := range subs {
		h := &handler{id: i, tracker: deps.Tracker}
		g.Go(func() error {
			return h.run(gctx, ch)
		})
	}

	if opts.MaintenanceInterval > 0 {
		m := &maintenance{
			clock:     deps.Clock,
			log:       deps.Log,
			tracker:   deps.Tracker,
			interval:  opts.MaintenanceInterval,
			retention: opts.Retention,
		}
		g.Go(func() error {
			return m.run(gctx)
		})
	}

	if deps.API != nil {
		g.Go(func() error {
			return deps.API.Start(gctx)
		})
	}

	err := g.Wait()
	if err != nil {
		log.Error().Err(err).Msg("service stopped with error")
		return fmt.Errorf("service failed: %w", err)
	}
	log.Info().Msg("service stopped")
	return nil
}

// handler reacts to tracker events by reading the tracker back under a
// shared lock.
type handler struct {
	tracker *tracker.Tracker
	seen    int
	id      int
}

func (h *handler) run(ctx context.Context, events <-chan tracker.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := h.handle(ev); err != nil {
				return fmt.Errorf("handler %d: %w", h.id, err)
			}
		}
	}
}

//nolint:gocritic // event passed by value from the channel
func (h *handler) handle(ev tracker.Event) error {
	h.seen++
	switch ev.Type {
	case tracker.EventDeviceAdded:
		dev, ok, err := h.tracker.Get(ev.Device.MAC)
		if err != nil {
			return err
		}
		if ok {
			log.Debug().
				Int("handler", h.id).
				Str("mac", dev.MAC).
				Str("source", dev.Source).
				Int("channel", dev.Channel).
				Msg("new device")
		}
	case tracker.EventDeviceExpired:
		n, err := h.tracker.Len()
		if err != nil {
			return err
		}
		log.Debug().
			Int("handler", h.id).
			Str("mac", ev.Device.MAC).
			Int("remaining", n).
			Msg("device expired")
	}
	return nil
}

// maintenance periodically drops devices that have not been seen within
// the retention window, from both the tracker and the device log.
type maintenance struct {
	clock     clockwork.Clock
	log       *devicelog.DeviceLog
	tracker   *tracker.Tracker
	interval  time.Duration
	retention time.Duration
}

func (m *maintenance) run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := m.tick(); err != nil {
				return fmt.Errorf("maintenance: %w", err)
			}
		}
	}
}

func (m *maintenance) tick() error {
	cutoff := m.clock.Now().Add(-m.retention)

	expired, err := m.tracker.Expire(cutoff)
	if err != nil {
		return err
	}

	var pruned int64
	if m.log != nil {
		pruned, err = m.log.Prune(cutoff)
		if err != nil {
			return err
		}
	}

	if expired > 0 || pruned > 0 {
		log.Info().
			Int("expired", expired).
			Int64("pruned", pruned).
			Time("cutoff", cutoff).
			Msg("maintenance complete")
	}
	return nil
}
