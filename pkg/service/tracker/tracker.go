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

// Package tracker keeps the in-memory view of devices shared by every
// worker goroutine.
package tracker

import (
	"sort"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/database/devicelog"
	"github.com/ZaparooProject/go-synclock/pkg/synclock"
	"github.com/rs/zerolog/log"
)

const (
	EventDeviceAdded   = "device.added"
	EventDeviceExpired = "device.expired"
)

type Event struct {
	Type   string
	Device devicelog.Device
}

// Tracker holds every device currently known to the service.
//
// LOCKING RULES: mu protects devices. Events are never sent while mu is
// held; collect what needs sending, release, then notify.
type Tracker struct {
	devices map[string]*devicelog.Device
	events  chan<- Event
	mu      *synclock.Mutex
}

// New returns an empty tracker and the channel its events are sent on.
// Events are dropped when the channel buffer is full.
func New(opts ...synclock.Option) (tr *Tracker, events <-chan Event) {
	ch := make(chan Event, 100)
	opts = append([]synclock.Option{synclock.WithName("tracker")}, opts...)
	return &Tracker{
		devices: make(map[string]*devicelog.Device),
		events:  ch,
		mu:      synclock.New(opts...),
	}, ch
}

// Lock returns the tracker lock, for diagnostics.
func (t *Tracker) Lock() *synclock.Mutex {
	return t.mu
}

// Observe merges an observation into the tracked devices.
//
//nolint:gocritic // observation copied into the map
func (t *Tracker) Observe(obs devicelog.Observation) error {
	l, err := synclock.NewLocker(t.mu)
	if err != nil {
		return err
	}
	defer l.Release()

	dev, ok := t.devices[obs.MAC]
	if !ok {
		dev = &devicelog.Device{
			MAC:       obs.MAC,
			FirstSeen: obs.Time,
		}
		t.devices[obs.MAC] = dev
	}
	if err := t.touch(dev, obs); err != nil {
		return err
	}
	added := *dev

	if err := l.Unlock(); err != nil {
		return err
	}

	if !ok {
		t.notify(Event{Type: EventDeviceAdded, Device: added})
	}
	return nil
}

// touch updates dev from obs. Callers already hold the write lock; taking
// it again here is recursion, not a second acquisition.
//
//nolint:gocritic // observation copied into the device
func (t *Tracker) touch(dev *devicelog.Device, obs devicelog.Observation) error {
	return synclock.WithLock(t.mu, func() error {
		dev.Source = obs.Source
		dev.Channel = obs.Channel
		if obs.Time.After(dev.LastSeen) {
			dev.LastSeen = obs.Time
		}
		dev.Packets++
		return nil
	})
}

// Get returns a copy of the device with the given MAC.
func (t *Tracker) Get(mac string) (devicelog.Device, bool, error) {
	l, err := synclock.NewSharedLocker(t.mu)
	if err != nil {
		return devicelog.Device{}, false, err
	}
	defer l.Release()

	dev, ok := t.devices[mac]
	if !ok {
		return devicelog.Device{}, false, nil
	}
	return *dev, true, nil
}

// Snapshot returns copies of all devices, most recently seen first.
func (t *Tracker) Snapshot() ([]devicelog.Device, error) {
	l, err := synclock.NewSharedLocker(t.mu)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	devices := make([]devicelog.Device, 0, len(t.devices))
	for _, dev := range t.devices {
		devices = append(devices, *dev)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].LastSeen.Equal(devices[j].LastSeen) {
			return devices[i].MAC < devices[j].MAC
		}
		return devices[i].LastSeen.After(devices[j].LastSeen)
	})
	return devices, nil
}

func (t *Tracker) Len() (int, error) {
	l, err := synclock.NewSharedLocker(t.mu)
	if err != nil {
		return 0, err
	}
	defer l.Release()
	return len(t.devices), nil
}

// Expire drops devices last seen before the cutoff and returns how many
// were removed.
func (t *Tracker) Expire(before time.Time) (int, error) {
	l := synclock.NewDemandLocker(t.mu)
	defer l.Release()

	if err := l.Lock(); err != nil {
		return 0, err
	}
	var expired []devicelog.Device
	for mac, dev := range t.devices {
		if dev.LastSeen.Before(before) {
			expired = append(expired, *dev)
			delete(t.devices, mac)
		}
	}
	if err := l.Unlock(); err != nil {
		return 0, err
	}

	for i := range expired {
		t.notify(Event{Type: EventDeviceExpired, Device: expired[i]})
	}
	return len(expired), nil
}

func (t *Tracker) notify(ev Event) {
	select {
	case t.events <- ev:
	default:
		log.Warn().Str("type", ev.Type).Str("mac", ev.Device.MAC).Msg("tracker event dropped")
	}
}
