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

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/database/devicelog"
	"github.com/jonboulle/clockwork"
)

// Emit hands an observation to the service. An error means the service is
// failing and the source should stop.
type Emit func(obs devicelog.Observation) error

// Source produces observations until ctx is done.
type Source interface {
	Name() string
	Run(ctx context.Context, emit Emit) error
}

// SimulatedSource cycles through a fixed set of devices on a fixed
// interval, standing in for a capture interface.
type SimulatedSource struct {
	clock    clockwork.Clock
	name     string
	prefix   byte
	devices  int
	channels int
	interval time.Duration
}

func NewSimulatedSource(clock clockwork.Clock, index, devices int, interval time.Duration) *SimulatedSource {
	return &SimulatedSource{
		clock:    clock,
		name:     fmt.Sprintf("sim%d", index),
		prefix:   byte(index),
		devices:  max(devices, 1),
		channels: 11,
		interval: interval,
	}
}

func (s *SimulatedSource) Name() string {
	return s.name
}

// MAC returns the address of the i-th simulated device.
func (s *SimulatedSource) MAC(i int) string {
	return fmt.Sprintf("02:00:%02x:00:%02x:%02x", s.prefix, byte(i>>8), byte(i))
}

func (s *SimulatedSource) Run(ctx context.Context, emit Emit) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			obs := devicelog.Observation{
				Time:    s.clock.Now(),
				MAC:     s.MAC(n % s.devices),
				Source:  s.name,
				Channel: n%s.channels + 1,
			}
			if err := emit(obs); err != nil {
				return fmt.Errorf("source %s: %w", s.name, err)
			}
			n++
		}
	}
}
