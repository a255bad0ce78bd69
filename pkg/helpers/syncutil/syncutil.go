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

// Package syncutil provides the low-level lock primitives used across the
// service: plain mutexes with optional deadlock detection (build tag
// -tags=deadlock) and timed gates that back synclock.Mutex.
package syncutil

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DeadlockTimeout is how long a lock may be waited on before it is reported
// as a potential deadlock.
const DeadlockTimeout = 5 * time.Second

// A Gate is a timed mutual exclusion primitive. A locked Gate may be unlocked
// by any goroutine, not only the one that locked it.
type Gate interface {
	Lock()
	Unlock()
	// TryLockFor acquires the gate, waiting at most d. A d <= 0 only polls.
	TryLockFor(d time.Duration) bool
}

// TimedMutex is a non-recursive Gate backed by a single slot channel.
type TimedMutex struct {
	clock clockwork.Clock
	slot  chan struct{}
}

// NewTimedMutex returns an unlocked TimedMutex. A nil clock uses the real
// clock.
func NewTimedMutex(clock clockwork.Clock) *TimedMutex {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TimedMutex{
		clock: clock,
		slot:  make(chan struct{}, 1),
	}
}

func (m *TimedMutex) Lock() {
	m.slot <- struct{}{}
}

// Unlock panics if the mutex is not locked, like sync.Mutex.
func (m *TimedMutex) Unlock() {
	select {
	case <-m.slot:
	default:
		panic("syncutil: unlock of unlocked TimedMutex")
	}
}

func (m *TimedMutex) TryLockFor(d time.Duration) bool {
	select {
	case m.slot <- struct{}{}:
		return true
	default:
	}

	if d <= 0 {
		return false
	}

	timer := m.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case m.slot <- struct{}{}:
		return true
	case <-timer.Chan():
		return false
	}
}

// Locked reports whether the mutex is currently held.
func (m *TimedMutex) Locked() bool {
	return len(m.slot) == 1
}
