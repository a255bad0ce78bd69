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

package syncutil

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/petermattis/goid"
)

// RecursiveTimedMutex is the portable Gate. The goroutine holding it may lock
// it again without blocking; each Lock needs a matching Unlock. Unlock may
// be called from any goroutine and always drops one level.
type RecursiveTimedMutex struct {
	inner *TimedMutex
	owner atomic.Int64
	depth atomic.Int32
}

// NewRecursiveTimedMutex returns an unlocked RecursiveTimedMutex. A nil
// clock uses the real clock.
func NewRecursiveTimedMutex(clock clockwork.Clock) *RecursiveTimedMutex {
	return &RecursiveTimedMutex{inner: NewTimedMutex(clock)}
}

func (m *RecursiveTimedMutex) reenter(id int64) bool {
	if m.depth.Load() > 0 && m.owner.Load() == id {
		m.depth.Add(1)
		return true
	}
	return false
}

func (m *RecursiveTimedMutex) claim(id int64) {
	m.owner.Store(id)
	m.depth.Store(1)
}

func (m *RecursiveTimedMutex) Lock() {
	id := goid.Get()
	if m.reenter(id) {
		return
	}
	m.inner.Lock()
	m.claim(id)
}

func (m *RecursiveTimedMutex) TryLockFor(d time.Duration) bool {
	id := goid.Get()
	if m.reenter(id) {
		return true
	}
	if !m.inner.TryLockFor(d) {
		return false
	}
	m.claim(id)
	return true
}

// Unlock panics if the mutex is not locked.
func (m *RecursiveTimedMutex) Unlock() {
	switch n := m.depth.Add(-1); {
	case n > 0:
		return
	case n < 0:
		m.depth.Add(1)
		panic("syncutil: unlock of unlocked RecursiveTimedMutex")
	}
	m.owner.Store(0)
	m.inner.Unlock()
}

// Depth returns the current recursion depth, 0 when unlocked.
func (m *RecursiveTimedMutex) Depth() int {
	return int(m.depth.Load())
}
