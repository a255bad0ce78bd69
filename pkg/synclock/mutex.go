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

package synclock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/petermattis/goid"
	"github.com/rs/zerolog/log"
)

// NoOwner is the owner of a mutex that nobody holds exclusively.
const NoOwner int64 = 0

// sharedPollInterval caps the first gate wait of a goroutine claiming shared
// access, so it notices a reader group formed by someone else meanwhile.
// Later waits back off up to maxPollInterval.
const (
	sharedPollInterval = 2 * time.Millisecond
	maxPollInterval    = 50 * time.Millisecond
)

// Option configures a Mutex created with New.
type Option func(*Mutex)

// WithName sets the name used in errors, logs and the Registry.
func WithName(name string) Option {
	return func(m *Mutex) {
		m.name = name
	}
}

// WithTimeout sets the deadlock timeout used by guards. A value <= 0
// disables the bound for this mutex.
func WithTimeout(d time.Duration) Option {
	return func(m *Mutex) {
		m.timeout = d
		m.timeoutSet = true
	}
}

// WithClock sets the clock used for deadlines.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Mutex) {
		m.clock = clock
	}
}

// WithGate replaces the build-time selected gate.
func WithGate(gate syncutil.Gate) Option {
	return func(m *Mutex) {
		m.gate = gate
	}
}

// Mutex is a recursive, upgradeable reader/writer lock whose acquisitions
// are bounded by a deadlock timeout.
//
// One goroutine at a time may hold the write lock, recursively. Any number
// of other goroutines may hold the shared lock while no write lock is held.
// The writer's own shared requests count as further write recursion, so
// nested critical sections never deadlock on themselves.
//
// The bookkeeping sits on top of a single Gate: the gate is held while the
// writer, or the group of readers as a whole, is inside. Readers joining an
// active group do not touch the gate, and neither does owner recursion.
//
// The zero value is an unlocked mutex using DefaultTimeout. A Mutex must not
// be copied after first use.
type Mutex struct {
	gate       syncutil.Gate
	clock      clockwork.Clock
	name       string
	timeout    time.Duration
	owner      atomic.Int64
	once       sync.Once
	ownerCount atomic.Int32
	shared     atomic.Int32
	timeoutSet bool
}

// New returns an unlocked Mutex.
func New(opts ...Option) *Mutex {
	m := &Mutex{}
	for _, opt := range opts {
		opt(m)
	}
	m.once.Do(m.init)
	return m
}

func (m *Mutex) init() {
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.gate == nil {
		m.gate = syncutil.NewGate(m.clock)
	}
	if !m.timeoutSet {
		m.timeout = DefaultTimeout
	}
	if m.name == "" {
		m.name = "anonymous"
	}
}

// Name returns the mutex name.
func (m *Mutex) Name() string {
	m.once.Do(m.init)
	return m.name
}

// Timeout returns the configured deadlock timeout.
func (m *Mutex) Timeout() time.Duration {
	m.once.Do(m.init)
	return m.timeout
}

// acquireTimeout is the bound guards use, 0 meaning none.
func (m *Mutex) acquireTimeout() time.Duration {
	if !TimeoutsEnabled {
		return 0
	}
	return m.Timeout()
}

// LockFor acquires the write lock, waiting at most d. A d <= 0 waits
// forever. On failure the mutex state is unchanged and the error is a
// *DeadlockError.
func (m *Mutex) LockFor(d time.Duration) error {
	m.once.Do(m.init)
	self := goid.Get()

	if m.shared.Load() > 0 {
		// The gate is held by the reader group and is released when the
		// last reader leaves.
		return m.claimExclusive(self, d, CondSharedHeld)
	}

	if m.isOwner(self) {
		m.ownerCount.Add(1)
		return nil
	}

	return m.claimExclusive(self, d, CondClaimWrite)
}

// Lock acquires the write lock without a deadline. A goroutine that still
// holds a shared lock must release it first or Lock never returns.
func (m *Mutex) Lock() {
	if err := m.LockFor(0); err != nil {
		panic(err)
	}
}

// RLockFor acquires the shared lock, waiting at most d. A d <= 0 waits
// forever. When the calling goroutine holds the write lock this is a further
// write recursion and must be released with RUnlock or Unlock.
func (m *Mutex) RLockFor(d time.Duration) error {
	m.once.Do(m.init)
	self := goid.Get()

	if m.ownerCount.Load() > 0 {
		if m.owner.Load() == self {
			m.ownerCount.Add(1)
			return nil
		}
		return m.claimShared(d, CondWriteHeld)
	}

	if m.joinShared() {
		return nil
	}

	return m.claimShared(d, CondClaimShared)
}

// RLock acquires the shared lock without a deadline.
func (m *Mutex) RLock() {
	if err := m.RLockFor(0); err != nil {
		panic(err)
	}
}

// Unlock releases one level of the write lock. It returns a *MisuseError if
// the calling goroutine does not hold the write lock.
func (m *Mutex) Unlock() error {
	m.once.Do(m.init)
	self := goid.Get()

	if m.ownerCount.Load() == 0 {
		return m.misuse("write-unlock without write lock")
	}
	if m.owner.Load() != self {
		return m.misuse("write-unlock by a goroutine that does not hold the write lock")
	}

	m.releaseOwner()
	return nil
}

// RUnlock releases one shared hold. A write owner releasing a shared hold
// it took while owning drops one write recursion level instead.
func (m *Mutex) RUnlock() error {
	m.once.Do(m.init)
	self := goid.Get()

	if m.ownerCount.Load() > 0 {
		if m.owner.Load() == self {
			m.releaseOwner()
			return nil
		}
		return m.misuse("shared-unlock while a different goroutine holds the write lock")
	}

	for {
		n := m.shared.Load()
		if n <= 0 {
			return m.misuse("shared-unlock without shared lock")
		}
		if m.shared.CompareAndSwap(n, n-1) {
			if n == 1 {
				m.gate.Unlock()
			}
			return nil
		}
	}
}

// State returns a snapshot of the lock bookkeeping.
func (m *Mutex) State() State {
	m.once.Do(m.init)

	st := State{
		Name:        m.name,
		Owner:       NoOwner,
		OwnerCount:  m.ownerCount.Load(),
		SharedCount: m.shared.Load(),
		Timeout:     m.timeout,
	}
	if st.OwnerCount > 0 {
		st.Owner = m.owner.Load()
	}
	return st
}

func (m *Mutex) isOwner(self int64) bool {
	return m.ownerCount.Load() > 0 && m.owner.Load() == self
}

func (m *Mutex) waitGate(d time.Duration) bool {
	if d <= 0 {
		m.gate.Lock()
		return true
	}
	return m.gate.TryLockFor(d)
}

func (m *Mutex) claimExclusive(self int64, d time.Duration, cond Cond) error {
	var deadline time.Time
	if d > 0 {
		deadline = m.clock.Now().Add(d)
	}

	poll := sharedPollInterval
	for {
		wait := d
		if d > 0 {
			wait = deadline.Sub(m.clock.Now())
			if wait <= 0 {
				return m.deadlock(OpExclusive, cond, d)
			}
		}

		if !m.waitGate(wait) {
			return m.deadlock(OpExclusive, cond, d)
		}
		if m.shared.Load() == 0 {
			m.owner.Store(self)
			m.ownerCount.Store(1)
			return nil
		}

		// A recursive gate still credits the goroutine that formed the
		// reader group, so it lets that goroutine back in while readers
		// remain. Hand the level back and wait for the group to drain.
		m.gate.Unlock()
		cond = CondSharedHeld

		pause := poll
		if d > 0 {
			pause = min(pause, deadline.Sub(m.clock.Now()))
		}
		if pause > 0 {
			m.clock.Sleep(pause)
		}
		poll = nextPoll(poll)
	}
}

// joinShared adds the caller to an active reader group. The gate is already
// held on the group's behalf, so the count only moves while it is positive.
func (m *Mutex) joinShared() bool {
	for {
		n := m.shared.Load()
		if n <= 0 {
			return false
		}
		if m.shared.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (m *Mutex) claimShared(d time.Duration, cond Cond) error {
	var deadline time.Time
	if d > 0 {
		deadline = m.clock.Now().Add(d)
	}

	poll := sharedPollInterval
	for {
		if m.joinShared() {
			return nil
		}

		wait := poll
		poll = nextPoll(poll)
		if d > 0 {
			remaining := deadline.Sub(m.clock.Now())
			if remaining <= 0 {
				return m.deadlock(OpShared, cond, d)
			}
			wait = min(wait, remaining)
		}

		if m.gate.TryLockFor(wait) {
			m.shared.Add(1)
			return nil
		}
	}
}

func nextPoll(cur time.Duration) time.Duration {
	return min(cur*2, maxPollInterval)
}

func (m *Mutex) releaseOwner() {
	if m.ownerCount.Add(-1) == 0 {
		m.owner.Store(NoOwner)
		m.gate.Unlock()
	}
}

func (m *Mutex) deadlock(op Op, cond Cond, d time.Duration) error {
	err := &DeadlockError{
		Name:    m.name,
		Op:      op,
		Cond:    cond,
		Timeout: d,
		Holder:  m.State(),
	}
	log.Error().
		Str("mutex", m.name).
		Stringer("op", op).
		Stringer("cond", cond).
		Int64("owner", err.Holder.Owner).
		Int32("owner_count", err.Holder.OwnerCount).
		Int32("shared_count", err.Holder.SharedCount).
		Dur("timeout", d).
		Msg("possible deadlock")
	return err
}

func (m *Mutex) misuse(reason string) error {
	err := &MisuseError{Name: m.name, Reason: reason}
	log.Error().Str("mutex", m.name).Msg(reason)
	return err
}
