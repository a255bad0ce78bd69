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
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Guards tie a hold on a Mutex to a scope. Go has no destructors, so every
// guard that releases has a Release method meant to be deferred right after
// construction:
//
//	l, err := synclock.NewLocker(&s.mu)
//	if err != nil {
//		return err
//	}
//	defer l.Release()
//
// Release never fails; a mismatched release at that point is logged, since
// the misuse has already happened somewhere earlier.

// guard is the state shared by all releasing guards.
type guard struct {
	m      *Mutex
	held   atomic.Bool
	shared bool
}

func (g *guard) acquire() error {
	d := g.m.acquireTimeout()
	if g.shared {
		return g.m.RLockFor(d)
	}
	return g.m.LockFor(d)
}

func (g *guard) unlock() error {
	if g.shared {
		return g.m.RUnlock()
	}
	return g.m.Unlock()
}

func (g *guard) release() {
	if !g.held.CompareAndSwap(true, false) {
		return
	}
	if err := g.unlock(); err != nil {
		log.Error().Err(err).Msg("guard release failed")
	}
}

// Locker holds the write lock from construction until Unlock or Release.
type Locker struct {
	guard
}

// NewLocker acquires the write lock, bounded by the mutex timeout.
func NewLocker(m *Mutex) (*Locker, error) {
	l := &Locker{guard: guard{m: m}}
	if err := l.acquire(); err != nil {
		return nil, err
	}
	l.held.Store(true)
	return l, nil
}

// Unlock releases the write lock before the end of the scope; the deferred
// Release then does nothing.
func (l *Locker) Unlock() error {
	if !l.held.CompareAndSwap(true, false) {
		return l.m.misuse("locker unlocked twice")
	}
	return l.unlock()
}

// Release releases the write lock unless Unlock already did.
func (l *Locker) Release() {
	l.release()
}

// SharedLocker holds the shared lock from construction until Unlock or
// Release.
type SharedLocker struct {
	guard
}

// NewSharedLocker acquires the shared lock, bounded by the mutex timeout.
func NewSharedLocker(m *Mutex) (*SharedLocker, error) {
	l := &SharedLocker{guard: guard{m: m, shared: true}}
	if err := l.acquire(); err != nil {
		return nil, err
	}
	l.held.Store(true)
	return l, nil
}

// Unlock releases the shared lock before the end of the scope.
func (l *SharedLocker) Unlock() error {
	if !l.held.CompareAndSwap(true, false) {
		return l.m.misuse("shared locker unlocked twice")
	}
	return l.unlock()
}

// Release releases the shared lock unless Unlock already did.
func (l *SharedLocker) Release() {
	l.release()
}

// DemandLocker takes the write lock only when Lock is called.
type DemandLocker struct {
	guard
}

func NewDemandLocker(m *Mutex) *DemandLocker {
	return &DemandLocker{guard: guard{m: m}}
}

// Lock acquires the write lock. Locking a DemandLocker that already holds it
// is a *MisuseError.
func (l *DemandLocker) Lock() error {
	if l.held.Load() {
		return l.m.misuse("possible deadlock: demand locker locking while already holding a lock")
	}
	if err := l.acquire(); err != nil {
		return err
	}
	l.held.Store(true)
	return nil
}

// Unlock releases the write lock if held.
func (l *DemandLocker) Unlock() error {
	if !l.held.CompareAndSwap(true, false) {
		return nil
	}
	return l.unlock()
}

// Held reports whether the guard currently holds the lock.
func (l *DemandLocker) Held() bool {
	return l.held.Load()
}

func (l *DemandLocker) Release() {
	l.release()
}

// SharedDemandLocker takes the shared lock only when Lock is called.
type SharedDemandLocker struct {
	guard
}

func NewSharedDemandLocker(m *Mutex) *SharedDemandLocker {
	return &SharedDemandLocker{guard: guard{m: m, shared: true}}
}

// Lock acquires the shared lock. Locking a SharedDemandLocker that already
// holds it is a *MisuseError.
func (l *SharedDemandLocker) Lock() error {
	if l.held.Load() {
		return l.m.misuse("possible deadlock: shared demand locker locking while already holding a lock")
	}
	if err := l.acquire(); err != nil {
		return err
	}
	l.held.Store(true)
	return nil
}

// Unlock releases the shared lock if held.
func (l *SharedDemandLocker) Unlock() error {
	if !l.held.CompareAndSwap(true, false) {
		return nil
	}
	return l.unlock()
}

func (l *SharedDemandLocker) Held() bool {
	return l.held.Load()
}

func (l *SharedDemandLocker) Release() {
	l.release()
}

// EOLLocker takes the write lock of a mutex that is being retired, for
// end-of-life maintenance. It never releases. Failing to acquire at that
// point cannot be recovered from, so the constructor panics with the
// *DeadlockError.
type EOLLocker struct {
	m *Mutex
}

func NewEOLLocker(m *Mutex) *EOLLocker {
	if err := m.LockFor(m.acquireTimeout()); err != nil {
		panic(err)
	}
	return &EOLLocker{m: m}
}

// EOLSharedLocker is the shared counterpart of EOLLocker.
type EOLSharedLocker struct {
	m *Mutex
}

func NewEOLSharedLocker(m *Mutex) *EOLSharedLocker {
	if err := m.RLockFor(m.acquireTimeout()); err != nil {
		panic(err)
	}
	return &EOLSharedLocker{m: m}
}

// Unlocker releases a write lock the caller already holds when Release is
// called.
type Unlocker struct {
	m *Mutex
}

func NewUnlocker(m *Mutex) *Unlocker {
	return &Unlocker{m: m}
}

func (u *Unlocker) Release() {
	if err := u.m.Unlock(); err != nil {
		log.Error().Err(err).Msg("unlocker release failed")
	}
}

// SharedUnlocker releases a shared lock the caller already holds when
// Release is called.
type SharedUnlocker struct {
	m *Mutex
}

func NewSharedUnlocker(m *Mutex) *SharedUnlocker {
	return &SharedUnlocker{m: m}
}

func (u *SharedUnlocker) Release() {
	if err := u.m.RUnlock(); err != nil {
		log.Error().Err(err).Msg("shared unlocker release failed")
	}
}

// WithLock runs fn holding the write lock. The lock is released however fn
// returns, including by panic.
func WithLock(m *Mutex, fn func() error) error {
	l, err := NewLocker(m)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn()
}

// WithRLock runs fn holding the shared lock.
func WithRLock(m *Mutex, fn func() error) error {
	l, err := NewSharedLocker(m)
	if err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
