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
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimedMutex_LockUnlock(t *testing.T) {
	t.Parallel()

	m := NewTimedMutex(nil)
	assert.False(t, m.Locked())

	m.Lock()
	assert.True(t, m.Locked())
	assert.False(t, m.TryLockFor(0), "non-recursive gate must not re-enter")

	m.Unlock()
	assert.False(t, m.Locked())
	assert.True(t, m.TryLockFor(0))
	m.Unlock()
}

func TestTimedMutex_UnlockUnlockedPanics(t *testing.T) {
	t.Parallel()

	m := NewTimedMutex(nil)
	assert.Panics(t, m.Unlock)
}

func TestTimedMutex_UnlockFromOtherGoroutine(t *testing.T) {
	t.Parallel()

	m := NewTimedMutex(nil)
	m.Lock()

	done := make(chan struct{})
	go func() {
		m.Unlock()
		close(done)
	}()
	<-done

	assert.True(t, m.TryLockFor(time.Second))
	m.Unlock()
}

func TestTimedMutex_TryLockForTimesOut(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	m := NewTimedMutex(clock)
	m.Lock()

	result := make(chan bool, 1)
	go func() {
		result <- m.TryLockFor(time.Second)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-ctx.Done():
		t.Fatal("TryLockFor did not return after its timeout")
	}
	assert.True(t, m.Locked())
}

func TestTimedMutex_TryLockForSucceedsWhenReleased(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	m := NewTimedMutex(clock)
	m.Lock()

	result := make(chan bool, 1)
	go func() {
		result <- m.TryLockFor(time.Minute)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	m.Unlock()

	select {
	case ok := <-result:
		assert.True(t, ok)
	case <-ctx.Done():
		t.Fatal("TryLockFor did not acquire the released mutex")
	}
	m.Unlock()
}

func TestRecursiveTimedMutex_Reentrant(t *testing.T) {
	t.Parallel()

	m := NewRecursiveTimedMutex(nil)
	m.Lock()
	assert.True(t, m.TryLockFor(0))
	m.Lock()
	assert.Equal(t, 3, m.Depth())

	m.Unlock()
	m.Unlock()
	assert.Equal(t, 1, m.Depth())
	m.Unlock()
	assert.Equal(t, 0, m.Depth())
	assert.Panics(t, m.Unlock)
}

func TestRecursiveTimedMutex_OtherGoroutineBlocks(t *testing.T) {
	t.Parallel()

	m := NewRecursiveTimedMutex(nil)
	m.Lock()

	result := make(chan bool, 1)
	go func() {
		result <- m.TryLockFor(20 * time.Millisecond)
	}()
	assert.False(t, <-result)

	m.Unlock()
	go func() {
		ok := m.TryLockFor(time.Second)
		if ok {
			m.Unlock()
		}
		result <- ok
	}()
	assert.True(t, <-result)
}

func TestNewGate_SelectedImplementation(t *testing.T) {
	t.Parallel()

	g := NewGate(nil)
	if PortableGate {
		assert.IsType(t, &RecursiveTimedMutex{}, g)
	} else {
		assert.IsType(t, &TimedMutex{}, g)
	}
}
