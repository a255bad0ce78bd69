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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// inGoroutine runs fn on a fresh goroutine and waits for it.
func inGoroutine(fn func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	<-done
}

func TestMutex_RecursiveExclusive(t *testing.T) {
	t.Parallel()

	m := New(WithName("recursive"))
	const depth = 5

	for range depth {
		require.NoError(t, m.LockFor(time.Second))
	}
	st := m.State()
	assert.Equal(t, int32(depth), st.OwnerCount)
	assert.NotEqual(t, NoOwner, st.Owner)
	assert.Equal(t, int32(0), st.SharedCount)

	for range depth {
		require.NoError(t, m.Unlock())
	}
	st = m.State()
	assert.True(t, st.Free())
	assert.Equal(t, NoOwner, st.Owner)

	// The gate must be free for somebody else.
	inGoroutine(func() {
		assert.NoError(t, m.LockFor(100*time.Millisecond))
		assert.NoError(t, m.Unlock())
	})
}

func TestMutex_OwnerSharedRequestIsRecursion(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.LockFor(time.Second))
	require.NoError(t, m.RLockFor(time.Second))

	st := m.State()
	assert.Equal(t, int32(2), st.OwnerCount)
	assert.Equal(t, int32(0), st.SharedCount)

	require.NoError(t, m.RUnlock())
	assert.Equal(t, int32(1), m.State().OwnerCount)

	require.NoError(t, m.Unlock())
	assert.True(t, m.State().Free())
}

func TestMutex_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	m := New()
	const readers = 4

	var holding sync.WaitGroup
	holding.Add(readers)
	release := make(chan struct{})
	errs := make(chan error, readers*2)

	var wg sync.WaitGroup
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.RLockFor(time.Second)
			holding.Done()
			<-release
			errs <- m.RUnlock()
		}()
	}

	holding.Wait()
	assert.Equal(t, int32(readers), m.State().SharedCount)
	assert.Equal(t, int32(0), m.State().OwnerCount)

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, m.State().Free())
}

func TestMutex_WriterWaitsForReaders(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.RLockFor(time.Second))

	acquired := make(chan error, 1)
	go func() {
		err := m.LockFor(5 * time.Second)
		if err == nil {
			err = m.Unlock()
		}
		acquired <- err
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired the lock while a reader was active")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.RUnlock())

	select {
	case err := <-acquired:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("writer never acquired the lock after the reader left")
	}
	assert.True(t, m.State().Free())
}

func TestMutex_ReaderBlockedByPartiallyReleasedWriter(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.LockFor(time.Second))
	require.NoError(t, m.LockFor(time.Second))
	require.NoError(t, m.Unlock())

	inGoroutine(func() {
		err := m.RLockFor(50 * time.Millisecond)
		var dlErr *DeadlockError
		if assert.ErrorAs(t, err, &dlErr) {
			assert.Equal(t, OpShared, dlErr.Op)
			assert.Equal(t, CondWriteHeld, dlErr.Cond)
			assert.Equal(t, int32(1), dlErr.Holder.OwnerCount)
		}
	})

	require.NoError(t, m.Unlock())

	inGoroutine(func() {
		assert.NoError(t, m.RLockFor(time.Second))
		assert.NoError(t, m.RUnlock())
	})
	assert.True(t, m.State().Free())
}

func TestMutex_ExclusiveTimeoutLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClock()
	m := New(WithName("timeout"), WithClock(clock))
	require.NoError(t, m.LockFor(time.Second))
	before := m.State()

	result := make(chan error, 1)
	go func() {
		result <- m.LockFor(time.Second)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		t.Fatal("bounded acquisition never returned")
	}

	require.ErrorIs(t, err, ErrDeadlockTimeout)
	var dlErr *DeadlockError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, OpExclusive, dlErr.Op)
	assert.Equal(t, CondClaimWrite, dlErr.Cond)
	assert.Equal(t, "timeout", dlErr.Name)
	assert.Contains(t, err.Error(), "claiming write")

	assert.Equal(t, before, m.State())
	require.NoError(t, m.Unlock())
	assert.True(t, m.State().Free())
}

func TestMutex_WriterTimesOutBehindReader(t *testing.T) {
	t.Parallel()

	m := New(WithName("reader-held"))

	readerIn := make(chan struct{})
	readerRelease := make(chan struct{})
	readerDone := make(chan error, 1)
	go func() {
		if err := m.RLockFor(time.Second); err != nil {
			readerDone <- err
			close(readerIn)
			return
		}
		close(readerIn)
		<-readerRelease
		readerDone <- m.RUnlock()
	}()
	<-readerIn

	start := time.Now()
	err := m.LockFor(time.Second)
	elapsed := time.Since(start)

	var dlErr *DeadlockError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, CondSharedHeld, dlErr.Cond)
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
	assert.Equal(t, int32(1), m.State().SharedCount)
	assert.Equal(t, int32(0), m.State().OwnerCount)

	close(readerRelease)
	require.NoError(t, <-readerDone)
	assert.True(t, m.State().Free())

	require.NoError(t, m.LockFor(100*time.Millisecond))
	require.NoError(t, m.Unlock())
}

func TestMutex_SharedTimeoutLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	m := New()
	require.NoError(t, m.LockFor(time.Second))

	inGoroutine(func() {
		err := m.RLockFor(30 * time.Millisecond)
		assert.ErrorIs(t, err, ErrDeadlockTimeout)
	})

	st := m.State()
	assert.Equal(t, int32(1), st.OwnerCount)
	assert.Equal(t, int32(0), st.SharedCount)
	require.NoError(t, m.Unlock())
}

func TestMutex_Misuse(t *testing.T) {
	t.Parallel()

	t.Run("unlock without lock", func(t *testing.T) {
		t.Parallel()
		m := New()
		err := m.Unlock()
		require.ErrorIs(t, err, ErrLockMisuse)
		var misuse *MisuseError
		require.ErrorAs(t, err, &misuse)
		assert.Contains(t, misuse.Reason, "without write lock")
	})

	t.Run("unlock by non-owner", func(t *testing.T) {
		t.Parallel()
		m := New()
		require.NoError(t, m.LockFor(time.Second))
		inGoroutine(func() {
			assert.ErrorIs(t, m.Unlock(), ErrLockMisuse)
		})
		assert.Equal(t, int32(1), m.State().OwnerCount)
		require.NoError(t, m.Unlock())
	})

	t.Run("shared unlock while other goroutine writes", func(t *testing.T) {
		t.Parallel()
		m := New()
		require.NoError(t, m.LockFor(time.Second))
		inGoroutine(func() {
			assert.ErrorIs(t, m.RUnlock(), ErrLockMisuse)
		})
		require.NoError(t, m.Unlock())
	})

	t.Run("shared unlock without lock", func(t *testing.T) {
		t.Parallel()
		m := New()
		assert.ErrorIs(t, m.RUnlock(), ErrLockMisuse)
		assert.True(t, m.State().Free())
	})
}

func TestMutex_ZeroValue(t *testing.T) {
	t.Parallel()

	var m Mutex
	assert.Equal(t, DefaultTimeout, m.Timeout())
	assert.Equal(t, "anonymous", m.Name())

	m.Lock()
	m.RLock()
	require.NoError(t, m.RUnlock())
	require.NoError(t, m.Unlock())
	assert.True(t, m.State().Free())
}

type gateCase struct {
	gate func() syncutil.Gate
	name string
}

func gateCases() []gateCase {
	return []gateCase{
		{name: "timed", gate: func() syncutil.Gate { return syncutil.NewTimedMutex(nil) }},
		{name: "recursive", gate: func() syncutil.Gate { return syncutil.NewRecursiveTimedMutex(nil) }},
	}
}

func TestMutex_ReaderUpgradeThroughRecursiveGate(t *testing.T) {
	t.Parallel()

	m := New(WithGate(syncutil.NewRecursiveTimedMutex(nil)))
	require.NoError(t, m.RLockFor(time.Second))

	start := time.Now()
	err := m.LockFor(100 * time.Millisecond)
	elapsed := time.Since(start)

	var dlErr *DeadlockError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, CondSharedHeld, dlErr.Cond)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Equal(t, int32(1), m.State().SharedCount)
	assert.Equal(t, int32(0), m.State().OwnerCount)

	require.NoError(t, m.RUnlock())
	assert.True(t, m.State().Free())
	require.NoError(t, m.LockFor(time.Second))
	require.NoError(t, m.Unlock())
}

func TestMutex_GroupFounderWaitsForReadersToDrain(t *testing.T) {
	t.Parallel()

	acquisitions := []struct {
		lock func(m *Mutex) error
		name string
	}{
		{name: "bounded", lock: func(m *Mutex) error { return m.LockFor(time.Second) }},
		{name: "unbounded", lock: func(m *Mutex) error {
			m.Lock()
			return nil
		}},
	}

	for _, gc := range gateCases() {
		for _, acq := range acquisitions {
			t.Run(gc.name+"/"+acq.name, func(t *testing.T) {
				t.Parallel()

				m := New(WithName("founder"), WithGate(gc.gate()))
				require.NoError(t, m.RLockFor(time.Second))

				joined := make(chan struct{})
				release := make(chan struct{})
				readerDone := make(chan error, 1)
				go func() {
					if err := m.RLockFor(time.Second); err != nil {
						readerDone <- err
						close(joined)
						return
					}
					close(joined)
					<-release
					readerDone <- m.RUnlock()
				}()
				<-joined

				// the founding goroutine leaves while the second reader stays
				require.NoError(t, m.RUnlock())
				assert.Equal(t, int32(1), m.State().SharedCount)

				timer := time.AfterFunc(50*time.Millisecond, func() { close(release) })
				defer timer.Stop()

				start := time.Now()
				require.NoError(t, acq.lock(m))
				assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
				require.NoError(t, <-readerDone)

				st := m.State()
				assert.Equal(t, int32(1), st.OwnerCount)
				assert.Equal(t, int32(0), st.SharedCount)
				require.NoError(t, m.Unlock())
				assert.True(t, m.State().Free())
			})
		}
	}
}

func TestMutex_ReadersAndWritersExclude(t *testing.T) {
	t.Parallel()

	for _, gc := range gateCases() {
		t.Run(gc.name, func(t *testing.T) {
			t.Parallel()

			m := New(WithName("stress"), WithTimeout(5*time.Second), WithGate(gc.gate()))

			var (
				writers   atomic.Int32
				readers   atomic.Int32
				violation atomic.Bool
				value     int
			)

			writer := func() error {
				l, err := NewLocker(m)
				if err != nil {
					return err
				}
				defer l.Release()

				if writers.Add(1) != 1 || readers.Load() != 0 {
					violation.Store(true)
				}
				// nested critical section on the same goroutine
				err = WithRLock(m, func() error {
					value++
					return nil
				})
				writers.Add(-1)
				return err
			}

			reader := func() error {
				return WithRLock(m, func() error {
					readers.Add(1)
					if writers.Load() != 0 {
						violation.Store(true)
					}
					_ = value
					readers.Add(-1)
					return nil
				})
			}

			const workers = 8
			const rounds = 200
			errs := make(chan error, workers)
			var wg sync.WaitGroup
			for i := range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for r := range rounds {
						var err error
						if (i+r)%2 == 0 {
							err = writer()
						} else {
							err = reader()
						}
						if err != nil {
							errs <- err
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				require.NoError(t, err)
			}
			assert.False(t, violation.Load(), "reader and writer overlapped")
			assert.Equal(t, workers*rounds/2, value)
			assert.True(t, m.State().Free())
		})
	}
}

func TestErrors_Strings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "write lock", OpExclusive.String())
	assert.Equal(t, "shared lock", OpShared.String())
	assert.Equal(t, "claiming shared", CondClaimShared.String())
	assert.Equal(t, "Cond(42)", Cond(42).String())

	err := &DeadlockError{Name: "db", Op: OpShared, Cond: CondWriteHeld, Timeout: time.Second}
	assert.Equal(t, `deadlock: shared lock on mutex "db" not available within 1s (write held)`, err.Error())
	assert.True(t, errors.Is(err, ErrDeadlockTimeout))
	assert.False(t, errors.Is(err, ErrLockMisuse))
}
