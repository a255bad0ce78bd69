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
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDeadlockTimeout is matched by every *DeadlockError. It means a
	// bounded acquisition could not complete in time; callers should abort
	// the operation rather than retry.
	ErrDeadlockTimeout = errors.New("deadlock timeout")
	// ErrLockMisuse is matched by every *MisuseError and always indicates a
	// programming error.
	ErrLockMisuse = errors.New("lock misuse")
)

// Op is the kind of access being acquired.
type Op int

const (
	OpExclusive Op = iota
	OpShared
)

func (o Op) String() string {
	switch o {
	case OpExclusive:
		return "write lock"
	case OpShared:
		return "shared lock"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Cond is the condition an acquisition was waiting on when it timed out.
type Cond int

const (
	// CondSharedHeld: a writer waited for the reader group to drain.
	CondSharedHeld Cond = iota
	// CondClaimWrite: a writer waited for the gate with no readers active.
	CondClaimWrite
	// CondWriteHeld: a reader waited for another goroutine's write lock.
	CondWriteHeld
	// CondClaimShared: a reader waited to form a new reader group.
	CondClaimShared
)

func (c Cond) String() string {
	switch c {
	case CondSharedHeld:
		return "shared held"
	case CondClaimWrite:
		return "claiming write"
	case CondWriteHeld:
		return "write held"
	case CondClaimShared:
		return "claiming shared"
	default:
		return fmt.Sprintf("Cond(%d)", int(c))
	}
}

// DeadlockError is returned when a bounded acquisition times out. Holder is
// the lock state observed when the wait gave up.
type DeadlockError struct {
	Name    string
	Holder  State
	Op      Op
	Cond    Cond
	Timeout time.Duration
}

func (e *DeadlockError) Error() string {
	return fmt.Sprintf("deadlock: %s on mutex %q not available within %s (%s)",
		e.Op, e.Name, e.Timeout, e.Cond)
}

func (*DeadlockError) Unwrap() error {
	return ErrDeadlockTimeout
}

// MisuseError is returned when a release does not match an acquisition, or
// a demand guard is locked twice.
type MisuseError struct {
	Name   string
	Reason string
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("mutex %q: %s", e.Name, e.Reason)
}

func (*MisuseError) Unwrap() error {
	return ErrLockMisuse
}
