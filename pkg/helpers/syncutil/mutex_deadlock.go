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

//go:build deadlock

package syncutil

import (
	"github.com/rs/zerolog/log"
	deadlock "github.com/sasha-s/go-deadlock"
)

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = true

func init() {
	deadlock.Opts.DeadlockTimeout = DeadlockTimeout
	deadlock.Opts.LogBuf = log.Logger
	deadlock.Opts.OnPotentialDeadlock = func() {
		log.Fatal().
			Dur("timeout", DeadlockTimeout).
			Msg("potential deadlock detected in syncutil mutex")
	}
}

// Mutex is a plain mutual exclusion lock for short internal critical
// sections, checked by go-deadlock in this build.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is the reader/writer counterpart of Mutex.
type RWMutex struct {
	deadlock.RWMutex
}
