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

// Package synclock provides the lock used to protect shared state across the
// service's worker goroutines: a recursive, upgradeable reader/writer Mutex
// whose acquisitions give up after a deadlock timeout, and a set of guards
// that scope a hold to a function.
//
// A timed out acquisition returns a *DeadlockError. It is not meant to be
// retried: it means the subsystem is wedged, and the caller should abort the
// operation and let the error reach something that can stop the process.
//
// Build tags:
//
//	synclock_notimeout  guards block without a deadline
//	synclock_portable   use the portable recursive gate
//
// The default timeout can be changed at link time, see DefaultTimeout.
package synclock
