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

import "time"

// State is a point-in-time view of a Mutex. Fields may be stale as soon as
// they are read and are meant for diagnostics and tests.
type State struct {
	Name        string        `json:"name"`
	Owner       int64         `json:"owner"`
	Timeout     time.Duration `json:"timeout"`
	OwnerCount  int32         `json:"ownerCount"`
	SharedCount int32         `json:"sharedCount"`
}

// Free reports whether nobody holds the mutex.
func (s State) Free() bool {
	return s.OwnerCount == 0 && s.SharedCount == 0
}

// Exclusive reports whether a goroutine holds the write lock.
func (s State) Exclusive() bool {
	return s.OwnerCount > 0
}
