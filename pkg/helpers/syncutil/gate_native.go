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

//go:build !synclock_portable

package syncutil

import "github.com/jonboulle/clockwork"

// PortableGate is true when NewGate returns the portable recursive gate.
const PortableGate = false

// NewGate returns the Gate implementation selected at build time. Build with
// -tags=synclock_portable to force RecursiveTimedMutex.
func NewGate(clock clockwork.Clock) Gate {
	return NewTimedMutex(clock)
}
