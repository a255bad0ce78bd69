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
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// deadlockTimeout can be overridden at link time:
//
//	-ldflags "-X github.com/ZaparooProject/go-synclock/pkg/synclock.deadlockTimeout=10s"
var deadlockTimeout = "5s"

// DefaultTimeout is the deadlock timeout given to a Mutex created without
// WithTimeout, including the zero value.
var DefaultTimeout = parseDeadlockTimeout(deadlockTimeout)

func parseDeadlockTimeout(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		log.Warn().Str("value", s).Msg("invalid link-time deadlock timeout, using default")
		return syncutil.DeadlockTimeout
	}
	return d
}
