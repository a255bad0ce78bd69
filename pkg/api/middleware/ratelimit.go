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

package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/ZaparooProject/go-synclock/pkg/synclock"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	RequestsPerMinute = 100
	BurstSize         = 20
	limiterMaxAge     = 10 * time.Minute
	cleanupInterval   = 5 * time.Minute
)

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	clock    clockwork.Clock
	limiters map[string]*rateLimiterEntry
	mu       *synclock.Mutex
}

type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(clock clockwork.Clock) *IPRateLimiter {
	return &IPRateLimiter{
		clock:    clock,
		limiters: make(map[string]*rateLimiterEntry),
		mu:       synclock.New(synclock.WithName("api:ratelimit"), synclock.WithClock(clock)),
	}
}

// Lock returns the limiter table lock, for diagnostics.
func (rl *IPRateLimiter) Lock() *synclock.Mutex {
	return rl.mu
}

// Limiter returns the bucket for ip, creating it on first use.
func (rl *IPRateLimiter) Limiter(ip string) (*rate.Limiter, error) {
	l, err := synclock.NewLocker(rl.mu)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	now := rl.clock.Now()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(RequestsPerMinute)/60.0), BurstSize),
		}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter, nil
}

func (rl *IPRateLimiter) Len() (int, error) {
	l, err := synclock.NewSharedLocker(rl.mu)
	if err != nil {
		return 0, err
	}
	defer l.Release()
	return len(rl.limiters), nil
}

// Cleanup drops buckets for addresses not seen recently.
func (rl *IPRateLimiter) Cleanup() error {
	l := synclock.NewDemandLocker(rl.mu)
	defer l.Release()

	if err := l.Lock(); err != nil {
		return err
	}
	cutoff := rl.clock.Now().Add(-limiterMaxAge)
	var removed []string
	for ip, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
			removed = append(removed, ip)
		}
	}
	if err := l.Unlock(); err != nil {
		return err
	}

	for _, ip := range removed {
		log.Debug().Str("ip", ip).Msg("removed stale rate limiter")
	}
	return nil
}

// RunCleanup runs Cleanup periodically until ctx is done or a lock fails.
func (rl *IPRateLimiter) RunCleanup(ctx context.Context) error {
	ticker := rl.clock.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := rl.Cleanup(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func HTTPRateLimitMiddleware(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := ParseRemoteIP(r.RemoteAddr).String()
			rl, err := limiter.Limiter(host)
			if err != nil {
				log.Error().Err(err).Msg("rate limiter unavailable")
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}

			if !rl.Allow() {
				log.Warn().
					Str("ip", host).
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Msg("HTTP rate limit exceeded")

				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
