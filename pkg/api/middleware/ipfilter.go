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
	"fmt"
	"net"
	"net/http"
	"net/netip"

	"github.com/rs/zerolog/log"
)

// ParseRemoteIP extracts the IP from a host:port RemoteAddr.
func ParseRemoteIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return net.ParseIP(host)
}

// IPFilter is an allowlist of addresses and prefixes. An empty filter
// allows everything.
type IPFilter struct {
	prefixes []netip.Prefix
}

// NewIPFilter parses entries as single addresses or CIDR prefixes.
func NewIPFilter(allowed []string) (*IPFilter, error) {
	f := &IPFilter{prefixes: make([]netip.Prefix, 0, len(allowed))}
	for _, entry := range allowed {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			f.prefixes = append(f.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed address %q: %w", entry, err)
		}
		f.prefixes = append(f.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return f, nil
}

func (f *IPFilter) IsAllowed(remoteAddr string) bool {
	if len(f.prefixes) == 0 {
		return true
	}

	ip := ParseRemoteIP(remoteAddr)
	if ip == nil {
		log.Warn().Str("addr", remoteAddr).Msg("failed to parse IP address")
		return false
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()

	for _, prefix := range f.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func HTTPIPFilterMiddleware(filter *IPFilter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !filter.IsAllowed(r.RemoteAddr) {
				log.Debug().
					Str("addr", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("request from blocked IP")

				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
