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
	"fmt"
	"sort"

	"github.com/ZaparooProject/go-synclock/pkg/helpers/syncutil"
)

// Registry keeps track of named mutexes so their state can be reported, for
// example by the API. It is owned by whoever creates it.
type Registry struct {
	mutexes map[string]*Mutex
	mu      syncutil.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{mutexes: make(map[string]*Mutex)}
}

// Register adds m under its name. Registering a second mutex with the same
// name is an error.
func (r *Registry) Register(m *Mutex) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := m.Name()
	if existing, ok := r.mutexes[name]; ok && existing != m {
		return fmt.Errorf("mutex %q already registered", name)
	}
	r.mutexes[name] = m
	return nil
}

func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.mutexes, name)
}

// Get returns the mutex registered under name.
func (r *Registry) Get(name string) (*Mutex, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mutexes[name]
	return m, ok
}

// Snapshot returns the state of every registered mutex, sorted by name.
func (r *Registry) Snapshot() []State {
	r.mu.RLock()
	states := make([]State, 0, len(r.mutexes))
	for _, m := range r.mutexes {
		states = append(states, m.State())
	}
	r.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool {
		return states[i].Name < states[j].Name
	})
	return states
}

// Held returns the states of mutexes currently held by anyone.
func (r *Registry) Held() []State {
	all := r.Snapshot()
	held := all[:0]
	for _, st := range all {
		if !st.Free() {
			held = append(held, st)
		}
	}
	return held
}
