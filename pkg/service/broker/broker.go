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

// Package broker fans tracker events out to every subscribed worker without
// letting a slow subscriber hold up the others.
package broker

import (
	"context"

	"github.com/ZaparooProject/go-synclock/pkg/service/tracker"
	"github.com/ZaparooProject/go-synclock/pkg/synclock"
	"github.com/rs/zerolog/log"
)

// Broker reads events from one source channel and copies them to every
// subscriber. Sends never block; a full subscriber misses the event.
type Broker struct {
	source      <-chan tracker.Event
	subscribers map[int]chan tracker.Event
	mu          *synclock.Mutex
	nextID      int
}

func NewBroker(source <-chan tracker.Event, opts ...synclock.Option) *Broker {
	opts = append([]synclock.Option{synclock.WithName("broker")}, opts...)
	return &Broker{
		source:      source,
		subscribers: make(map[int]chan tracker.Event),
		mu:          synclock.New(opts...),
	}
}

// Lock returns the subscriber table lock, for diagnostics.
func (b *Broker) Lock() *synclock.Mutex {
	return b.mu
}

// Run broadcasts until the source closes or ctx is done, then closes every
// subscriber channel. If the subscriber table cannot be locked Run returns
// the error and leaves the channels open; subscribers stop on their own
// context instead.
func (b *Broker) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-b.source:
			if !ok {
				log.Debug().Msg("broker: source channel closed")
				b.closeAllSubscribers()
				return nil
			}
			if err := b.broadcast(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			log.Debug().Msg("broker: context cancelled, shutting down")
			b.closeAllSubscribers()
			return nil
		}
	}
}

func (b *Broker) broadcast(ev tracker.Event) error {
	l, err := synclock.NewSharedLocker(b.mu)
	if err != nil {
		return err
	}
	defer l.Release()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warn().
				Int("subscriber_id", id).
				Str("type", ev.Type).
				Msg("subscriber channel full, dropping event")
		}
	}
	return nil
}

// Subscribe registers a new subscriber with a channel of bufferSize.
func (b *Broker) Subscribe(bufferSize int) (events <-chan tracker.Event, id int, err error) {
	l, err := synclock.NewLocker(b.mu)
	if err != nil {
		return nil, 0, err
	}
	defer l.Release()

	id = b.nextID
	b.nextID++

	ch := make(chan tracker.Event, bufferSize)
	b.subscribers[id] = ch

	log.Debug().
		Int("subscriber_id", id).
		Int("buffer_size", bufferSize).
		Msg("new subscriber registered")

	return ch, id, nil
}

// Unsubscribe removes a subscription and closes its channel. Unknown IDs
// are ignored.
func (b *Broker) Unsubscribe(id int) error {
	l, err := synclock.NewLocker(b.mu)
	if err != nil {
		return err
	}
	defer l.Release()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("subscriber unsubscribed")
	}
	return nil
}

func (b *Broker) Subscribers() (int, error) {
	l, err := synclock.NewSharedLocker(b.mu)
	if err != nil {
		return 0, err
	}
	defer l.Release()
	return len(b.subscribers), nil
}

// closeAllSubscribers retires the broker. The lock is never released, so
// later Subscribe calls fail instead of touching closed channels.
func (b *Broker) closeAllSubscribers() {
	_ = synclock.NewEOLLocker(b.mu)

	for id, ch := range b.subscribers {
		close(ch)
		log.Debug().Int("subscriber_id", id).Msg("closed subscriber channel on shutdown")
	}
	b.subscribers = nil
}
