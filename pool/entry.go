// Copyright 2024 The httpcomponents-client Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import (
	"errors"
	"time"

	"github.com/pzhao12test5/httpcomponents-client/internal"
)

var errConnAssigned = errors.New("pool: entry already has a connection")

// Entry is one connection slot of the pool. An entry holds at most one
// connection and is referenced by exactly one holder at a time: the
// pool while free, a single leaseholder otherwise. Entry methods are
// not synchronized; the ownership handoff provides the necessary
// happens-before edges.
type Entry[K comparable, C Conn] struct {
	route       K
	clock       internal.Clock
	created     time.Time
	ttlDeadline time.Time

	conn    C
	hasConn bool
	state   any
	updated time.Time
	expiry  time.Time
}

func newEntry[K comparable, C Conn](route K, ttl time.Duration, clock internal.Clock) *Entry[K, C] {
	now := clock.Now()
	e := &Entry[K, C]{
		route:   route,
		clock:   clock,
		created: now,
		updated: now,
	}
	if ttl > 0 {
		e.ttlDeadline = now.Add(ttl)
	}
	return e
}

// Route returns the pool key the entry belongs to.
func (e *Entry[K, C]) Route() K {
	return e.route
}

// Conn returns the entry's connection, if one has been assigned.
func (e *Entry[K, C]) Conn() (C, bool) {
	return e.conn, e.hasConn
}

// HasConn reports whether a connection is assigned.
func (e *Entry[K, C]) HasConn() bool {
	return e.hasConn
}

// AssignConn attaches a freshly opened connection to the entry. It is
// an error to assign over an existing connection; discard it first.
func (e *Entry[K, C]) AssignConn(c C) error {
	if e.hasConn {
		return errConnAssigned
	}
	e.conn = c
	e.hasConn = true
	e.updated = e.clock.Now()
	return nil
}

// DiscardConn closes and detaches the entry's connection, if any.
// The entry itself stays usable; a subsequent connect may assign a
// new connection.
func (e *Entry[K, C]) DiscardConn() {
	if !e.hasConn {
		return
	}
	conn := e.conn
	var zero C
	e.conn = zero
	e.hasConn = false
	e.state = nil
	e.updated = e.clock.Now()
	_ = conn.Close()
}

// ReplaceConn swaps in an upgraded connection layered over the same
// transport. The previous wrapper is dropped without being closed,
// since closing it would tear down the shared socket.
func (e *Entry[K, C]) ReplaceConn(c C) {
	e.conn = c
	e.hasConn = true
	e.updated = e.clock.Now()
}

// State returns the entry's affinity state.
func (e *Entry[K, C]) State() any {
	return e.state
}

// UpdateState records the affinity state of the current holder.
func (e *Entry[K, C]) UpdateState(state any) {
	e.state = state
	e.updated = e.clock.Now()
}

// UpdateExpiry sets the entry's keep-alive deadline. A non-positive
// keepAlive means the connection may be kept indefinitely, still
// bounded by the pool's total time to live.
func (e *Entry[K, C]) UpdateExpiry(keepAlive time.Duration) {
	now := e.clock.Now()
	e.updated = now
	var deadline time.Time
	if keepAlive > 0 {
		deadline = now.Add(keepAlive)
	}
	if !e.ttlDeadline.IsZero() && (deadline.IsZero() || e.ttlDeadline.Before(deadline)) {
		deadline = e.ttlDeadline
	}
	e.expiry = deadline
}

// Expired reports whether the entry may no longer be reused as of now.
func (e *Entry[K, C]) Expired(now time.Time) bool {
	if !e.expiry.IsZero() && !now.Before(e.expiry) {
		return true
	}
	return !e.ttlDeadline.IsZero() && !now.Before(e.ttlDeadline)
}

// Updated returns the time of the last lease/release/connect activity.
func (e *Entry[K, C]) Updated() time.Time {
	return e.updated
}

// Created returns the time the entry was allocated.
func (e *Entry[K, C]) Created() time.Time {
	return e.created
}
