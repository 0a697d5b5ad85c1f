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

package hc

import (
	"errors"
	"sync/atomic"

	"github.com/oklog/ulid/v2"

	"github.com/pzhao12test5/httpcomponents-client/conn"
	"github.com/pzhao12test5/httpcomponents-client/pool"
	"github.com/pzhao12test5/httpcomponents-client/route"
)

var (
	// ErrConnShutdown is returned when operating on an endpoint whose
	// pool entry has been given back, or after the manager has shut
	// down.
	ErrConnShutdown = errors.New("hc: connection has been shut down")
	// ErrNotConnected indicates caller misuse: an operation that
	// requires an open connection was invoked on an endpoint that
	// does not have one.
	ErrNotConnected = errors.New("hc: endpoint is not connected")
)

type poolEntry = pool.Entry[route.Route, conn.Conn]

// Endpoint is a caller-facing handle on a leased pool entry. The entry
// is held through an atomically swappable reference so that exactly
// one detach ever succeeds per handle; the losing side of a release
// race observes "already detached" and touches the pool no further.
type Endpoint struct {
	id       string
	entryRef atomic.Pointer[poolEntry]
}

func newEndpoint(entry *poolEntry) *Endpoint {
	ep := &Endpoint{id: "ep-" + ulid.Make().String()}
	ep.entryRef.Store(entry)
	return ep
}

// ID returns the endpoint's unique diagnostic identifier.
func (ep *Endpoint) ID() string {
	return ep.id
}

// detach transfers the pool entry out of the handle. The first caller
// wins; everyone else gets nil.
func (ep *Endpoint) detach() *poolEntry {
	return ep.entryRef.Swap(nil)
}

func (ep *Endpoint) entry() (*poolEntry, error) {
	entry := ep.entryRef.Load()
	if entry == nil {
		return nil, ErrConnShutdown
	}
	return entry, nil
}

// validatedEntry returns the pool entry, requiring an open connection.
func (ep *Endpoint) validatedEntry() (*poolEntry, error) {
	entry, err := ep.entry()
	if err != nil {
		return nil, err
	}
	if c, ok := entry.Conn(); !ok || !c.IsOpen() {
		return nil, ErrNotConnected
	}
	return entry, nil
}

// Conn returns the endpoint's connection for request execution. It
// fails with ErrConnShutdown on a detached endpoint and with
// ErrNotConnected when no open connection is assigned.
func (ep *Endpoint) Conn() (conn.Conn, error) {
	entry, err := ep.validatedEntry()
	if err != nil {
		return nil, err
	}
	c, _ := entry.Conn()
	return c, nil
}

// Connected reports whether the endpoint has an open connection. A
// connection found closed is discarded on the spot, so the caller can
// simply reconnect.
func (ep *Endpoint) Connected() bool {
	entry := ep.entryRef.Load()
	if entry == nil {
		return false
	}
	c, ok := entry.Conn()
	if !ok {
		return false
	}
	if !c.IsOpen() {
		entry.DiscardConn()
		return false
	}
	return true
}

// Shutdown closes the endpoint's connection immediately. The endpoint
// must still be released back to the manager.
func (ep *Endpoint) Shutdown() {
	if entry := ep.entryRef.Load(); entry != nil {
		entry.DiscardConn()
	}
}

// Close closes the endpoint's connection gracefully. The endpoint must
// still be released back to the manager.
func (ep *Endpoint) Close() error {
	if entry := ep.entryRef.Load(); entry != nil {
		entry.DiscardConn()
	}
	return nil
}
