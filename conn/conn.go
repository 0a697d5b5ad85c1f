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

// Package conn defines the managed connection primitive held by pool
// entries, along with the Operator collaborator that opens and upgrades
// the physical transport. The pool and the connection manager treat
// connections as opaque; only the operator knows how to produce them.
package conn

import (
	"context"
	"net"
	"sync/atomic"
)

// Conn is a managed client connection. A Conn is owned by exactly one
// pool entry at a time and its I/O is used by exactly one holder.
type Conn interface {
	// Close shuts the connection down. It is safe to call more
	// than once.
	Close() error
	// IsOpen reports whether the connection is still usable.
	IsOpen() bool
}

// Pinger is an optional Conn capability: a lightweight liveness round
// trip used to validate a connection that has been idle for a while.
// Connections that do not implement Pinger are validated with a plain
// IsOpen check instead.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NetConn adapts a net.Conn to the Conn interface.
type NetConn struct {
	net.Conn
	closed atomic.Bool
}

// NewNetConn wraps the given network connection.
func NewNetConn(c net.Conn) *NetConn {
	return &NetConn{Conn: c}
}

func (c *NetConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.Conn.Close()
}

func (c *NetConn) IsOpen() bool {
	return !c.closed.Load()
}
