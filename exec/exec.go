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

// Package exec contains the request-execution pipeline pieces that sit
// above the connection manager: the execution scope shared by all
// attempts of one logical exchange, the retry executor, and the
// response entity guard that ties a streamed body to its connection.
package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/pzhao12test5/httpcomponents-client/route"
)

// ErrStreamConsumed is returned when a one-shot entity is opened twice.
var ErrStreamConsumed = errors.New("exec: stream entity already consumed")

// Entity is a message body. Request entities decide whether a failed
// request may be resent; response entities are wrapped by the guard so
// that draining them returns the connection to the pool.
type Entity interface {
	// Open returns a reader for the entity content. Repeatable
	// entities can be opened any number of times; one-shot entities
	// only once.
	Open() (io.ReadCloser, error)
	// Repeatable reports whether the content can be produced again
	// from the beginning.
	Repeatable() bool
	// Consumed reports whether the content has begun being read.
	Consumed() bool
}

// BytesEntity is a repeatable in-memory entity.
type BytesEntity struct {
	data []byte
}

// NewBytesEntity returns an entity backed by the given bytes.
func NewBytesEntity(data []byte) *BytesEntity {
	return &BytesEntity{data: data}
}

func (e *BytesEntity) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

func (e *BytesEntity) Repeatable() bool { return true }

func (e *BytesEntity) Consumed() bool { return false }

// StreamEntity is a one-shot entity backed by a reader. Once opened it
// reports itself consumed and cannot be replayed.
type StreamEntity struct {
	rc     io.ReadCloser
	opened atomic.Bool
}

// NewStreamEntity returns a non-repeatable entity reading from rc.
func NewStreamEntity(rc io.ReadCloser) *StreamEntity {
	return &StreamEntity{rc: rc}
}

func (e *StreamEntity) Open() (io.ReadCloser, error) {
	if !e.opened.CompareAndSwap(false, true) {
		return nil, ErrStreamConsumed
	}
	return e.rc, nil
}

func (e *StreamEntity) Repeatable() bool { return false }

func (e *StreamEntity) Consumed() bool { return e.opened.Load() }

// Request is the execution-pipeline view of an HTTP request: just
// enough to route, retry, and resend it. Header marshaling and URI
// handling belong to neighboring modules.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Entity Entity
}

// Clone returns a copy with independent headers. The entity is shared:
// repeatability, not identity, decides whether it can be sent again.
func (r *Request) Clone() *Request {
	clone := &Request{
		Method: r.Method,
		URL:    r.URL,
		Header: r.Header.Clone(),
		Entity: r.Entity,
	}
	return clone
}

// Response is the execution-pipeline view of an HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Entity     Entity
}

// Runtime is the execution-side handle on a leased connection. The
// concrete implementation lives next to the connection manager; every
// mutating method must be a no-op once the connection has been given
// back.
type Runtime interface {
	// ConnectionAcquired reports whether the runtime still holds a
	// leased endpoint.
	ConnectionAcquired() bool
	// Connected reports whether the held endpoint has an open
	// connection.
	Connected() bool
	// Disconnect closes the endpoint's connection without releasing
	// the endpoint.
	Disconnect() error
	// ReleaseConnection returns the endpoint to the manager for
	// reuse.
	ReleaseConnection()
	// DiscardConnection returns the endpoint to the manager marking
	// the connection unusable.
	DiscardConnection()
	// ExecutionAborted reports whether the exchange has been aborted
	// by the caller.
	ExecutionAborted() bool
}

// Scope carries the stable identity of one logical HTTP exchange
// across any number of retry attempts: the route, the original unsent
// request, and the execution runtime.
type Scope struct {
	Route           route.Route
	OriginalRequest *Request
	Runtime         Runtime
	Ctx             context.Context //nolint:containedctx
}

// Handler is a downstream execution step.
type Handler interface {
	Execute(req *Request, scope *Scope) (*Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(req *Request, scope *Scope) (*Response, error)

func (f HandlerFunc) Execute(req *Request, scope *Scope) (*Response, error) {
	return f(req, scope)
}
