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
	"sync/atomic"
	"time"

	"github.com/pzhao12test5/httpcomponents-client/exec"
)

// ExecRuntime binds one leased endpoint to one logical HTTP exchange.
// It implements [exec.Runtime] so the retry executor and the response
// entity guard can hand the connection back without knowing about the
// manager. The endpoint is held through an atomic reference: exactly
// one of release and discard ever reaches the pool, every later call
// is a no-op.
type ExecRuntime struct {
	mgr       *PoolingConnManager
	epRef     atomic.Pointer[Endpoint]
	state     any
	keepAlive atomic.Int64
	aborted   atomic.Bool
}

// NewExecRuntime wraps a leased endpoint for execution. The state is
// recorded on the pool entry when the connection is released reusable.
func NewExecRuntime(mgr *PoolingConnManager, ep *Endpoint, state any) *ExecRuntime {
	rt := &ExecRuntime{mgr: mgr, state: state}
	rt.epRef.Store(ep)
	return rt
}

// SetKeepAlive sets the keep-alive duration applied when the
// connection is released for reuse. Non-positive means indefinite,
// bounded by the pool TTL.
func (rt *ExecRuntime) SetKeepAlive(d time.Duration) {
	rt.keepAlive.Store(int64(d))
}

// Endpoint returns the held endpoint, or nil once the connection has
// been given back.
func (rt *ExecRuntime) Endpoint() *Endpoint {
	return rt.epRef.Load()
}

func (rt *ExecRuntime) ConnectionAcquired() bool {
	return rt.epRef.Load() != nil
}

func (rt *ExecRuntime) Connected() bool {
	ep := rt.epRef.Load()
	return ep != nil && ep.Connected()
}

// Disconnect closes the endpoint's connection without releasing the
// endpoint itself.
func (rt *ExecRuntime) Disconnect() error {
	if ep := rt.epRef.Load(); ep != nil {
		ep.Shutdown()
	}
	return nil
}

// ReleaseConnection returns the endpoint to the manager for reuse.
func (rt *ExecRuntime) ReleaseConnection() {
	ep := rt.epRef.Swap(nil)
	if ep == nil {
		return
	}
	rt.mgr.Release(ep, rt.state, time.Duration(rt.keepAlive.Load()))
}

// DiscardConnection returns the endpoint to the manager with its
// connection closed, so the pool frees the slot instead of reusing it.
func (rt *ExecRuntime) DiscardConnection() {
	ep := rt.epRef.Swap(nil)
	if ep == nil {
		return
	}
	ep.Shutdown()
	rt.mgr.Release(ep, nil, 0)
}

// Abort marks the exchange as torn down and discards the connection.
// The retry executor observes the flag and re-raises failures without
// consulting the retry policy.
func (rt *ExecRuntime) Abort() {
	if rt.aborted.CompareAndSwap(false, true) {
		rt.DiscardConnection()
	}
}

func (rt *ExecRuntime) ExecutionAborted() bool {
	return rt.aborted.Load()
}

var _ exec.Runtime = (*ExecRuntime)(nil)
