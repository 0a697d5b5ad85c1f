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

// Package hc is the connection-lifecycle and request-resilience core of
// an HTTP client. It manages a pool of reusable connections keyed by
// route, leases and releases them to concurrent callers, validates idle
// connections before reuse, and safely retries failed requests without
// corrupting connection state or re-sending non-repeatable bodies.
//
// The main entry point is [PoolingConnManager]:
//
//	mgr := hc.NewPoolingConnManager(
//		hc.WithMaxTotal(50),
//		hc.WithDefaultMaxPerRoute(20),
//		hc.WithValidateAfterInactivity(2*time.Second),
//	)
//	defer mgr.Close()
//
//	ep, err := mgr.Lease(ctx, rt, nil)
//	if err != nil {
//		return err
//	}
//	if !ep.Connected() {
//		if err := mgr.Connect(ctx, ep, 30*time.Second); err != nil {
//			mgr.Release(ep, nil, 0)
//			return err
//		}
//	}
//	// ... execute the exchange over ep ...
//	mgr.Release(ep, nil, keepAlive)
//
// Each leased [Endpoint] holds its pool entry through an atomically
// swappable reference: exactly one of a manual release or the response
// entity guard's cleanup wins the race to detach it, so a connection is
// never returned to the pool twice.
//
// Request retry lives in the [exec] subpackage; the strict pool itself
// in [pool]. This package wires them to each other through
// [ExecRuntime].
//
// [exec]: https://pkg.go.dev/github.com/pzhao12test5/httpcomponents-client/exec
// [pool]: https://pkg.go.dev/github.com/pzhao12test5/httpcomponents-client/pool
package hc
