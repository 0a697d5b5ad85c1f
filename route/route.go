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

// Package route describes where a client connection goes: a target host,
// an optional proxy, and local connection parameters. A Route is an
// immutable value with structural equality and serves as the sharding
// key of the connection pool.
package route

import (
	"fmt"
	"strconv"
)

// Host identifies a network peer by scheme, name, and port.
type Host struct {
	Scheme string
	Name   string
	Port   int
}

// NewHost returns a Host with the given name and port and the "http"
// scheme.
func NewHost(name string, port int) Host {
	return Host{Scheme: "http", Name: name, Port: port}
}

// HostPort returns the "name:port" form of the host.
func (h Host) HostPort() string {
	return h.Name + ":" + strconv.Itoa(h.Port)
}

func (h Host) String() string {
	scheme := h.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + h.HostPort()
}

// IsZero reports whether the host is the zero value.
func (h Host) IsZero() bool {
	return h == Host{}
}

// Route identifies a target (and optional proxy) host plus connection
// parameters. Routes are comparable and may be used as map keys; two
// routes are equal exactly when all their fields are equal.
type Route struct {
	// Target is the final destination of the route.
	Target Host
	// Proxy, if HasProxy is set, is the intermediary the connection
	// must be opened to instead of the target.
	Proxy    Host
	HasProxy bool
	// LocalAddr, if non-empty, is the local address to bind when
	// opening the connection.
	LocalAddr string
	// Secure indicates the connection must be layered with TLS,
	// either at connect time or via a later upgrade.
	Secure bool
}

// New returns a direct route to the given target.
func New(target Host) Route {
	return Route{Target: target}
}

// NewViaProxy returns a route to target through proxy.
func NewViaProxy(target, proxy Host) Route {
	return Route{Target: target, Proxy: proxy, HasProxy: true}
}

// Endpoint returns the host a new connection for this route must be
// opened to: the proxy when one is present, the target otherwise.
func (r Route) Endpoint() Host {
	if r.HasProxy {
		return r.Proxy
	}
	return r.Target
}

func (r Route) String() string {
	if r.HasProxy {
		return fmt.Sprintf("%s via %s", r.Target, r.Proxy)
	}
	return r.Target.String()
}
