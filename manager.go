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
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pzhao12test5/httpcomponents-client/conn"
	"github.com/pzhao12test5/httpcomponents-client/internal"
	"github.com/pzhao12test5/httpcomponents-client/pool"
	"github.com/pzhao12test5/httpcomponents-client/route"
)

// PoolingConnManager maintains a pool of client connections and
// services lease requests from multiple goroutines. Connections are
// pooled on a per-route basis, subject to a per-route and a total
// limit; both can be adjusted at run time and take effect on the next
// lease decision.
//
// A connection that has been idle past the validate-after-inactivity
// threshold is probed before reuse: connections implementing
// [conn.Pinger] get a liveness round trip, others a plain open check.
// A connection found stale is discarded and the lease completes with a
// disconnected endpoint; leasing never fails merely because a reused
// connection turned out to be dead.
type PoolingConnManager struct {
	operator conn.Operator
	pool     *pool.Pool[route.Route, conn.Conn]
	clock    internal.Clock
	logger   *slog.Logger
	closed   atomic.Bool

	validateAfterInactivity atomic.Int64
}

// NewPoolingConnManager returns a connection manager configured with
// the given options.
func NewPoolingConnManager(options ...Option) *PoolingConnManager {
	var opts managerOptions
	for _, opt := range options {
		opt.apply(&opts)
	}
	opts.applyDefaults()
	m := &PoolingConnManager{
		operator: opts.operator,
		pool:     pool.New[route.Route, conn.Conn](opts.maxPerRoute, opts.maxTotal, opts.ttl, opts.clock),
		clock:    opts.clock,
		logger:   opts.logger,
	}
	m.validateAfterInactivity.Store(int64(opts.validateAfterInactivity))
	return m
}

// Lease acquires an endpoint for the given route, preferring a pooled
// connection whose affinity state equals the given state. If the pool
// is at capacity the call blocks until a slot frees or ctx expires.
// The returned endpoint may be disconnected; check Connected and call
// Connect before use.
func (m *PoolingConnManager) Lease(ctx context.Context, rt route.Route, state any) (*Endpoint, error) {
	m.logger.Debug("connection request",
		slog.String("route", rt.String()),
		slog.String("stats", m.pool.RouteStats(rt).String()))
	entry, err := m.pool.Lease(ctx, rt, state)
	if err != nil {
		return nil, err
	}
	m.validateEntry(ctx, entry)
	ep := newEndpoint(entry)
	m.logger.Debug("connection leased",
		slog.String("endpoint", ep.ID()),
		slog.String("route", rt.String()),
		slog.String("stats", m.pool.RouteStats(rt).String()))
	return ep, nil
}

// validateEntry probes a reused connection that has been idle past the
// validate-after-inactivity threshold. A stale connection is discarded
// and the lease proceeds; the caller observes a disconnected endpoint.
func (m *PoolingConnManager) validateEntry(ctx context.Context, entry *poolEntry) {
	threshold := time.Duration(m.validateAfterInactivity.Load())
	if threshold <= 0 {
		return
	}
	c, ok := entry.Conn()
	if !ok || m.clock.Since(entry.Updated()) < threshold {
		return
	}
	if pinger, ok := c.(conn.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			m.logger.Debug("connection is stale", slog.String("error", err.Error()))
			entry.DiscardConn()
		}
		return
	}
	if !c.IsOpen() {
		m.logger.Debug("connection is closed")
		entry.DiscardConn()
	}
}

// Release gives an endpoint back to the pool. With a positive
// keepAlive, and provided the connection is still open, the connection
// is kept for reuse until the keep-alive elapses; a non-positive
// keepAlive keeps it indefinitely, bounded only by the pool TTL.
// Releasing an already-released endpoint is a no-op.
func (m *PoolingConnManager) Release(ep *Endpoint, state any, keepAlive time.Duration) {
	if ep == nil {
		return
	}
	entry := ep.detach()
	if entry == nil {
		return
	}
	reusable := false
	if c, ok := entry.Conn(); ok && c.IsOpen() {
		entry.UpdateState(state)
		entry.UpdateExpiry(keepAlive)
		reusable = true
		m.logger.Debug("connection kept alive",
			slog.String("endpoint", ep.ID()),
			slog.Duration("keep_alive", keepAlive))
	}
	m.pool.Release(entry, reusable)
	m.logger.Debug("connection released",
		slog.String("endpoint", ep.ID()),
		slog.String("route", entry.Route().String()),
		slog.String("stats", m.pool.RouteStats(entry.Route()).String()))
}

// Connect opens a physical connection for the endpoint: to the route's
// proxy host if present, else its target host. It is a no-op if the
// endpoint already reports connected. A non-zero timeout bounds the
// dial regardless of the context deadline.
func (m *PoolingConnManager) Connect(ctx context.Context, ep *Endpoint, timeout time.Duration) error {
	if ep.Connected() {
		return nil
	}
	entry, err := ep.entry()
	if err != nil {
		return err
	}
	rt := entry.Route()
	c, err := m.operator.Connect(ctx, rt.Endpoint(), rt.LocalAddr, timeout)
	if err != nil {
		return err
	}
	if err := entry.AssignConn(c); err != nil {
		_ = c.Close()
		return err
	}
	m.logger.Debug("connected",
		slog.String("endpoint", ep.ID()),
		slog.String("route", rt.String()))
	return nil
}

// Upgrade performs an in-place protocol upgrade (TLS over plain text)
// on an already-connected endpoint. The endpoint must be connected and
// open; anything else is caller misuse and fails with ErrNotConnected.
func (m *PoolingConnManager) Upgrade(ctx context.Context, ep *Endpoint) error {
	entry, err := ep.validatedEntry()
	if err != nil {
		return err
	}
	c, _ := entry.Conn()
	upgraded, err := m.operator.Upgrade(ctx, c, entry.Route().Target)
	if err != nil {
		return err
	}
	entry.ReplaceConn(upgraded)
	m.logger.Debug("upgraded", slog.String("endpoint", ep.ID()))
	return nil
}

// Close shuts the manager down. In-flight and future leases fail fast;
// connections already leased to active callers are not interrupted and
// are discarded as their holders release them. Close is idempotent.
func (m *PoolingConnManager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Debug("connection manager is shutting down")
	err := m.pool.Shutdown()
	m.logger.Debug("connection manager shut down")
	return err
}

// CloseIdle discards pooled connections idle for at least the given
// duration.
func (m *PoolingConnManager) CloseIdle(idle time.Duration) {
	m.pool.CloseIdle(idle)
}

// CloseExpired discards pooled connections past their keep-alive or
// TTL deadline.
func (m *PoolingConnManager) CloseExpired() {
	m.pool.CloseExpired()
}

// ValidateAfterInactivity returns the idle threshold beyond which
// pooled connections are re-validated before reuse.
func (m *PoolingConnManager) ValidateAfterInactivity() time.Duration {
	return time.Duration(m.validateAfterInactivity.Load())
}

// SetValidateAfterInactivity adjusts the re-validation threshold. A
// non-positive value disables validation.
func (m *PoolingConnManager) SetValidateAfterInactivity(threshold time.Duration) {
	m.validateAfterInactivity.Store(int64(threshold))
}

// SetMaxTotal adjusts the total lease limit for future lease decisions.
func (m *PoolingConnManager) SetMaxTotal(limit int) { m.pool.SetMaxTotal(limit) }

// MaxTotal returns the total lease limit.
func (m *PoolingConnManager) MaxTotal() int { return m.pool.MaxTotal() }

// SetDefaultMaxPerRoute adjusts the per-route lease limit for future
// lease decisions.
func (m *PoolingConnManager) SetDefaultMaxPerRoute(limit int) { m.pool.SetDefaultMaxPerRoute(limit) }

// DefaultMaxPerRoute returns the default per-route lease limit.
func (m *PoolingConnManager) DefaultMaxPerRoute() int { return m.pool.DefaultMaxPerRoute() }

// SetMaxPerRoute overrides the lease limit for one route.
func (m *PoolingConnManager) SetMaxPerRoute(rt route.Route, limit int) {
	m.pool.SetMaxPerRoute(rt, limit)
}

// MaxPerRoute returns the effective lease limit for one route.
func (m *PoolingConnManager) MaxPerRoute(rt route.Route) int { return m.pool.MaxPerRoute(rt) }

// TotalStats returns pool occupancy across all routes.
func (m *PoolingConnManager) TotalStats() pool.Stats { return m.pool.TotalStats() }

// RouteStats returns pool occupancy for one route.
func (m *PoolingConnManager) RouteStats(rt route.Route) pool.Stats { return m.pool.RouteStats(rt) }
