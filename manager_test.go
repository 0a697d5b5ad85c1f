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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzhao12test5/httpcomponents-client/conn"
	"github.com/pzhao12test5/httpcomponents-client/internal/clocktest"
	"github.com/pzhao12test5/httpcomponents-client/pool"
	"github.com/pzhao12test5/httpcomponents-client/route"
)

type stubConn struct {
	closed atomic.Bool
}

func (c *stubConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *stubConn) IsOpen() bool {
	return !c.closed.Load()
}

// pingableConn adds the Pinger capability on top of stubConn.
type pingableConn struct {
	stubConn
	pingErr atomic.Pointer[error]
	pings   atomic.Int32
}

func (c *pingableConn) setPingErr(err error) {
	c.pingErr.Store(&err)
}

func (c *pingableConn) Ping(_ context.Context) error {
	c.pings.Add(1)
	if errPtr := c.pingErr.Load(); errPtr != nil {
		return *errPtr
	}
	return nil
}

// upgradedConn marks a connection that went through a TLS upgrade.
type upgradedConn struct {
	stubConn
	plain conn.Conn
}

type fakeOperator struct {
	dials    atomic.Int32
	upgrades atomic.Int32
	dialErr  error
	// newConn produces the connection returned by Connect; nil means a
	// plain stubConn.
	newConn func() conn.Conn
}

func (o *fakeOperator) Connect(_ context.Context, _ route.Host, _ string, _ time.Duration) (conn.Conn, error) {
	if o.dialErr != nil {
		return nil, o.dialErr
	}
	o.dials.Add(1)
	if o.newConn != nil {
		return o.newConn(), nil
	}
	return &stubConn{}, nil
}

func (o *fakeOperator) Upgrade(_ context.Context, c conn.Conn, _ route.Host) (conn.Conn, error) {
	o.upgrades.Add(1)
	return &upgradedConn{plain: c}, nil
}

func testRoute() route.Route {
	return route.New(route.NewHost("somehost", 80))
}

func TestManagerLeaseConnectRelease(t *testing.T) {
	t.Parallel()
	operator := &fakeOperator{}
	mgr := NewPoolingConnManager(WithOperator(operator))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, ep.ID())
	assert.False(t, ep.Connected())

	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	assert.True(t, ep.Connected())
	assert.Equal(t, int32(1), operator.dials.Load())
	first, err := ep.Conn()
	require.NoError(t, err)

	// connecting a connected endpoint is a no-op
	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	assert.Equal(t, int32(1), operator.dials.Load())

	mgr.Release(ep, nil, 30*time.Second)
	stats := mgr.RouteStats(rt)
	assert.Equal(t, 0, stats.Leased)
	assert.Equal(t, 1, stats.Available)

	again, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	assert.True(t, again.Connected())
	reused, err := again.Conn()
	require.NoError(t, err)
	assert.Same(t, first, reused)
	assert.Equal(t, int32(1), operator.dials.Load())
	mgr.Release(again, nil, 0)
}

func TestManagerReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	mgr := NewPoolingConnManager(WithOperator(&fakeOperator{}))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep, 0))

	mgr.Release(ep, nil, 0)
	mgr.Release(ep, nil, 0)
	stats := mgr.RouteStats(rt)
	assert.Equal(t, 0, stats.Leased)
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 1, mgr.TotalStats().Available)

	// the handle is dead once released
	assert.False(t, ep.Connected())
	_, err = ep.Conn()
	require.ErrorIs(t, err, ErrConnShutdown)
	require.ErrorIs(t, mgr.Connect(context.Background(), ep, 0), ErrConnShutdown)
}

func TestManagerStaleConnDiscardedByPing(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	operator := &fakeOperator{newConn: func() conn.Conn { return &pingableConn{} }}
	mgr := NewPoolingConnManager(
		WithOperator(operator),
		WithValidateAfterInactivity(time.Second),
		withClock(clock),
	)
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	c, err := ep.Conn()
	require.NoError(t, err)
	pingable := c.(*pingableConn)
	mgr.Release(ep, nil, time.Minute)

	pingable.setPingErr(errors.New("ping: broken pipe"))
	clock.Advance(2 * time.Second)

	// the lease itself must not fail; it completes disconnected
	again, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), pingable.pings.Load())
	assert.False(t, again.Connected())
	assert.False(t, pingable.IsOpen())

	require.NoError(t, mgr.Connect(context.Background(), again, 0))
	assert.True(t, again.Connected())
	assert.Equal(t, int32(2), operator.dials.Load())
	mgr.Release(again, nil, 0)
}

func TestManagerFreshConnNotProbed(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	operator := &fakeOperator{newConn: func() conn.Conn { return &pingableConn{} }}
	mgr := NewPoolingConnManager(
		WithOperator(operator),
		WithValidateAfterInactivity(time.Minute),
		withClock(clock),
	)
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	c, err := ep.Conn()
	require.NoError(t, err)
	pingable := c.(*pingableConn)
	mgr.Release(ep, nil, time.Hour)

	clock.Advance(time.Second)
	again, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	assert.Zero(t, pingable.pings.Load())
	assert.True(t, again.Connected())
	mgr.Release(again, nil, 0)
}

func TestManagerStaleConnDiscardedByOpenCheck(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	operator := &fakeOperator{}
	mgr := NewPoolingConnManager(
		WithOperator(operator),
		WithValidateAfterInactivity(time.Second),
		withClock(clock),
	)
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	c, err := ep.Conn()
	require.NoError(t, err)
	mgr.Release(ep, nil, time.Minute)

	// the peer silently closed the pooled connection
	require.NoError(t, c.Close())
	clock.Advance(2 * time.Second)

	again, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	assert.False(t, again.Connected())
	mgr.Release(again, nil, 0)
}

func TestManagerConnectedDiscoversDeadConn(t *testing.T) {
	t.Parallel()
	// with validation disabled, a dead pooled connection surfaces
	// through Connected instead
	operator := &fakeOperator{}
	mgr := NewPoolingConnManager(WithOperator(operator))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	c, err := ep.Conn()
	require.NoError(t, err)
	mgr.Release(ep, nil, time.Minute)
	require.NoError(t, c.Close())

	again, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	assert.False(t, again.Connected())
	_, err = again.Conn()
	require.ErrorIs(t, err, ErrNotConnected)
	require.NoError(t, mgr.Connect(context.Background(), again, 0))
	assert.Equal(t, int32(2), operator.dials.Load())
	mgr.Release(again, nil, 0)
}

func TestManagerConnectFailure(t *testing.T) {
	t.Parallel()
	dialErr := errors.New("connect somehost:80: connection refused")
	operator := &fakeOperator{dialErr: dialErr}
	mgr := NewPoolingConnManager(WithOperator(operator))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.ErrorIs(t, mgr.Connect(context.Background(), ep, 0), dialErr)
	assert.False(t, ep.Connected())

	// a failed connect never corrupts pool accounting
	mgr.Release(ep, nil, 0)
	stats := mgr.RouteStats(rt)
	assert.Equal(t, 0, stats.Leased)
	assert.Equal(t, 0, stats.Available)
}

func TestManagerUpgrade(t *testing.T) {
	t.Parallel()
	operator := &fakeOperator{}
	mgr := NewPoolingConnManager(WithOperator(operator))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	// upgrading a disconnected endpoint is caller misuse
	require.ErrorIs(t, mgr.Upgrade(context.Background(), ep), ErrNotConnected)

	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	plain, err := ep.Conn()
	require.NoError(t, err)
	require.NoError(t, mgr.Upgrade(context.Background(), ep))
	assert.Equal(t, int32(1), operator.upgrades.Load())

	c, err := ep.Conn()
	require.NoError(t, err)
	upgraded, ok := c.(*upgradedConn)
	require.True(t, ok)
	assert.Same(t, plain, upgraded.plain)
	assert.True(t, plain.IsOpen(), "upgrade must not close the underlying transport")
	mgr.Release(ep, nil, 0)
}

func TestManagerBlockedLeaseUnblockedByRelease(t *testing.T) {
	t.Parallel()
	operator := &fakeOperator{}
	mgr := NewPoolingConnManager(WithOperator(operator), WithDefaultMaxPerRoute(1))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	first, err := ep.Conn()
	require.NoError(t, err)

	type leaseResult struct {
		ep  *Endpoint
		err error
	}
	results := make(chan leaseResult, 1)
	go func() {
		got, err := mgr.Lease(context.Background(), rt, nil)
		results <- leaseResult{ep: got, err: err}
	}()
	require.Eventually(t, func() bool {
		return mgr.RouteStats(rt).Pending == 1
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = mgr.Lease(ctx, rt, nil)
	require.ErrorIs(t, err, pool.ErrTimeout)

	mgr.Release(ep, nil, 30*time.Second)
	select {
	case result := <-results:
		require.NoError(t, result.err)
		reused, err := result.ep.Conn()
		require.NoError(t, err)
		assert.Same(t, first, reused)
		assert.Equal(t, int32(1), operator.dials.Load())
		mgr.Release(result.ep, nil, 0)
	case <-time.After(time.Second):
		t.Fatal("queued lease was not served")
	}
}

func TestManagerCloseExpired(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	mgr := NewPoolingConnManager(WithOperator(&fakeOperator{}), withClock(clock))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	c, err := ep.Conn()
	require.NoError(t, err)
	mgr.Release(ep, nil, time.Second)

	clock.Advance(500 * time.Millisecond)
	mgr.CloseExpired()
	assert.True(t, c.IsOpen())

	clock.Advance(time.Second)
	mgr.CloseExpired()
	assert.False(t, c.IsOpen())
	assert.Equal(t, 0, mgr.RouteStats(rt).Available)
}

func TestManagerCloseIdle(t *testing.T) {
	t.Parallel()
	clock := clocktest.NewFakeClock()
	mgr := NewPoolingConnManager(WithOperator(&fakeOperator{}), withClock(clock))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep, 0))
	c, err := ep.Conn()
	require.NoError(t, err)
	mgr.Release(ep, nil, 0)

	clock.Advance(time.Minute)
	mgr.CloseIdle(30 * time.Second)
	assert.False(t, c.IsOpen())
}

func TestManagerClose(t *testing.T) {
	t.Parallel()
	mgr := NewPoolingConnManager(WithOperator(&fakeOperator{}))
	rt := testRoute()

	held, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), held, 0))
	heldConn, err := held.Conn()
	require.NoError(t, err)

	free, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), free, 0))
	freeConn, err := free.Conn()
	require.NoError(t, err)
	mgr.Release(free, nil, 0)

	require.NoError(t, mgr.Close())
	require.NoError(t, mgr.Close())
	assert.False(t, freeConn.IsOpen())

	_, err = mgr.Lease(context.Background(), rt, nil)
	require.ErrorIs(t, err, pool.ErrClosed)

	// connections still leased at close time are discarded on release
	assert.True(t, heldConn.IsOpen())
	mgr.Release(held, nil, 0)
	assert.False(t, heldConn.IsOpen())
}

func TestManagerCapacityAccessors(t *testing.T) {
	t.Parallel()
	mgr := NewPoolingConnManager(WithOperator(&fakeOperator{}))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	assert.Equal(t, defaultMaxTotal, mgr.MaxTotal())
	assert.Equal(t, defaultMaxPerRoute, mgr.DefaultMaxPerRoute())

	mgr.SetMaxTotal(100)
	mgr.SetDefaultMaxPerRoute(10)
	mgr.SetMaxPerRoute(rt, 2)
	assert.Equal(t, 100, mgr.MaxTotal())
	assert.Equal(t, 10, mgr.DefaultMaxPerRoute())
	assert.Equal(t, 2, mgr.MaxPerRoute(rt))
	mgr.SetMaxPerRoute(rt, 0)
	assert.Equal(t, 10, mgr.MaxPerRoute(rt))

	mgr.SetValidateAfterInactivity(5 * time.Second)
	assert.Equal(t, 5*time.Second, mgr.ValidateAfterInactivity())
}

func TestManagerStateAffinity(t *testing.T) {
	t.Parallel()
	operator := &fakeOperator{}
	mgr := NewPoolingConnManager(WithOperator(operator), WithDefaultMaxPerRoute(2))
	defer func() { _ = mgr.Close() }()
	rt := testRoute()

	ep1, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep1, 0))
	conn1, err := ep1.Conn()
	require.NoError(t, err)
	mgr.Release(ep1, "user-alice", 0)

	ep2, err := mgr.Lease(context.Background(), rt, nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Connect(context.Background(), ep2, 0))
	mgr.Release(ep2, "user-bob", 0)

	again, err := mgr.Lease(context.Background(), rt, "user-alice")
	require.NoError(t, err)
	reused, err := again.Conn()
	require.NoError(t, err)
	assert.Same(t, conn1, reused)
	assert.Equal(t, int32(2), operator.dials.Load())
	mgr.Release(again, "user-alice", 0)
}
