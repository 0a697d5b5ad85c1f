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

// Package pool implements a strict connection pool: it enforces a hard
// limit on concurrent leases per route and in total, queues excess
// lease requests FIFO, and expires idle and over-TTL entries.
//
// The pool does not open connections. A lease may return an entry with
// no connection assigned; it is up to the caller to connect it. Free
// entries are reused most-recently-released first; waiting leases are
// served in arrival order as slots free up.
package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pzhao12test5/httpcomponents-client/internal"
)

var (
	// ErrClosed is returned by Lease once Shutdown has begun.
	ErrClosed = errors.New("pool: shut down")
	// ErrTimeout is returned by Lease when the wait budget elapses
	// before a slot frees up.
	ErrTimeout = errors.New("pool: lease timeout")
)

// Conn is the connection primitive stored in pool entries.
type Conn interface {
	Close() error
	IsOpen() bool
}

// Pool is a strict connection pool keyed by K. All methods are safe for
// concurrent use.
type Pool[K comparable, C Conn] struct {
	ttl   time.Duration
	clock internal.Clock

	mu sync.Mutex
	// +checklocks:mu
	routes map[K]*routePool[K, C]
	// +checklocks:mu
	pending *list.List
	// +checklocks:mu
	maxTotal int
	// +checklocks:mu
	defaultMaxPerRoute int
	// +checklocks:mu
	maxPerRoute map[K]int
	// +checklocks:mu
	numLeased int
	// +checklocks:mu
	numAvailable int
	// +checklocks:mu
	closed bool
}

// New creates a pool with the given per-route and total lease limits.
// A positive ttl bounds the total life span of every entry regardless
// of keep-alive. A nil clock means real time.
func New[K comparable, C Conn](defaultMaxPerRoute, maxTotal int, ttl time.Duration, clock internal.Clock) *Pool[K, C] {
	if clock == nil {
		clock = internal.NewRealClock()
	}
	return &Pool[K, C]{
		ttl:                ttl,
		clock:              clock,
		routes:             map[K]*routePool[K, C]{},
		pending:            list.New(),
		maxTotal:           maxTotal,
		defaultMaxPerRoute: defaultMaxPerRoute,
		maxPerRoute:        map[K]int{},
	}
}

type routePool[K comparable, C Conn] struct {
	leased map[*Entry[K, C]]struct{}
	// available is a stack: entries are released to the back and
	// reused from the back (LIFO), evicted from the front (LRU).
	available []*Entry[K, C]
	pending   int
}

func (r *routePool[K, C]) allocated() int {
	return len(r.leased) + len(r.available)
}

type waiter[K comparable, C Conn] struct {
	key    K
	state  any
	ch     chan *Entry[K, C]
	served bool
}

// Lease acquires an entry for the given route key, preferring a free
// entry whose affinity state equals the requested state. If the pool is
// at capacity the caller is queued FIFO until a slot frees or ctx
// expires; a deadline on ctx is the wait budget. The returned entry may
// not have a connection assigned.
func (p *Pool[K, C]) Lease(ctx context.Context, key K, state any) (*Entry[K, C], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	entry, discarded := p.tryLeaseLocked(key, state)
	if entry != nil {
		p.mu.Unlock()
		closeAll(discarded)
		return entry, nil
	}
	wtr := &waiter[K, C]{key: key, state: state, ch: make(chan *Entry[K, C], 1)}
	elem := p.pending.PushBack(wtr)
	p.routeLocked(key).pending++
	p.mu.Unlock()
	closeAll(discarded)

	select {
	case served := <-wtr.ch:
		if served == nil {
			return nil, ErrClosed
		}
		return served, nil
	case <-ctx.Done():
		p.mu.Lock()
		if !wtr.served {
			p.pending.Remove(elem)
			p.routeLocked(key).pending--
		}
		p.mu.Unlock()
		// A release may have handed an entry over concurrently with
		// cancellation. Put it back so the slot is not lost.
		select {
		case served := <-wtr.ch:
			if served != nil {
				p.Release(served, true)
			}
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Release returns a leased entry to the pool. With reusable set, and
// provided the entry's connection is still open and unexpired, the
// entry joins the route's free list; otherwise the connection is
// discarded and the capacity slot freed. Releasing an entry that is not
// currently leased is a no-op.
func (p *Pool[K, C]) Release(entry *Entry[K, C], reusable bool) {
	var toClose []*Entry[K, C]
	p.mu.Lock()
	rp := p.routes[entry.Route()]
	if rp == nil {
		p.mu.Unlock()
		return
	}
	if _, ok := rp.leased[entry]; !ok {
		p.mu.Unlock()
		return
	}
	delete(rp.leased, entry)
	p.numLeased--
	now := p.clock.Now()
	if !p.closed && reusable && entry.HasConn() && p.connOpen(entry) && !entry.Expired(now) {
		rp.available = append(rp.available, entry)
		p.numAvailable++
	} else {
		toClose = append(toClose, entry)
	}
	toClose = append(toClose, p.servePendingLocked()...)
	p.mu.Unlock()
	closeAll(toClose)
}

func (p *Pool[K, C]) connOpen(entry *Entry[K, C]) bool {
	conn, ok := entry.Conn()
	return ok && conn.IsOpen()
}

// tryLeaseLocked attempts to satisfy a lease immediately: reuse a
// state-matching free entry, or create a new one if capacity allows,
// evicting free entries to make room. It returns the leased entry (or
// nil) plus any entries whose connections must be closed by the caller
// once the lock is dropped.
//
// +checklocks:p.mu
func (p *Pool[K, C]) tryLeaseLocked(key K, state any) (*Entry[K, C], []*Entry[K, C]) {
	var discarded []*Entry[K, C]
	rp := p.routeLocked(key)
	now := p.clock.Now()
	// Scan free entries newest first. Expired ones are dropped as
	// encountered; a state mismatch is left in place for now.
	for i := len(rp.available) - 1; i >= 0; i-- {
		entry := rp.available[i]
		if entry.Expired(now) {
			rp.available = append(rp.available[:i], rp.available[i+1:]...)
			p.numAvailable--
			discarded = append(discarded, entry)
			continue
		}
		if entry.State() == state {
			rp.available = append(rp.available[:i], rp.available[i+1:]...)
			p.numAvailable--
			rp.leased[entry] = struct{}{}
			p.numLeased++
			return entry, discarded
		}
	}
	// No reusable match. Create a new entry if limits allow, evicting
	// free entries (state-mismatched or otherwise unclaimed) to make
	// room rather than reusing them.
	maxRoute := p.maxPerRouteLocked(key)
	for rp.allocated() >= maxRoute && len(rp.available) > 0 {
		entry := rp.available[0]
		rp.available = rp.available[1:]
		p.numAvailable--
		discarded = append(discarded, entry)
	}
	if rp.allocated() >= maxRoute {
		return nil, discarded
	}
	if p.numLeased+p.numAvailable >= p.maxTotal {
		evicted := p.evictOldestAvailableLocked()
		if evicted == nil {
			return nil, discarded
		}
		discarded = append(discarded, evicted)
	}
	entry := newEntry[K, C](key, p.ttl, p.clock)
	rp.leased[entry] = struct{}{}
	p.numLeased++
	return entry, discarded
}

// +checklocks:p.mu
func (p *Pool[K, C]) evictOldestAvailableLocked() *Entry[K, C] {
	var oldest *Entry[K, C]
	var oldestRoute *routePool[K, C]
	for _, rp := range p.routes {
		if len(rp.available) == 0 {
			continue
		}
		candidate := rp.available[0]
		if oldest == nil || candidate.Updated().Before(oldest.Updated()) {
			oldest = candidate
			oldestRoute = rp
		}
	}
	if oldest == nil {
		return nil
	}
	oldestRoute.available = oldestRoute.available[1:]
	p.numAvailable--
	return oldest
}

// servePendingLocked hands freed capacity to waiting leases in arrival
// order. A waiter whose route is still saturated is skipped so that a
// compatible later waiter is not starved by it.
//
// +checklocks:p.mu
func (p *Pool[K, C]) servePendingLocked() []*Entry[K, C] {
	var discarded []*Entry[K, C]
	for elem := p.pending.Front(); elem != nil; {
		next := elem.Next()
		wtr := elem.Value.(*waiter[K, C]) //nolint:forcetypeassert
		entry, dropped := p.tryLeaseLocked(wtr.key, wtr.state)
		discarded = append(discarded, dropped...)
		if entry != nil {
			p.pending.Remove(elem)
			p.routeLocked(wtr.key).pending--
			wtr.served = true
			wtr.ch <- entry
		}
		elem = next
	}
	return discarded
}

// +checklocks:p.mu
func (p *Pool[K, C]) routeLocked(key K) *routePool[K, C] {
	rp := p.routes[key]
	if rp == nil {
		rp = &routePool[K, C]{leased: map[*Entry[K, C]]struct{}{}}
		p.routes[key] = rp
	}
	return rp
}

// +checklocks:p.mu
func (p *Pool[K, C]) maxPerRouteLocked(key K) int {
	if limit, ok := p.maxPerRoute[key]; ok {
		return limit
	}
	return p.defaultMaxPerRoute
}

// CloseIdle discards free entries that have seen no activity for at
// least the given duration.
func (p *Pool[K, C]) CloseIdle(idle time.Duration) {
	deadline := p.clock.Now().Add(-idle)
	p.closeAvailable(func(entry *Entry[K, C]) bool {
		return !entry.Updated().After(deadline)
	})
}

// CloseExpired discards free entries past their keep-alive or TTL
// deadline.
func (p *Pool[K, C]) CloseExpired() {
	now := p.clock.Now()
	p.closeAvailable(func(entry *Entry[K, C]) bool {
		return entry.Expired(now)
	})
}

func (p *Pool[K, C]) closeAvailable(shouldClose func(*Entry[K, C]) bool) {
	var toClose []*Entry[K, C]
	p.mu.Lock()
	for _, rp := range p.routes {
		kept := rp.available[:0]
		for _, entry := range rp.available {
			if shouldClose(entry) {
				toClose = append(toClose, entry)
				p.numAvailable--
			} else {
				kept = append(kept, entry)
			}
		}
		rp.available = kept
	}
	toClose = append(toClose, p.servePendingLocked()...)
	p.mu.Unlock()
	closeAll(toClose)
}

// Shutdown closes the pool. All free connections are closed in
// parallel, queued leases fail with ErrClosed, and subsequent Lease
// calls fail fast. Entries currently leased are not interrupted; they
// are discarded when their holders release them. Shutdown is
// idempotent.
func (p *Pool[K, C]) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var toClose []*Entry[K, C]
	for _, rp := range p.routes {
		toClose = append(toClose, rp.available...)
		p.numAvailable -= len(rp.available)
		rp.available = nil
		rp.pending = 0
	}
	for elem := p.pending.Front(); elem != nil; elem = elem.Next() {
		wtr := elem.Value.(*waiter[K, C]) //nolint:forcetypeassert
		wtr.served = true
		wtr.ch <- nil
	}
	p.pending.Init()
	p.mu.Unlock()

	grp, _ := errgroup.WithContext(context.Background())
	for _, entry := range toClose {
		entry := entry
		grp.Go(func() error {
			entry.DiscardConn()
			return nil
		})
	}
	return grp.Wait()
}

func closeAll[K comparable, C Conn](entries []*Entry[K, C]) {
	for _, entry := range entries {
		entry.DiscardConn()
	}
}
