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

import "fmt"

// Stats is a snapshot of pool occupancy, either in total or for a
// single route.
type Stats struct {
	// Leased is the number of entries currently held by callers.
	Leased int
	// Available is the number of free entries ready for reuse.
	Available int
	// Pending is the number of lease requests waiting for a slot.
	Pending int
	// Max is the lease limit the counts are measured against.
	Max int
}

func (s Stats) String() string {
	return fmt.Sprintf("[leased: %d; available: %d; pending: %d; max: %d]", s.Leased, s.Available, s.Pending, s.Max)
}

// TotalStats returns occupancy across all routes.
func (p *Pool[K, C]) TotalStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Leased:    p.numLeased,
		Available: p.numAvailable,
		Pending:   p.pending.Len(),
		Max:       p.maxTotal,
	}
}

// RouteStats returns occupancy for a single route.
func (p *Pool[K, C]) RouteStats(key K) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := Stats{Max: p.maxPerRouteLocked(key)}
	if rp := p.routes[key]; rp != nil {
		stats.Leased = len(rp.leased)
		stats.Available = len(rp.available)
		stats.Pending = rp.pending
	}
	return stats
}

// SetMaxTotal adjusts the total lease limit. The new limit applies to
// future lease decisions only; entries already leased are unaffected.
func (p *Pool[K, C]) SetMaxTotal(limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxTotal = limit
}

// MaxTotal returns the total lease limit.
func (p *Pool[K, C]) MaxTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxTotal
}

// SetDefaultMaxPerRoute adjusts the per-route limit used by routes
// without an explicit override.
func (p *Pool[K, C]) SetDefaultMaxPerRoute(limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultMaxPerRoute = limit
}

// DefaultMaxPerRoute returns the default per-route lease limit.
func (p *Pool[K, C]) DefaultMaxPerRoute() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultMaxPerRoute
}

// SetMaxPerRoute overrides the lease limit for one route. A
// non-positive limit removes the override.
func (p *Pool[K, C]) SetMaxPerRoute(key K, limit int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 {
		delete(p.maxPerRoute, key)
		return
	}
	p.maxPerRoute[key] = limit
}

// MaxPerRoute returns the effective lease limit for one route.
func (p *Pool[K, C]) MaxPerRoute(key K) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxPerRouteLocked(key)
}
