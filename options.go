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
	"io"
	"log/slog"
	"time"

	"github.com/pzhao12test5/httpcomponents-client/conn"
	"github.com/pzhao12test5/httpcomponents-client/internal"
)

const (
	defaultMaxTotal    = 50
	defaultMaxPerRoute = 20
)

// Option customizes the behavior of a PoolingConnManager.
type Option interface {
	apply(*managerOptions)
}

// WithOperator configures the connection operator used to open and
// upgrade physical transports. If not specified, a plain TCP
// [conn.DialOperator] is used.
func WithOperator(operator conn.Operator) Option {
	return optionFunc(func(opts *managerOptions) {
		opts.operator = operator
	})
}

// WithMaxTotal limits the number of concurrently leased connections
// across all routes. The default is 50.
func WithMaxTotal(limit int) Option {
	return optionFunc(func(opts *managerOptions) {
		opts.maxTotal = limit
	})
}

// WithDefaultMaxPerRoute limits the number of concurrently leased
// connections per route. The default is 20.
func WithDefaultMaxPerRoute(limit int) Option {
	return optionFunc(func(opts *managerOptions) {
		opts.maxPerRoute = limit
	})
}

// WithTTL bounds the total life span of pooled connections regardless
// of their keep-alive setting. No connection is reused past its TTL.
// Zero or no WithTTL option means no bound.
func WithTTL(ttl time.Duration) Option {
	return optionFunc(func(opts *managerOptions) {
		opts.ttl = ttl
	})
}

// WithValidateAfterInactivity configures the period of inactivity after
// which pooled connections must be re-validated prior to being leased.
// This check helps detect connections that have become stale
// (half-closed) while kept inactive in the pool. Zero disables
// validation.
func WithValidateAfterInactivity(threshold time.Duration) Option {
	return optionFunc(func(opts *managerOptions) {
		opts.validateAfterInactivity = threshold
	})
}

// WithLogger directs the manager's debug output to the given logger.
// If not specified, log output is discarded.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(opts *managerOptions) {
		opts.logger = logger
	})
}

type optionFunc func(*managerOptions)

func (f optionFunc) apply(opts *managerOptions) {
	f(opts)
}

type managerOptions struct {
	operator                conn.Operator
	maxTotal                int
	maxPerRoute             int
	ttl                     time.Duration
	validateAfterInactivity time.Duration
	logger                  *slog.Logger
	clock                   internal.Clock
}

func (opts *managerOptions) applyDefaults() {
	if opts.operator == nil {
		opts.operator = &conn.DialOperator{}
	}
	if opts.maxTotal == 0 {
		opts.maxTotal = defaultMaxTotal
	}
	if opts.maxPerRoute == 0 {
		opts.maxPerRoute = defaultMaxPerRoute
	}
	if opts.logger == nil {
		opts.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
}

// withClock is used by tests to substitute a fake clock.
func withClock(clock internal.Clock) Option {
	return optionFunc(func(opts *managerOptions) {
		opts.clock = clock
	})
}
