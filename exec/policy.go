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

package exec

import (
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"syscall"
)

const defaultMaxRetries = 3

// DefaultRetryPolicy retries transient transport failures a bounded
// number of times for requests that are safe to resend.
type DefaultRetryPolicy struct {
	// MaxRetries is the number of retries allowed after the first
	// attempt. Zero means 3; a negative value disables retries
	// entirely.
	MaxRetries int
	// RetryNonIdempotent permits retrying requests with
	// non-idempotent methods and a body.
	RetryNonIdempotent bool
}

func (p *DefaultRetryPolicy) Retryable(req *Request, err error, attempt int, _ *Scope) bool {
	maxRetries := p.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	// a negative maxRetries declines every attempt
	if attempt > maxRetries {
		return false
	}
	if !transientFailure(err) {
		return false
	}
	if idempotentMethod(req.Method) {
		return true
	}
	if req.Entity == nil {
		return true
	}
	return p.RetryNonIdempotent
}

// transientFailure rules out failure kinds that will not be cured by
// resending: unknown hosts, refused connections, and TLS trust
// failures.
func transientFailure(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return false
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return false
	}
	var recordErr tls.RecordHeaderError
	return !errors.As(err, &recordErr)
}

func idempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut,
		http.MethodDelete, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}
