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
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
)

// RetryPolicy decides whether a failed request should be resent. It is
// the sole authority on attempt counts and which failures qualify; the
// executor only vetoes it when the body cannot be replayed.
type RetryPolicy interface {
	Retryable(req *Request, err error, attempt int, scope *Scope) bool
}

// NonRepeatableError is returned instead of a retry when the request
// body has begun streaming to the wire and cannot be deterministically
// resent. It wraps the transport failure that triggered the retry.
type NonRepeatableError struct {
	Cause error
}

func (e *NonRepeatableError) Error() string {
	return "cannot retry request with a non-repeatable request entity: " + e.Cause.Error()
}

func (e *NonRepeatableError) Unwrap() error {
	return e.Cause
}

// RetryExec wraps a downstream execution step and replays failed
// requests according to the configured policy. Each attempt flows
// through the same scope; only the request representation is copied
// per attempt, from the scope's original request.
type RetryExec struct {
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetryExec returns a retry executor using the given policy.
func NewRetryExec(policy RetryPolicy) *RetryExec {
	return &RetryExec{policy: policy, logger: discardLogger()}
}

// SetLogger directs the executor's debug output to the given logger.
func (r *RetryExec) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Execute submits the request through next, retrying qualifying
// transport failures. An aborted execution is re-raised immediately
// without consulting the policy.
func (r *RetryExec) Execute(req *Request, scope *Scope, next Handler) (*Response, error) {
	current := req
	for attempt := 1; ; attempt++ {
		resp, err := next.Execute(current, scope)
		if err == nil {
			return resp, nil
		}
		if scope.Runtime != nil && scope.Runtime.ExecutionAborted() {
			// the runtime has already decided teardown
			return nil, err
		}
		if !isTransportError(err) {
			return nil, err
		}
		if !r.policy.Retryable(scope.OriginalRequest, err, attempt, scope) {
			return nil, err
		}
		if entity := current.Entity; entity != nil && !entity.Repeatable() && entity.Consumed() {
			return nil, &NonRepeatableError{Cause: err}
		}
		r.logger.Debug("I/O error, retrying request",
			slog.String("route", scope.Route.String()),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		current = scope.OriginalRequest.Clone()
	}
}

// isTransportError reports whether the failure is an I/O-class error
// eligible for retry evaluation. Context cancellation is a caller
// decision, never a transport failure.
func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return true
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
