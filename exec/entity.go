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
	"errors"
	"io"
	"net"
	"sync/atomic"
)

// Aborter is implemented by guarded response streams. Abort gives up on
// the body without draining remaining bytes; the connection is assumed
// unsafe to reuse.
type Aborter interface {
	Abort() error
}

// GuardResponse wraps the response entity, when it is a one-shot
// stream, so that the underlying connection is returned to the pool
// once the body is fully drained, or discarded if drainage fails.
// Repeatable (buffered) entities do not tie up a connection and are
// left alone.
func GuardResponse(resp *Response, runtime Runtime) {
	if resp == nil || resp.Entity == nil || runtime == nil {
		return
	}
	if resp.Entity.Repeatable() {
		return
	}
	resp.Entity = &guardedEntity{inner: resp.Entity, runtime: runtime}
}

// guardedEntity ties the lifetime of a streamed response body to its
// connection. Once wrapped, the body is bound to a live connection and
// can never be transparently re-read.
type guardedEntity struct {
	inner   Entity
	runtime Runtime
}

func (g *guardedEntity) Repeatable() bool { return false }

func (g *guardedEntity) Consumed() bool { return g.inner.Consumed() }

func (g *guardedEntity) Open() (io.ReadCloser, error) {
	rc, err := g.inner.Open()
	if err != nil {
		return nil, err
	}
	return &guardedStream{inner: rc, runtime: g.runtime}, nil
}

// WriteTo streams the whole body to w, then releases the connection.
// Any failure while reading or writing discards the connection
// instead. Cleanup runs on every path.
func (g *guardedEntity) WriteTo(w io.Writer) (int64, error) {
	rc, err := g.inner.Open()
	if err != nil {
		return 0, err
	}
	defer g.cleanup()
	n, err := io.Copy(w, rc)
	if err != nil {
		g.runtime.DiscardConnection()
		return n, err
	}
	if err := rc.Close(); err != nil {
		g.runtime.DiscardConnection()
		return n, err
	}
	g.runtime.ReleaseConnection()
	return n, nil
}

func (g *guardedEntity) cleanup() {
	if g.runtime.Connected() {
		_ = g.runtime.Disconnect()
	}
	g.runtime.DiscardConnection()
}

// guardedStream watches a response body stream for end-of-stream,
// close, and abort, funnelling every exit through the same idempotent
// cleanup. Exactly one terminal transition wins the done flag; all
// later signals are no-ops.
type guardedStream struct {
	inner   io.ReadCloser
	runtime Runtime
	done    atomic.Bool
}

func (s *guardedStream) Read(p []byte) (int, error) {
	if s.done.Load() {
		return 0, io.EOF
	}
	n, err := s.inner.Read(p)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		if finishErr := s.endOfStream(); finishErr != nil {
			return n, finishErr
		}
		return n, io.EOF
	default:
		if s.done.CompareAndSwap(false, true) {
			s.runtime.DiscardConnection()
			s.cleanup()
		}
		return n, err
	}
}

// endOfStream handles normal full consumption: close the wrapped
// stream (there may be trailers to read past the body), release the
// connection as reusable, then clean up.
func (s *guardedStream) endOfStream() error {
	if !s.done.CompareAndSwap(false, true) {
		return nil
	}
	defer s.cleanup()
	if err := s.inner.Close(); err != nil {
		s.runtime.DiscardConnection()
		return err
	}
	s.runtime.ReleaseConnection()
	return nil
}

// Close consumes the remainder of the body so the connection can be
// reused, then releases it. A socket-level failure during the drain is
// benign when the connection is already non-acquired; otherwise it
// discards the connection and propagates.
func (s *guardedStream) Close() error {
	if !s.done.CompareAndSwap(false, true) {
		return nil
	}
	defer s.cleanup()
	acquired := s.runtime.ConnectionAcquired()
	_, drainErr := io.Copy(io.Discard, s.inner)
	closeErr := s.inner.Close()
	err := drainErr
	if err == nil {
		err = closeErr
	}
	if err != nil {
		if socketError(err) && !acquired {
			return nil
		}
		s.runtime.DiscardConnection()
		return err
	}
	s.runtime.ReleaseConnection()
	return nil
}

// Abort gives up on the stream without draining remaining bytes.
func (s *guardedStream) Abort() error {
	if s.done.CompareAndSwap(false, true) {
		s.cleanup()
	}
	return nil
}

func (s *guardedStream) cleanup() {
	if s.runtime.Connected() {
		_ = s.runtime.Disconnect()
	}
	s.runtime.DiscardConnection()
}

func socketError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) || errors.Is(err, net.ErrClosed)
}

var _ Aborter = (*guardedStream)(nil)
