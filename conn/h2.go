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

package conn

import (
	"context"
	"net"

	"golang.org/x/net/http2"
)

// HTTP2Conn is a managed connection backed by an HTTP/2 client
// connection. It supports the Pinger capability, so idle validation
// uses a real PING round trip instead of a plain open/closed check.
type HTTP2Conn struct {
	cc *http2.ClientConn
}

// NewHTTP2Conn performs the HTTP/2 client preface over the given
// network connection and returns the managed connection.
func NewHTTP2Conn(t *http2.Transport, netConn net.Conn) (*HTTP2Conn, error) {
	cc, err := t.NewClientConn(netConn)
	if err != nil {
		return nil, err
	}
	return &HTTP2Conn{cc: cc}, nil
}

// ClientConn exposes the underlying HTTP/2 connection for request
// execution.
func (c *HTTP2Conn) ClientConn() *http2.ClientConn {
	return c.cc
}

func (c *HTTP2Conn) Close() error {
	return c.cc.Close()
}

func (c *HTTP2Conn) IsOpen() bool {
	return c.cc.CanTakeNewRequest()
}

// Ping sends an HTTP/2 PING frame and waits for its acknowledgement.
func (c *HTTP2Conn) Ping(ctx context.Context) error {
	return c.cc.Ping(ctx)
}

var _ Pinger = (*HTTP2Conn)(nil)
