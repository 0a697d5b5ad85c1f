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
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pzhao12test5/httpcomponents-client/route"
)

//nolint:gochecknoglobals
var defaultDialer = &net.Dialer{
	Timeout:   30 * time.Second,
	KeepAlive: 30 * time.Second,
}

var errNotUpgradable = errors.New("connection does not support TLS upgrade")

// Operator opens and upgrades physical transports on behalf of the
// connection manager. Errors returned from Connect propagate to the
// caller as connect failures and never corrupt pool accounting.
type Operator interface {
	// Connect opens a new connection to the given host. A non-zero
	// timeout bounds the dial regardless of the context deadline.
	Connect(ctx context.Context, host route.Host, localAddr string, timeout time.Duration) (Conn, error)
	// Upgrade layers TLS over an already-connected plain-text
	// connection, in place of the original. The host names the peer
	// the upgraded session is verified against.
	Upgrade(ctx context.Context, c Conn, host route.Host) (Conn, error)
}

// DialOperator is the default Operator. It dials TCP connections with a
// net.Dialer and performs TLS upgrades with the configured tls.Config.
type DialOperator struct {
	// DialFunc, if non-nil, is used to establish network connections
	// instead of the default dialer. A custom dialer owns all dial
	// parameters: the route's local bind address is not applied to it.
	DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)
	// TLSConfig, if non-nil, is the base configuration for upgraded
	// connections. It is cloned per upgrade.
	TLSConfig *tls.Config
	// TLSHandshakeTimeout bounds the handshake during Upgrade. Zero
	// means 10 seconds.
	TLSHandshakeTimeout time.Duration
}

func (o *DialOperator) Connect(ctx context.Context, host route.Host, localAddr string, timeout time.Duration) (Conn, error) {
	dial := o.DialFunc
	if dial == nil {
		dialer := *defaultDialer
		if localAddr != "" {
			addr, err := net.ResolveTCPAddr("tcp", localAddr)
			if err != nil {
				return nil, fmt.Errorf("connect %s: %w", host, err)
			}
			dialer.LocalAddr = addr
		}
		dial = dialer.DialContext
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	netConn, err := dial(ctx, "tcp", host.HostPort())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", host, err)
	}
	return NewNetConn(netConn), nil
}

func (o *DialOperator) Upgrade(ctx context.Context, c Conn, host route.Host) (Conn, error) {
	nc, ok := c.(*NetConn)
	if !ok {
		return nil, errNotUpgradable
	}
	conf := o.TLSConfig
	if conf == nil {
		conf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	conf = conf.Clone()
	if conf.ServerName == "" {
		conf.ServerName = host.Name
	}
	timeout := o.TLSHandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tlsConn := tls.Client(nc.Conn, conf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("upgrade %s: %w", host, err)
	}
	return NewNetConn(tlsConn), nil
}
