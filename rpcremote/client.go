/*
Copyright 2011 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package rpcremote implements the RPC variant of the engine's remote
// transport: a long-lived connection to a remote dataserver, with an
// explicit connection state machine and a bootstrap-then-redirect
// handshake so a client first contacts a well-known rendezvous port and
// is then redirected to the server's actual listening address.
package rpcremote

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"campaignfs.dev/federated/ferrors"
)

// connState is the lifecycle of one rpcremote connection.
type connState int

const (
	Disconnected connState = iota
	Connecting
	Probing
	Connected
	Closing
	Closed
)

func (s connState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Probing:
		return "probing"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one RPC connection to a remote dataserver.
type Client struct {
	mu    sync.Mutex
	state connState
	conn  net.Conn

	dialTimeout time.Duration

	pending map[uint64]chan *Response
	nextID  uint64
}

// New returns a disconnected Client.
func New(dialTimeout time.Duration) *Client {
	return &Client{
		state:       Disconnected,
		dialTimeout: dialTimeout,
		pending:     make(map[uint64]chan *Response),
	}
}

// State returns the client's current connection state.
func (c *Client) State() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open dials bootstrapAddr, sends a StatusServer probe, and if the
// server's advertised direct address differs from bootstrapAddr,
// reconnects directly to it -- the same redirect handshake a campaign
// reader's remote engine performs before issuing OpenFile.
func (c *Client) Open(ctx context.Context, bootstrapAddr string) error {
	c.mu.Lock()
	if c.state != Disconnected && c.state != Closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: client already in state %s", ferrors.RemoteRequestFailed, c.state)
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, err := c.dial(ctx, bootstrapAddr)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("%w: dialing %s: %v", ferrors.RemoteEndpointUnreachable, bootstrapAddr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Probing
	c.mu.Unlock()
	go c.readLoop(conn)

	status, err := c.statusServer(ctx)
	if err != nil {
		c.Close()
		return err
	}

	if status.DirectAddr != "" && status.DirectAddr != bootstrapAddr {
		direct, err := c.dial(ctx, status.DirectAddr)
		if err != nil {
			conn.Close()
			c.setState(Disconnected)
			return fmt.Errorf("%w: redirect dial %s: %v", ferrors.RemoteEndpointUnreachable, status.DirectAddr, err)
		}
		// Swap before closing the bootstrap connection, so its read
		// loop sees it has been superseded and exits without failing
		// requests now pending on the direct connection.
		c.mu.Lock()
		c.conn = direct
		c.mu.Unlock()
		conn.Close()
		go c.readLoop(direct)
	}

	c.setState(Connected)
	return nil
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

func (c *Client) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// statusServer sends a StatusServer request and waits for the response,
// so the caller can compare the server's advertised direct-contact
// address against the bootstrap one and redirect if they differ.
func (c *Client) statusServer(ctx context.Context) (*StatusResponse, error) {
	resp, err := c.roundTrip(ctx, &Request{Kind: KindStatusServer})
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, fmt.Errorf("%w: server did not return a status response", ferrors.RemoteRequestFailed)
	}
	return resp.Status, nil
}

// OpenFile opens filename on the remote server for reading in the
// requested mode.
func (c *Client) OpenFile(ctx context.Context, filename string, rowMajor bool) (*Response, error) {
	return c.roundTrip(ctx, &Request{Kind: KindOpenFile, OpenFile: &OpenFileRequest{Filename: filename, RowMajor: rowMajor}})
}

// Get issues a GetRequest for the given variable and step range.
func (c *Client) Get(ctx context.Context, varname string, stepStart, stepCount uint64) (*Response, error) {
	return c.roundTrip(ctx, &Request{Kind: KindGetRequest, Get: &GetRequest{Varname: varname, StepStart: stepStart, StepCount: stepCount}})
}

// Close tears the connection down, transitioning through Closing to
// Closed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.setState(Closed)
	return err
}
