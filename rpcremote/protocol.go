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

package rpcremote

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"campaignfs.dev/federated/ferrors"
)

// MessageKind identifies which of the RPC variant's message types a frame
// carries.
type MessageKind byte

const (
	KindOpenFile MessageKind = iota
	KindOpenSimpleFile
	KindGetRequest
	KindReadRequest
	KindStatusServer
)

// Request is the envelope sent for every RPC call; exactly one of the
// typed fields is set, matching Kind.
type Request struct {
	ID   uint64
	Kind MessageKind

	OpenFile       *OpenFileRequest
	OpenSimpleFile *OpenSimpleFileRequest
	Get            *GetRequest
	Read           *ReadRequest
}

// OpenFileRequest opens a BP-format file for reading.
type OpenFileRequest struct {
	Filename string
	RowMajor bool
}

// OpenSimpleFileRequest opens a single named variable's file directly,
// bypassing the engine-level open.
type OpenSimpleFileRequest struct {
	Filename string
	Varname  string
}

// GetRequest asks for a variable's values over a step range.
type GetRequest struct {
	Varname   string
	StepStart uint64
	StepCount uint64
}

// ReadRequest asks for a raw byte range of an already-open file.
type ReadRequest struct {
	Handle int64
	Offset int64
	Length int64
}

// Response is the envelope returned for every RPC call.
type Response struct {
	ID  uint64
	Err string

	Status *StatusResponse
	Data   []byte
}

// StatusResponse answers a StatusServer probe: the server's local port,
// and the address clients should actually connect to for data transfer.
type StatusResponse struct {
	LocalPort  int
	DirectAddr string
}

func (c *Client) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	req.ID = atomic.AddUint64(&c.nextID, 1)

	replyCh := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[req.ID] = replyCh
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.dropPending(req.ID)
		return nil, fmt.Errorf("%w: not connected", ferrors.RemoteEndpointUnreachable)
	}

	if err := writeFrame(conn, req); err != nil {
		c.dropPending(req.ID)
		return nil, fmt.Errorf("%w: writing request: %v", ferrors.RemoteRequestFailed, err)
	}

	select {
	case resp := <-replyCh:
		if resp.Err != "" {
			return resp, fmt.Errorf("%w: %s", ferrors.RemoteRequestFailed, resp.Err)
		}
		return resp, nil
	case <-ctx.Done():
		c.dropPending(req.ID)
		return nil, ctx.Err()
	}
}

func (c *Client) dropPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop demultiplexes responses arriving on conn to their waiting
// roundTrip calls, until the connection closes. Each connection the
// client ever holds gets its own loop; a loop whose connection has been
// superseded (by the redirect handshake) exits without touching the
// pending map, which by then belongs to the new connection's loop.
func (c *Client) readLoop(conn net.Conn) {
	for {
		var resp Response
		if err := readFrame(conn, &resp); err != nil {
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			if current {
				c.failAllPending(err)
			}
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]chan *Response)
	c.mu.Unlock()
	for id, ch := range pending {
		ch <- &Response{ID: id, Err: err.Error()}
	}
}

// writeFrame and readFrame implement a small length-prefixed gob framing:
// a 4-byte big-endian length, followed by a gob-encoded value.
func writeFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func readFrame(r io.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(buf)).Decode(v)
}
