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

// Package httpremote implements the HTTP variant of the engine's remote
// transport: a pool of pooled connections to one or more remote hosts,
// bounded to a fixed number of in-flight transfers, built around the same
// request-gate idiom a blob-fetching HTTP client uses to cap its own
// outstanding connections.
package httpremote

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"campaignfs.dev/federated/ferrors"
)

var (
	sharedOnce sync.Once
	shared     *Pool
)

// Shared returns the process-wide default Pool, built on first use with
// DefaultMaxInFlight and no TLS.
func Shared() *Pool {
	sharedOnce.Do(func() {
		p, err := New(Config{}, nil)
		if err != nil {
			// buildTransport only fails on malformed Config fields,
			// none of which the zero Config sets.
			panic(fmt.Sprintf("httpremote: building default transport: %v", err))
		}
		shared = p
	})
	return shared
}

// Pool manages a bounded set of concurrent HTTP transfers against remote
// /ssi endpoints.
type Pool struct {
	client *http.Client
	logger *log.Logger

	gate chan struct{} // one token per in-flight slot

	closeCtx context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	pending []*Handle
	running bool
}

// New builds a Pool from cfg. A nil logger discards all output.
func New(cfg Config, logger *log.Logger) (*Pool, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	closeCtx, cancel := context.WithCancel(context.Background())
	return &Pool{
		client:   &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
		logger:   logger,
		gate:     make(chan struct{}, cfg.maxInFlight()),
		closeCtx: closeCtx,
		cancel:   cancel,
		running:  true,
	}, nil
}

// mergeContext returns a context canceled as soon as either ctx or pool is
// done, so an in-flight transfer tied to a caller's ctx is also torn down
// when the owning Pool shuts down.
func mergeContext(ctx, pool context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	go func() {
		select {
		case <-pool.Done():
			cancel()
		case <-ctx.Done():
		case <-stop:
		}
	}()
	return merged, func() {
		close(stop)
		cancel()
	}
}

// Handle is a promise for one submitted Request's outcome.
type Handle struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Wait blocks until the request completes, returning any error the
// transfer produced. It is safe to call Wait more than once.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit builds and sends the HTTP request for req against hostURL
// (scheme://host:port) and returns immediately with a Handle. The actual
// transfer runs on its own goroutine, gated by the pool's in-flight
// window.
func (p *Pool) Submit(ctx context.Context, hostURL string, req *Request) *Handle {
	h := newHandle()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		h.resolve(fmt.Errorf("%w: pool is closed", ferrors.RemoteEndpointUnreachable))
		return h
	}
	p.pending = append(p.pending, h)
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(ctx, hostURL, req, h)
	return h
}

func (p *Pool) run(ctx context.Context, hostURL string, req *Request, h *Handle) {
	defer p.wg.Done()

	merged, cancel := mergeContext(ctx, p.closeCtx)
	defer cancel()

	select {
	case p.gate <- struct{}{}:
	case <-merged.Done():
		p.finish(h, merged.Err())
		return
	}

	err := p.doTransfer(merged, hostURL, req)

	// Release the in-flight slot and drop the handle from the pending
	// set before signalling completion, so a waiter never observes a
	// live connection slot through a handle it has just been woken for.
	<-p.gate
	p.mu.Lock()
	for i, ph := range p.pending {
		if ph == h {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	p.finish(h, err)
}

func (p *Pool) finish(h *Handle, err error) {
	h.resolve(err)
}

func (p *Pool) doTransfer(ctx context.Context, hostURL string, req *Request) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, hostURL+"/ssi", nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ferrors.RemoteRequestFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body := req.encode()
	httpReq.Body = io.NopCloser(strings.NewReader(body))
	httpReq.ContentLength = int64(len(body))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ferrors.RemoteEndpointUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %s", ferrors.RemoteRequestFailed, hostURL, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response body: %v", ferrors.RemoteRequestFailed, err)
	}
	req.Destination = data
	return nil
}

// Close stops accepting new submissions, cancels every in-flight
// transfer and waits for its goroutine to exit, then fails any handle
// that was still pending.
func (p *Pool) Close() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, h := range pending {
		h.resolve(fmt.Errorf("%w: pool closed while request was pending", ferrors.RemoteRequestFailed))
	}
}
