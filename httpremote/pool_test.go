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

package httpremote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestPoolSubmitWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ssi" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	p, err := New(Config{MaxInFlight: 2}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	req := &Request{Filename: "sim.bp", Varname: "temperature", Dims: 1, Count: []uint64{10}, Start: []uint64{0}}
	h := p.Submit(context.Background(), srv.URL, req)
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if string(req.Destination) != "payload" {
		t.Errorf("Destination = %q, want %q", req.Destination, "payload")
	}
}

func TestPoolBoundsInFlight(t *testing.T) {
	const maxInFlight = 3

	var mu sync.Mutex
	active, peak := 0, 0
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		<-release

		mu.Lock()
		active--
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, err := New(Config{MaxInFlight: maxInFlight}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	const numRequests = maxInFlight * 3
	handles := make([]*Handle, numRequests)
	for i := range handles {
		handles[i] = p.Submit(context.Background(), srv.URL, &Request{Filename: "sim.bp"})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, h := range handles {
		if err := h.Wait(context.Background()); err != nil {
			t.Errorf("Wait: %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > maxInFlight {
		t.Errorf("peak concurrent transfers = %d, want <= %d", peak, maxInFlight)
	}
}

// TestPoolCloseWhileInFlight asserts that Close cancels a transfer that is
// blocked mid-request rather than waiting for it to finish naturally (it
// never will, since the handler below blocks until the test is done), and
// that the in-flight goroutine has actually exited by the time Close
// returns.
func TestPoolCloseWhileInFlight(t *testing.T) {
	block := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	p, err := New(Config{MaxInFlight: 1}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := p.Submit(context.Background(), srv.URL, &Request{Filename: "sim.bp"})

	done := make(chan struct{})
	go func() {
		p.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return promptly while a transfer was in flight")
	}

	if err := h.Wait(context.Background()); err == nil {
		t.Error("Wait on a handle whose transfer was canceled by Close: got nil error, want non-nil")
	}
}

func TestPoolSubmitAfterCloseFails(t *testing.T) {
	p, err := New(Config{MaxInFlight: 1}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()

	h := p.Submit(context.Background(), "http://unused.invalid", &Request{})
	if err := h.Wait(context.Background()); err == nil {
		t.Error("Wait on a closed pool: got nil error, want non-nil")
	}
}
