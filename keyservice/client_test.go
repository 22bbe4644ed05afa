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

package keyservice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"campaignfs.dev/federated/ferrors"
)

func TestFetchKeyOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/key/42" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Write([]byte("deadbeef"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	hex, err := c.FetchKey(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchKey: %v", err)
	}
	if hex != "deadbeef" {
		t.Errorf("FetchKey = %q, want %q", hex, "deadbeef")
	}
}

func TestFetchKeyDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	hex, err := c.FetchKey(context.Background(), "7")
	if err != nil {
		t.Fatalf("FetchKey: %v", err)
	}
	if hex != "0" {
		t.Errorf("FetchKey on 404 = %q, want \"0\" (denied)", hex)
	}
}

func TestFetchKeyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.FetchKey(context.Background(), "7")
	if !errors.Is(err, ferrors.KeyServiceUnavailable) {
		t.Errorf("FetchKey on 500: err = %v, want ferrors.KeyServiceUnavailable", err)
	}
}
