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

package subengine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"campaignfs.dev/federated/cachelayout"
	"campaignfs.dev/federated/catalog"
	"campaignfs.dev/federated/ferrors"
	"campaignfs.dev/federated/hostconfig"
	"campaignfs.dev/federated/keyservice"
)

type fakeEngine struct{ name string }

func (f *fakeEngine) Variables() []VarDesc   { return nil }
func (f *fakeEngine) Attributes() []AttrDesc { return nil }
func (f *fakeEngine) Get(context.Context, string, any, Mode) (Future, error) {
	return Resolved(nil), nil
}
func (f *fakeEngine) Shape(string, uint64) ([]uint64, error)                          { return nil, nil }
func (f *fakeEngine) MinMax(string, uint64) (MinMax, error)                           { return MinMax{}, nil }
func (f *fakeEngine) BlocksInfo(string, uint64) ([]BlockInfo, error)                  { return nil, nil }
func (f *fakeEngine) AllStepsBlocksInfo(string) (map[uint64][]BlockInfo, error)       { return nil, nil }
func (f *fakeEngine) AllRelativeStepsBlocksInfo(string) ([][]BlockInfo, error)        { return nil, nil }
func (f *fakeEngine) ExprStr(string) (string, error)                                  { return "", nil }
func (f *fakeEngine) Close() error                                                    { return nil }

func baseData() *catalog.Data {
	return &catalog.Data{
		Hosts: []catalog.Host{{ID: 1, Hostname: "thishost"}, {ID: 2, Hostname: "otherhost"}},
		Dirs:  []catalog.Directory{{ID: 1, Path: "/data/sim"}},
		Keys:  []catalog.Key{{ID: 1, Hex: "abcd"}},
	}
}

func TestFactoryOpenLocal(t *testing.T) {
	data := baseData()
	data.Datasets = []catalog.Dataset{{ID: 1, Name: "sim.bp", UUID: "uuid-1", HostID: 1, DirID: 1}}

	var openedDir string
	f := &Factory{
		LocalHost: "thishost",
		Hosts:     hostconfig.Table{},
		OpenLocal: func(dir string) (Engine, error) {
			openedDir = dir
			return &fakeEngine{name: "local"}, nil
		},
	}

	eng, err := f.Open(context.Background(), nil, data, data.Datasets[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if eng == nil {
		t.Fatalf("Open returned nil engine")
	}
	if openedDir != "/data/sim" {
		t.Errorf("OpenLocal called with dir %q, want /data/sim", openedDir)
	}
}

func TestFactoryOpenRemoteMaterializesThroughCache(t *testing.T) {
	data := baseData()
	data.Datasets = []catalog.Dataset{{ID: 1, Name: "sim.bp", UUID: "uuid-1", HostID: 2, DirID: 1, HasKey: true, KeyID: 1}}

	tmp := t.TempDir()
	store := catalog.NewStore(tmp, nil)
	cache := cachelayout.New(tmp, store)

	var openedDir string
	f := &Factory{
		LocalHost: "thishost",
		Hosts:     hostconfig.Table{},
		Cache:     cache,
		OpenLocal: func(dir string) (Engine, error) {
			openedDir = dir
			return &fakeEngine{name: "remote"}, nil
		},
	}

	eng, err := f.Open(context.Background(), nil, data, data.Datasets[0])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if eng == nil {
		t.Fatalf("Open returned nil engine")
	}
	if openedDir == "" {
		t.Errorf("OpenLocal was not called with a materialized cache dir")
	}
}

func TestFactoryOpenS3WhenHostHasProfile(t *testing.T) {
	data := baseData()
	data.Datasets = []catalog.Dataset{{ID: 1, Name: "sim.bp", UUID: "uuid-1", HostID: 2, DirID: 1}}

	var gotBucket, gotProfile string
	f := &Factory{
		LocalHost: "thishost",
		Hosts: hostconfig.Table{
			"otherhost": {Endpoint: "my-bucket", AWSProfile: "campaign-reader", HasS3Profile: true},
		},
		OpenS3: func(ctx context.Context, bucket, prefix, profile string, isEC2, recheck bool, ds catalog.Dataset, files []catalog.BlobFile, cache *cachelayout.Layout) (Engine, error) {
			gotBucket, gotProfile = bucket, profile
			return &fakeEngine{name: "s3"}, nil
		},
	}

	if _, err := f.Open(context.Background(), nil, data, data.Datasets[0]); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if gotBucket != "my-bucket" || gotProfile != "campaign-reader" {
		t.Errorf("OpenS3 called with bucket=%q profile=%q, want my-bucket/campaign-reader", gotBucket, gotProfile)
	}
}

func TestFactoryOpenDeniedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	data := baseData()
	data.Keys = []catalog.Key{{ID: 1, Hex: ""}}
	data.Datasets = []catalog.Dataset{{ID: 1, Name: "sim.bp", UUID: "uuid-1", HostID: 2, DirID: 1, HasKey: true, KeyID: 1}}

	f := &Factory{
		LocalHost: "thishost",
		Hosts:     hostconfig.Table{},
		Keys:      keyservice.New(srv.URL, nil),
	}

	_, err := f.Open(context.Background(), nil, data, data.Datasets[0])
	if !errors.Is(err, ferrors.KeyServiceUnavailable) {
		t.Errorf("Open with denied key: err = %v, want ferrors.KeyServiceUnavailable", err)
	}
}

func TestFactoryFetchesKeyOncePerID(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	data := baseData()
	data.Keys = []catalog.Key{{ID: 1, Hex: ""}}
	data.Datasets = []catalog.Dataset{
		{ID: 1, Name: "a.bp", UUID: "uuid-a", HostID: 2, DirID: 1, HasKey: true, KeyID: 1},
		{ID: 2, Name: "b.bp", UUID: "uuid-b", HostID: 2, DirID: 1, HasKey: true, KeyID: 1},
	}

	f := &Factory{
		LocalHost: "thishost",
		Hosts:     hostconfig.Table{},
		Keys:      keyservice.New(srv.URL, nil),
	}

	for _, ds := range data.Datasets {
		if _, err := f.Open(context.Background(), nil, data, ds); err == nil {
			t.Errorf("Open(%s) with denied key: err = nil, want error", ds.Name)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("key service hit %d times for one key id, want 1", got)
	}
}

func TestFactoryOpenUnknownHost(t *testing.T) {
	data := baseData()
	data.Datasets = []catalog.Dataset{{ID: 1, Name: "sim.bp", UUID: "uuid-1", HostID: 99, DirID: 1}}

	f := &Factory{LocalHost: "thishost"}
	_, err := f.Open(context.Background(), nil, data, data.Datasets[0])
	if !errors.Is(err, ferrors.InvalidConfig) {
		t.Errorf("Open with unknown host: err = %v, want ferrors.InvalidConfig", err)
	}
}
