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

// Package catalog loads and represents the federated catalog database: the
// hosts, directories, keys, datasets and blob files a campaign aggregates.
package catalog

import "time"

// Version identifies the schema a catalog database was written with.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Host is one row of the host table: a machine name the blob files on
// disk were recorded under. DirIndices holds, in host_directory row
// order, the position within Data.Dirs of every directory associated
// with this host.
type Host struct {
	ID         int64
	Hostname   string
	FQDN       string
	OS         string
	DirIndices []int
}

// Directory is an interned path component shared across many blob files,
// so the catalog doesn't repeat long path prefixes per file.
type Directory struct {
	ID   int64
	Path string
}

// Key is a named piece of key material a dataset's blobs may be encrypted
// under. An empty Hex with HasKey true means the hex must be resolved
// through the key service before any blob under the key can be read.
type Key struct {
	ID  int64
	Hex string
}

// Dataset is one federated member: a BP-format data set recorded at some
// host/directory, with zero or more blob files and at most one key.
type Dataset struct {
	ID        int64
	Name      string
	UUID      string
	HostID    int64
	DirID     int64
	HasKey    bool
	KeyID     int64
	Timestamp time.Time
}

// BlobFile is one physical file belonging to a Dataset: its relative
// name, compression flag, and both its original and on-disk (possibly
// compressed) lengths. The payload itself is not loaded by Store.Load;
// it is fetched from the file table on demand by Store.ExtractBlob.
type BlobFile struct {
	ID               int64
	DatasetID        int64
	Name             string
	Compressed       bool
	LengthOriginal   int64
	LengthCompressed int64
}

// Data is the full catalog contents, as loaded from one database file.
// CampaignName is derived from the catalog's file name, for use in the
// cache layout's info.txt.
type Data struct {
	CampaignName string
	Version      Version
	Hosts        []Host
	Dirs         []Directory
	Keys         []Key
	Datasets     []Dataset
	Files        []BlobFile
}

// HostByID returns the host with the given id, or the zero Host and false.
func (d *Data) HostByID(id int64) (Host, bool) {
	for _, h := range d.Hosts {
		if h.ID == id {
			return h, true
		}
	}
	return Host{}, false
}

// DirByID returns the directory with the given id, or the zero Directory
// and false.
func (d *Data) DirByID(id int64) (Directory, bool) {
	for _, dir := range d.Dirs {
		if dir.ID == id {
			return dir, true
		}
	}
	return Directory{}, false
}

// KeyByID returns the key with the given id, or the zero Key and false.
func (d *Data) KeyByID(id int64) (Key, bool) {
	for _, k := range d.Keys {
		if k.ID == id {
			return k, true
		}
	}
	return Key{}, false
}

// FilesForDataset returns every blob file belonging to dataset ds, in
// catalog load order.
func (d *Data) FilesForDataset(dsID int64) []BlobFile {
	var out []BlobFile
	for _, f := range d.Files {
		if f.DatasetID == dsID {
			out = append(out, f)
		}
	}
	return out
}
