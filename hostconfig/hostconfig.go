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

// Package hostconfig loads the per-host options table: for every remote
// host named in a catalog, whether it has an S3 profile, what protocol
// and endpoint to use for a generic remote connection, and whether to
// probe EC2 instance metadata. It is a small JSON config file, so it
// reuses go4.org/jsonconfig the way the blobserver handler tree loads its
// own per-storage configuration.
package hostconfig

import (
	"fmt"

	"go4.org/jsonconfig"
)

// Host holds the options recorded for one remote hostname.
type Host struct {
	Protocol        string // "http", "https", or "" for RPC
	Endpoint        string
	AWSProfile      string
	IsAWSEC2        bool
	RecheckMetadata bool
	Verbose         int
	HasS3Profile    bool
}

// Table maps hostname to its Host options.
type Table map[string]Host

// Load reads a host options table from a JSON config file of the form:
//
//	{
//	  "data.example.org": {
//	    "protocol": "https",
//	    "endpoint": "data.example.org:1234",
//	    "awsProfile": "campaign-reader",
//	    "isAWS_EC2": false,
//	    "recheckMetadata": true,
//	    "verbose": 1
//	  }
//	}
func Load(path string) (Table, error) {
	obj, err := jsonconfig.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hostconfig: reading %s: %w", path, err)
	}
	return FromObj(obj)
}

// FromObj builds a Table from an already-parsed jsonconfig.Obj, validating
// that every per-host entry only uses recognized keys.
func FromObj(obj jsonconfig.Obj) (Table, error) {
	names := make([]string, 0, len(obj))
	for name := range obj {
		names = append(names, name)
	}

	t := make(Table, len(obj))
	for _, name := range names {
		hostObj := obj.RequiredObject(name)
		h := Host{
			Protocol:        hostObj.OptionalString("protocol", ""),
			Endpoint:        hostObj.OptionalString("endpoint", ""),
			AWSProfile:      hostObj.OptionalString("awsProfile", ""),
			IsAWSEC2:        hostObj.OptionalBool("isAWS_EC2", false),
			RecheckMetadata: hostObj.OptionalBool("recheckMetadata", false),
			Verbose:         hostObj.OptionalInt("verbose", 0),
		}
		h.HasS3Profile = h.AWSProfile != ""
		if err := hostObj.Validate(); err != nil {
			return nil, fmt.Errorf("hostconfig: host %q: %w", name, err)
		}
		t[name] = h
	}
	if err := obj.Validate(); err != nil {
		return nil, fmt.Errorf("hostconfig: %w", err)
	}
	return t, nil
}

// Lookup returns the options for host, and whether an entry exists.
func (t Table) Lookup(host string) (Host, bool) {
	h, ok := t[host]
	return h, ok
}
