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

// Package ferrors defines the sentinel error values shared across the
// federated engine's components, so callers can classify a failure with
// errors.Is instead of parsing strings.
package ferrors

import "errors"

var (
	// CatalogUnreadable means the catalog database file could not be
	// opened or read at all (missing, permissions, corrupt file).
	CatalogUnreadable = errors.New("catalog: unreadable")

	// CatalogSchemaMismatch means the catalog database opened fine but
	// its schema version is not one this engine understands.
	CatalogSchemaMismatch = errors.New("catalog: schema version mismatch")

	// BlobDecryptionFailed means a cached blob could not be decrypted
	// with the key material supplied for its dataset.
	BlobDecryptionFailed = errors.New("catalog: blob decryption failed")

	// KeyServiceUnavailable means the key service could not be reached
	// to resolve a dataset's decryption key.
	KeyServiceUnavailable = errors.New("keyservice: unavailable")

	// RemoteEndpointUnreachable means a remote transport could not
	// establish a connection to its configured host.
	RemoteEndpointUnreachable = errors.New("remote: endpoint unreachable")

	// RemoteRequestFailed means a connection was established but the
	// remote end reported or caused a request failure.
	RemoteRequestFailed = errors.New("remote: request failed")

	// CacheIOError means a local cache read or write failed.
	CacheIOError = errors.New("cache: io error")

	// NameNotFound means a requested variable or attribute name does not
	// exist in the merged namespace.
	NameNotFound = errors.New("namespace: name not found")

	// InvalidConfig means a configuration parameter was missing,
	// malformed, or out of its valid range.
	InvalidConfig = errors.New("config: invalid")
)
