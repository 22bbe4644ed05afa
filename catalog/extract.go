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

package catalog

import (
	"bytes"
	"compress/zlib"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"filippo.io/age"

	"campaignfs.dev/federated/ferrors"
)

// ExtractBlob fetches blob's payload from the file table on db (it is
// never held in memory by Store.Load), writes it to outputPath,
// decrypting first if keyHex is non-empty, then decompressing if
// blob.Compressed. The extracted length is checked against
// blob.LengthOriginal.
func (s *Store) ExtractBlob(ctx context.Context, db *sql.DB, outputPath string, blob BlobFile, keyHex string) error {
	payload, err := s.fetchBlobData(ctx, db, blob.ID)
	if err != nil {
		return err
	}

	if keyHex != "" {
		plain, err := decryptBlob(payload, keyHex)
		if err != nil {
			return fmt.Errorf("%w: dataset blob %s: %v", ferrors.BlobDecryptionFailed, blob.Name, err)
		}
		payload = plain
	}

	if blob.Compressed {
		plain, err := inflate(payload)
		if err != nil {
			return fmt.Errorf("%w: decompressing %s: %v", ferrors.CacheIOError, blob.Name, err)
		}
		payload = plain
	}

	if int64(len(payload)) != blob.LengthOriginal {
		return fmt.Errorf("%w: %s: extracted %d bytes, catalog records %d",
			ferrors.CacheIOError, blob.Name, len(payload), blob.LengthOriginal)
	}

	if err := os.WriteFile(outputPath, payload, 0o644); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ferrors.CacheIOError, outputPath, err)
	}
	return nil
}

// fetchBlobData runs a targeted query for one file row's payload, rather
// than scanning the whole file table into memory the way readFiles does
// for metadata.
func (s *Store) fetchBlobData(ctx context.Context, db *sql.DB, fileID int64) ([]byte, error) {
	var data []byte
	row := db.QueryRowContext(ctx, `SELECT data FROM file WHERE id = ?`, fileID)
	if err := row.Scan(&data); err != nil {
		return nil, fmt.Errorf("%w: fetching blob payload for file id %d: %v", ferrors.CacheIOError, fileID, err)
	}
	return data, nil
}

func inflate(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// decryptBlob decrypts payload using keyHex as an age identity's raw key
// material. The hex string is the key service's resolved key for the
// dataset; the key service's "0" answer (access denied) must never reach
// here.
func decryptBlob(payload []byte, keyHex string) ([]byte, error) {
	ident, err := age.NewScryptIdentity(keyHex)
	if err != nil {
		return nil, fmt.Errorf("building identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(payload), ident)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return io.ReadAll(r)
}
