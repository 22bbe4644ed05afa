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

package localfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"campaignfs.dev/federated/ferrors"
)

// Block is one block of raw values to write for a variable.
type Block struct {
	Start, Count []uint64
	Data         []byte
}

// WriteVariable writes one <name>.var file into dir, in the format Open
// reads back. It exists mainly to let tests and a future writing path
// build localfile engines without hand-crafting the binary layout.
func WriteVariable(dir, name, typ string, shape []uint64, blocks []Block) error {
	path := filepath.Join(dir, name+".var")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ferrors.CacheIOError, path, err)
	}
	defer f.Close()

	if err := writeString(f, name); err != nil {
		return err
	}
	if err := writeString(f, typ); err != nil {
		return err
	}
	if err := writeU32(f, uint32(len(shape))); err != nil {
		return err
	}
	for _, s := range shape {
		if err := writeU64(f, s); err != nil {
			return err
		}
	}
	if err := writeU32(f, uint32(len(blocks))); err != nil {
		return err
	}
	for _, b := range blocks {
		for _, s := range b.Start {
			if err := writeU64(f, s); err != nil {
				return err
			}
		}
		for _, c := range b.Count {
			if err := writeU64(f, c); err != nil {
				return err
			}
		}
		if err := writeU64(f, uint64(len(b.Data))); err != nil {
			return err
		}
		if _, err := f.Write(b.Data); err != nil {
			return fmt.Errorf("%w: writing %s: %v", ferrors.CacheIOError, path, err)
		}
	}
	return nil
}

func writeString(f *os.File, s string) error {
	if err := writeU32(f, uint32(len(s))); err != nil {
		return err
	}
	_, err := f.Write([]byte(s))
	return err
}

func writeU32(f *os.File, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := f.Write(buf[:])
	return err
}

func writeU64(f *os.File, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := f.Write(buf[:])
	return err
}
