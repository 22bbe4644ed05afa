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

// Package localfile implements subengine.Engine over a directory of
// materialized, self-describing variable files: one small binary header
// (name, type, shape, block count) followed by each block's raw values.
// It is the one concrete engine every dataset, regardless of its catalog
// host, ultimately opens once its bytes have been made available locally
// -- the same way a campaign reader's sub-engines all end up opening the
// same local file once their data is cached.
package localfile

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"campaignfs.dev/federated/ferrors"
	"campaignfs.dev/federated/subengine"
)

// A block is one writer block of a variable file, whose on-disk layout is:
//
//	uint32 nameLen; name bytes
//	uint32 typeLen; type bytes
//	uint32 ndims; ndims * uint64 shape
//	uint32 nblocks
//	for each block: ndims*uint64 start, ndims*uint64 count, uint64 dataLen, data bytes
type block struct {
	start, count []uint64
	data         []byte
}

type variable struct {
	name   string
	typ    string
	shape  []uint64
	blocks []block
}

// Engine reads variables from a directory populated by cachelayout.
type Engine struct {
	dir   string
	vars  map[string]*variable
	order []string
}

// Open scans dir for variable files (one file per variable, named
// <varname>.var) and parses their headers and blocks.
func Open(dir string) (*Engine, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ferrors.CacheIOError, dir, err)
	}

	e := &Engine{dir: dir, vars: make(map[string]*variable)}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".var" {
			continue
		}
		v, err := readVariableFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		e.vars[v.name] = v
		e.order = append(e.order, v.name)
	}
	sort.Strings(e.order)
	return e, nil
}

func readVariableFile(path string) (*variable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ferrors.CacheIOError, path, err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	typ, err := readString(r)
	if err != nil {
		return nil, err
	}
	ndims, err := readU32(r)
	if err != nil {
		return nil, err
	}
	shape := make([]uint64, ndims)
	for i := range shape {
		shape[i], err = readU64(r)
		if err != nil {
			return nil, err
		}
	}
	nblocks, err := readU32(r)
	if err != nil {
		return nil, err
	}
	v := &variable{name: name, typ: typ, shape: shape}
	for i := uint32(0); i < nblocks; i++ {
		start := make([]uint64, ndims)
		for j := range start {
			if start[j], err = readU64(r); err != nil {
				return nil, err
			}
		}
		count := make([]uint64, ndims)
		for j := range count {
			if count[j], err = readU64(r); err != nil {
				return nil, err
			}
		}
		dataLen, err := readU64(r)
		if err != nil {
			return nil, err
		}
		data := make([]byte, dataLen)
		if _, err := readFull(r, data); err != nil {
			return nil, err
		}
		v.blocks = append(v.blocks, block{start: start, count: count, data: data})
	}
	return v, nil
}

func readString(r *bufio.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readU32(r *bufio.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readU64(r *bufio.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := readFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, fmt.Errorf("%w: %v", ferrors.CacheIOError, err)
		}
	}
	return total, nil
}

func (e *Engine) lookup(name string) (*variable, error) {
	v, ok := e.vars[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ferrors.NameNotFound, name)
	}
	return v, nil
}

func (e *Engine) Variables() []subengine.VarDesc {
	out := make([]subengine.VarDesc, 0, len(e.order))
	for _, name := range e.order {
		v := e.vars[name]
		out = append(out, subengine.VarDesc{Name: v.name, Type: v.typ, Shape: v.shape})
	}
	return out
}

func (e *Engine) Attributes() []subengine.AttrDesc { return nil }

func (e *Engine) Get(ctx context.Context, name string, dest any, mode subengine.Mode) (subengine.Future, error) {
	v, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	buf, ok := dest.(*[]byte)
	if !ok {
		return nil, fmt.Errorf("%w: destination for %s must be *[]byte", ferrors.InvalidConfig, name)
	}
	var all []byte
	for _, b := range v.blocks {
		all = append(all, b.data...)
	}
	*buf = all
	return subengine.Resolved(nil), nil
}

func (e *Engine) Shape(name string, step uint64) ([]uint64, error) {
	v, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	return v.shape, nil
}

func (e *Engine) MinMax(name string, step uint64) (subengine.MinMax, error) {
	v, err := e.lookup(name)
	if err != nil {
		return subengine.MinMax{}, err
	}
	if len(v.blocks) == 0 {
		return subengine.MinMax{}, nil
	}
	min, max := v.blocks[0].data[0], v.blocks[0].data[0]
	for _, b := range v.blocks {
		for _, bt := range b.data {
			if bt < min {
				min = bt
			}
			if bt > max {
				max = bt
			}
		}
	}
	return subengine.MinMax{Min: min, Max: max}, nil
}

func (e *Engine) BlocksInfo(name string, step uint64) ([]subengine.BlockInfo, error) {
	v, err := e.lookup(name)
	if err != nil {
		return nil, err
	}
	out := make([]subengine.BlockInfo, len(v.blocks))
	for i, b := range v.blocks {
		out[i] = subengine.BlockInfo{BlockID: i, Start: b.start, Count: b.count}
	}
	return out, nil
}

func (e *Engine) AllStepsBlocksInfo(name string) (map[uint64][]subengine.BlockInfo, error) {
	bi, err := e.BlocksInfo(name, 0)
	if err != nil {
		return nil, err
	}
	return map[uint64][]subengine.BlockInfo{0: bi}, nil
}

func (e *Engine) AllRelativeStepsBlocksInfo(name string) ([][]subengine.BlockInfo, error) {
	bi, err := e.BlocksInfo(name, 0)
	if err != nil {
		return nil, err
	}
	return [][]subengine.BlockInfo{bi}, nil
}

func (e *Engine) ExprStr(name string) (string, error) {
	if _, err := e.lookup(name); err != nil {
		return "", err
	}
	return "", nil
}

func (e *Engine) Close() error { return nil }
