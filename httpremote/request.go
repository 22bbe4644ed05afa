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
	"fmt"
	"strconv"
	"strings"
)

// Request describes one read against a remote host's /ssi endpoint: a
// block of one variable, at one step range, within optional accuracy
// bounds.
type Request struct {
	Filename         string
	RowMajor         bool // wire field RMOrder: "1" row-major, "0" column-major
	Varname          string
	StepStart        uint64
	StepCount        uint64
	Block            int
	Dims             int
	Count            []uint64
	Start            []uint64
	AccuracyError    float64
	AccuracyNorm     string
	AccuracyRelative bool

	// Destination receives the decoded response payload. The pool
	// writes to it only after the HTTP response body has been fully
	// read, and before the request's Handle is resolved.
	Destination []byte
}

// safeByte reports whether b may appear unescaped in the form-urlencoded
// body, per the remote /ssi endpoint's own escaping rules: letters,
// digits, and -_.~/ pass through; everything else is percent-encoded.
// This differs from net/url's Values.Encode, which escapes '/' and would
// otherwise mangle Filename and Varname values that carry path
// separators.
func safeByte(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= 'a' && b <= 'z', b >= '0' && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~' || b == '/':
		return true
	}
	return false
}

// percentEncode escapes s for the /ssi endpoint's form body, leaving
// safeByte characters untouched.
func percentEncode(s string) string {
	var needsEscape bool
	for i := 0; i < len(s); i++ {
		if !safeByte(s[i]) {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if safeByte(c) {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// encode builds the form-encoded POST body for the request, matching the
// wire field names of the remote /ssi endpoint. Field order is fixed so
// the body is deterministic across calls.
func (r *Request) encode() string {
	var parts []string
	set := func(key, val string) {
		parts = append(parts, key+"="+percentEncode(val))
	}
	set("Filename", r.Filename)
	set("RMOrder", boolField(r.RowMajor))
	set("Varname", r.Varname)
	set("StepStart", strconv.FormatUint(r.StepStart, 10))
	set("StepCount", strconv.FormatUint(r.StepCount, 10))
	set("Block", strconv.Itoa(r.Block))
	set("Dims", strconv.Itoa(r.Dims))
	for i, c := range r.Count {
		set(fmt.Sprintf("Count%d", i), strconv.FormatUint(c, 10))
	}
	for i, s := range r.Start {
		set(fmt.Sprintf("Start%d", i), strconv.FormatUint(s, 10))
	}
	if r.AccuracyError != 0 {
		set("AccuracyError", strconv.FormatFloat(r.AccuracyError, 'g', -1, 64))
		set("AccuracyNorm", r.AccuracyNorm)
		set("AccuracyRelative", boolField(r.AccuracyRelative))
	}
	return strings.Join(parts, "&")
}
