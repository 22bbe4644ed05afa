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

// Package campaignparams defines a flat, case-insensitive configuration
// map used for engine and transport parameters (verbose, hostname,
// campaignstorepath, cachepath, and similar), along with typed accessors
// that accumulate validation errors the way jsonconfig.Obj does for
// nested JSON config.
package campaignparams

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"campaignfs.dev/federated/ferrors"
)

// Params is a case-insensitive set of string-valued configuration keys.
type Params struct {
	m      map[string]string
	errs   []error
	sought map[string]bool
}

// New builds a Params from a plain map. Keys are lower-cased on entry so
// lookups are case-insensitive.
func New(raw map[string]string) *Params {
	p := &Params{
		m:      make(map[string]string, len(raw)),
		sought: make(map[string]bool, len(raw)),
	}
	for k, v := range raw {
		p.m[strings.ToLower(k)] = v
	}
	return p
}

func (p *Params) note(key string) { p.sought[strings.ToLower(key)] = true }

// String returns the value for key, or def if the key is absent.
func (p *Params) String(key, def string) string {
	p.note(key)
	if v, ok := p.m[strings.ToLower(key)]; ok {
		return v
	}
	return def
}

// RequiredString returns the value for key, recording a validation error
// if it is absent.
func (p *Params) RequiredString(key string) string {
	p.note(key)
	v, ok := p.m[strings.ToLower(key)]
	if !ok {
		p.errs = append(p.errs, fmt.Errorf("%w: missing required parameter %q", ferrors.InvalidConfig, key))
	}
	return v
}

// Int returns the integer value for key, or def if absent or unparsable.
// A parse failure is recorded as a validation error.
func (p *Params) Int(key string, def int) int {
	p.note(key)
	v, ok := p.m[strings.ToLower(key)]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%w: parameter %q is not an integer: %q", ferrors.InvalidConfig, key, v))
		return def
	}
	return n
}

// Bool returns the boolean value for key, accepting the same token set as
// strconv.ParseBool plus "on"/"off", or def if absent.
func (p *Params) Bool(key string, def bool) bool {
	p.note(key)
	v, ok := p.m[strings.ToLower(key)]
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "on":
		return true
	case "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%w: parameter %q is not a boolean: %q", ferrors.InvalidConfig, key, v))
		return def
	}
	return b
}

// Verbose returns the "verbose" parameter, validated to be within [0,5];
// out-of-range values are clamped and recorded as an error.
func (p *Params) Verbose() int {
	v := p.Int("verbose", 0)
	if v < 0 || v > 5 {
		p.errs = append(p.errs, fmt.Errorf("%w: verbose level %d out of range [0,5]", ferrors.InvalidConfig, v))
		if v < 0 {
			return 0
		}
		return 5
	}
	return v
}

// Has reports whether key is present, without marking it as sought (so it
// does not suppress an "unknown key" report from Validate).
func (p *Params) Has(key string) bool {
	_, ok := p.m[strings.ToLower(key)]
	return ok
}

// Validate returns every key present in the map but never looked up via
// one of the typed accessors, combined with any earlier parse errors.
func (p *Params) Validate() error {
	var unknown []string
	for k := range p.m {
		if !p.sought[k] {
			unknown = append(unknown, k)
		}
	}
	errs := append([]error{}, p.errs...)
	for _, k := range unknown {
		errs = append(errs, fmt.Errorf("%w: unknown parameter %q", ferrors.InvalidConfig, k))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
