// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package version implements dotted numeric versions ("1.0.2.3") as used by
// the component update protocol.
package version

import (
	"strconv"
	"strings"

	"go.chromium.org/luci/common/errors"
)

// Version is a parsed dotted version. The zero value is invalid.
type Version struct {
	components []uint32
}

// Parse parses a dotted version string.
//
// Every component must be a non-negative decimal number that fits in uint32.
// The first component must not have leading zeros.
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, errors.Reason("empty version").Err()
	}
	parts := strings.Split(s, ".")
	comps := make([]uint32, 0, len(parts))
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return Version{}, errors.Reason("bad version component %q in %q", p, s).Err()
		}
		if i == 0 && len(p) > 1 && p[0] == '0' {
			return Version{}, errors.Reason("leading zero in %q", s).Err()
		}
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Version{}, errors.Annotate(err, "bad version component %q in %q", p, s).Err()
		}
		comps = append(comps, uint32(n))
	}
	return Version{components: comps}, nil
}

// MustParse is like Parse but panics on errors. Use it for constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsValid is true for successfully parsed versions.
func (v Version) IsValid() bool {
	return len(v.components) != 0
}

// Compare returns -1, 0 or 1 if v is less than, equal to or greater than o.
//
// Missing trailing components are treated as zeros, so "1.0" == "1.0.0".
func (v Version) Compare(o Version) int {
	n := len(v.components)
	if len(o.components) > n {
		n = len(o.components)
	}
	for i := 0; i < n; i++ {
		a, b := v.at(i), o.at(i)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
	}
	return 0
}

// String returns the dotted form, or "" for invalid versions.
func (v Version) String() string {
	parts := make([]string, len(v.components))
	for i, c := range v.components {
		parts[i] = strconv.FormatUint(uint64(c), 10)
	}
	return strings.Join(parts, ".")
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	p, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// IsNewer is true if proposed is a valid version strictly greater than
// current.
func IsNewer(current Version, proposed string) bool {
	p, err := Parse(proposed)
	if err != nil {
		return false
	}
	return current.Compare(p) < 0
}

func (v Version) at(i int) uint32 {
	if i < len(v.components) {
		return v.components[i]
	}
	return 0
}
