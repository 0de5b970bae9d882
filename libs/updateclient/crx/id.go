// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crx

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.chromium.org/luci/common/errors"
)

// IDLength is the length of a component id in bytes of hash it encodes.
const IDLength = 16

// IDFromPublicKey derives a component id from a DER encoded public key.
func IDFromPublicKey(der []byte) string {
	h := sha256.Sum256(der)
	return hexToID(hex.EncodeToString(h[:IDLength]))
}

// IDFromHash derives a component id from a SHA256 of its public key.
//
// Only the first IDLength bytes are used. Panics if the hash is shorter than
// that, since such hash can't identify a component.
func IDFromHash(pkHash []byte) string {
	if len(pkHash) < IDLength {
		panic("public key hash is too short")
	}
	return hexToID(hex.EncodeToString(pkHash[:IDLength]))
}

// HashPrefixFromID is the inverse of IDFromHash.
func HashPrefixFromID(id string) ([]byte, error) {
	if len(id) != 2*IDLength {
		return nil, errors.Reason("component id %q has wrong length", id).Err()
	}
	hexed := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c < 'a' || c > 'p' {
			return nil, errors.Reason("bad character %q in component id %q", c, id).Err()
		}
		hexed[i] = "0123456789abcdef"[c-'a']
	}
	return hex.DecodeString(string(hexed))
}

// IsValidID is true for 32 character strings over [a-p].
func IsValidID(id string) bool {
	_, err := HashPrefixFromID(id)
	return err == nil
}

func hexToID(hexed string) string {
	hexed = strings.ToLower(hexed)
	out := make([]byte, len(hexed))
	for i := 0; i < len(hexed); i++ {
		c := hexed[i]
		if c >= '0' && c <= '9' {
			out[i] = 'a' + (c - '0')
		} else {
			out[i] = 'a' + 10 + (c - 'a')
		}
	}
	return string(out)
}
