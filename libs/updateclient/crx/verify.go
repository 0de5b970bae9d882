// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crx

import (
	"bufio"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// Validated describes a package that passed ValidateSignature.
type Validated struct {
	PublicKeyBase64 string // base64 of the DER encoded public key
	ID              string // component id derived from the public key
	Header          Header
}

// ValidateSignature checks the header and the signature of the package at
// path.
//
// If expectedHash is not empty, it must be a hex encoded SHA256 of the whole
// file (compared case-insensitively), otherwise ErrFileHashFailed is
// returned. The header is returned as soon as it has been read, even if the
// rest of the validation fails.
func ValidateSignature(path, expectedHash string) (Validated, ValidateError) {
	var res Validated

	var expected []byte
	if expectedHash != "" {
		var err error
		if expected, err = hex.DecodeString(expectedHash); err != nil || len(expected) != sha256.Size {
			return res, ErrExpectedHashInvalid
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return res, ErrFileNotReadable
	}
	defer f.Close()

	// Everything read from the file goes through fileHash, the payload part
	// additionally goes through the signature digest.
	fileHash := sha256.New()
	r := io.TeeReader(bufio.NewReader(f), fileHash)

	if res.Header, err = ReadHeader(r); err != nil {
		return res, ErrHeaderInvalid
	}
	if ok, verr := HeaderIsValid(res.Header); !ok {
		return res, verr
	}

	key := make([]byte, res.Header.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return res, ErrHeaderInvalid
	}
	sig := make([]byte, res.Header.SignatureSize)
	if _, err := io.ReadFull(r, sig); err != nil {
		return res, ErrHeaderInvalid
	}

	parsed, err := x509.ParsePKIXPublicKey(key)
	if err != nil {
		return res, ErrPublicKeyInvalid
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return res, ErrSignatureInitFailed
	}

	digest := sha1.New()
	if _, err := io.Copy(digest, r); err != nil {
		return res, ErrFileNotReadable
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA1, digest.Sum(nil), sig); err != nil {
		return res, ErrSignatureVerificationFailed
	}

	if expected != nil {
		got := hex.EncodeToString(fileHash.Sum(nil))
		if !strings.EqualFold(got, expectedHash) {
			return res, ErrFileHashFailed
		}
	}

	res.PublicKeyBase64 = base64.StdEncoding.EncodeToString(key)
	res.ID = IDFromPublicKey(key)
	return res, ErrNone
}
