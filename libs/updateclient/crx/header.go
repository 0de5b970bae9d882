// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crx

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// FullMagic starts every full package.
	FullMagic = "Cr24"
	// DiffMagic starts every differential package.
	DiffMagic = "CrOD"

	// CurrentVersion is the format version of full packages.
	CurrentVersion = 2
	// CurrentDiffVersion is the format version of differential packages.
	CurrentDiffVersion = 0

	// MaxPublicKeySize is the largest accepted key_size.
	MaxPublicKeySize = 1 << 16
	// MaxSignatureSize is the largest accepted signature_size.
	MaxSignatureSize = 1 << 16

	// HeaderSize is the size of the fixed part of the file.
	HeaderSize = 16
)

// ValidateError enumerates the ways a package can fail validation.
type ValidateError int

// Validation results. Each is distinct so that callers can tell transient
// failures (unreadable file) from hard ones (signature mismatch).
const (
	ErrNone ValidateError = iota
	ErrFileNotReadable
	ErrHeaderInvalid
	ErrMagicNumberInvalid
	ErrVersionNumberInvalid
	ErrKeyTooLarge
	ErrKeyTooSmall
	ErrSignatureTooLarge
	ErrSignatureTooSmall
	ErrPublicKeyInvalid
	ErrSignatureInitFailed
	ErrSignatureVerificationFailed
	ErrExpectedHashInvalid
	ErrFileHashFailed
)

var validateErrorNames = map[ValidateError]string{
	ErrNone:                        "none",
	ErrFileNotReadable:             "file not readable",
	ErrHeaderInvalid:               "header invalid",
	ErrMagicNumberInvalid:          "magic number invalid",
	ErrVersionNumberInvalid:        "version number invalid",
	ErrKeyTooLarge:                 "public key too large",
	ErrKeyTooSmall:                 "public key too small",
	ErrSignatureTooLarge:           "signature too large",
	ErrSignatureTooSmall:           "signature too small",
	ErrPublicKeyInvalid:            "public key invalid",
	ErrSignatureInitFailed:         "signature verification initialization failed",
	ErrSignatureVerificationFailed: "signature verification failed",
	ErrExpectedHashInvalid:         "expected hash invalid",
	ErrFileHashFailed:              "file hash mismatch",
}

func (e ValidateError) String() string {
	if s, ok := validateErrorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("ValidateError(%d)", int(e))
}

// Header is the fixed size part of a CRX file.
type Header struct {
	Magic         [4]byte
	Version       uint32
	KeySize       uint32
	SignatureSize uint32
}

// IsDelta is true for differential packages.
func (h *Header) IsDelta() bool {
	return string(h.Magic[:]) == DiffMagic
}

// HeaderIsValid checks magic, version and sizes of the header.
func HeaderIsValid(h Header) (bool, ValidateError) {
	isDiff := h.IsDelta()
	switch {
	case string(h.Magic[:]) != FullMagic && !isDiff:
		return false, ErrMagicNumberInvalid
	case h.Version != CurrentVersion && !(isDiff && h.Version == CurrentDiffVersion):
		return false, ErrVersionNumberInvalid
	case h.KeySize > MaxPublicKeySize:
		return false, ErrKeyTooLarge
	case h.KeySize == 0:
		return false, ErrKeyTooSmall
	case h.SignatureSize > MaxSignatureSize:
		return false, ErrSignatureTooLarge
	case h.SignatureSize == 0:
		return false, ErrSignatureTooSmall
	}
	return true, ErrNone
}

// ReadHeader reads the fixed part of the file.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	err := binary.Read(r, binary.LittleEndian, &h)
	return h, err
}

// WriteHeader writes the fixed part of the file.
func WriteHeader(w io.Writer, h Header) error {
	return binary.Write(w, binary.LittleEndian, &h)
}
