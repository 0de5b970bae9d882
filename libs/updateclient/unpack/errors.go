// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package unpack

import "fmt"

// Error is an unpack or patch error code. The values are reported in pings,
// don't renumber.
type Error int

// Error codes.
const (
	ErrorNone                     Error = 0
	ErrorInvalidParams            Error = 1
	ErrorInvalidFile              Error = 2
	ErrorUnzipPathError           Error = 3
	ErrorUnzipFailed              Error = 4
	ErrorNoManifest               Error = 5
	ErrorBadManifest              Error = 6
	ErrorBadExtension             Error = 7
	ErrorInvalidID                Error = 8
	ErrorInstallerError           Error = 9
	ErrorIoError                  Error = 10
	ErrorDeltaVerificationFailure Error = 11
	ErrorDeltaBadCommands         Error = 12
	ErrorDeltaUnsupportedCommand  Error = 13
	ErrorDeltaOperationFailure    Error = 14
	ErrorDeltaPatchProcessFailure Error = 15
	ErrorDeltaMissingExistingFile Error = 16
	ErrorFingerprintWriteFailed   Error = 17
)

var errorNames = map[Error]string{
	ErrorNone:                     "none",
	ErrorInvalidParams:            "invalid params",
	ErrorInvalidFile:              "invalid file",
	ErrorUnzipPathError:           "unzip path error",
	ErrorUnzipFailed:              "unzip failed",
	ErrorNoManifest:               "no manifest",
	ErrorBadManifest:              "bad manifest",
	ErrorBadExtension:             "bad extension",
	ErrorInvalidID:                "invalid id",
	ErrorInstallerError:           "installer error",
	ErrorIoError:                  "io error",
	ErrorDeltaVerificationFailure: "delta verification failure",
	ErrorDeltaBadCommands:         "delta bad commands",
	ErrorDeltaUnsupportedCommand:  "delta unsupported command",
	ErrorDeltaOperationFailure:    "delta operation failure",
	ErrorDeltaPatchProcessFailure: "delta patch process failure",
	ErrorDeltaMissingExistingFile: "delta missing existing file",
	ErrorFingerprintWriteFailed:   "fingerprint write failed",
}

func (e Error) String() string {
	if s, ok := errorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("unpack error %d", int(e))
}

// Extended error offsets of the diff algorithms.
const (
	CourgetteErrorOffset = 300
	BsdiffErrorOffset    = 600
)
