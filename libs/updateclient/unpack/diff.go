// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package unpack

import (
	"context"
	"io/ioutil"

	"github.com/gabstv/go-bsdiff/pkg/bspatch"

	"go.chromium.org/luci/common/logging"
)

// Result codes of the diff algorithms. 0 is success.
const (
	DiffOK           = 0
	DiffReadError    = 1
	DiffPatchError   = 2
	DiffWriteError   = 3
	DiffNotSupported = 4
)

// DefaultDiffApplier applies bsdiff patches in process. Courgette isn't
// available.
type DefaultDiffApplier struct{}

// ApplyBsdiff implements DiffApplier.
func (DefaultDiffApplier) ApplyBsdiff(ctx context.Context, input, patch, output string) int {
	old, err := ioutil.ReadFile(input)
	if err != nil {
		logging.WithError(err).Warningf(ctx, "bsdiff: can't read %s", input)
		return DiffReadError
	}
	p, err := ioutil.ReadFile(patch)
	if err != nil {
		logging.WithError(err).Warningf(ctx, "bsdiff: can't read %s", patch)
		return DiffReadError
	}
	patched, err := bspatch.Bytes(old, p)
	if err != nil {
		logging.WithError(err).Warningf(ctx, "bsdiff: patch %s doesn't apply", patch)
		return DiffPatchError
	}
	if err := ioutil.WriteFile(output, patched, 0644); err != nil {
		logging.WithError(err).Warningf(ctx, "bsdiff: can't write %s", output)
		return DiffWriteError
	}
	return DiffOK
}

// ApplyCourgette implements DiffApplier.
func (DefaultDiffApplier) ApplyCourgette(ctx context.Context, input, patch, output string) int {
	logging.Warningf(ctx, "courgette patches are not supported")
	return DiffNotSupported
}
