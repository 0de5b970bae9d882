// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package unpack

import "context"

//go:generate mockgen -source interfaces.go -destination mock_unpack/mock_unpack.go

// InstalledFiles locates files of the currently installed version of a
// component.
type InstalledFiles interface {
	// GetInstalledFile returns the absolute path of a file of the installed
	// version, given its path relative to the install dir.
	GetInstalledFile(file string) (string, bool)
}

// DiffApplier applies binary patches.
//
// Both methods read input and patch and write output, returning DiffOK or an
// algorithm-specific failure code.
type DiffApplier interface {
	ApplyBsdiff(ctx context.Context, input, patch, output string) int
	ApplyCourgette(ctx context.Context, input, patch, output string) int
}
