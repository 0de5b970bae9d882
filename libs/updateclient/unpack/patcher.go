// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package unpack

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"go.chromium.org/luci/common/logging"
)

// Patcher rebuilds a component from a differential package and the installed
// version.
type Patcher struct {
	// InputDir is the unzipped differential package.
	InputDir string
	// OutputDir receives the rebuilt component.
	OutputDir string
	// Installed locates files of the installed version.
	Installed InstalledFiles
	// Applier applies bsdiff and courgette patches.
	Applier DiffApplier
}

// Start runs the command list of the package, one command at a time, stopping
// at the first failure.
//
// Returns the error and the extended error.
func (p *Patcher) Start(ctx context.Context) (Error, int) {
	blob, err := ioutil.ReadFile(filepath.Join(p.InputDir, CommandsFile))
	if err != nil {
		logging.WithError(err).Warningf(ctx, "Differential package has no command list")
		return ErrorDeltaBadCommands, 0
	}
	cmds, e := ParseCommands(blob)
	if e != ErrorNone {
		logging.Warningf(ctx, "Bad command list: %s", e)
		return e, 0
	}
	for i, cmd := range cmds {
		if e, ext := p.run(ctx, &cmd); e != ErrorNone {
			logging.Warningf(ctx, "Command #%d (%s %s) failed: %s (%d)", i, cmd.Op, cmd.Output, e, ext)
			return e, ext
		}
	}
	return ErrorNone, 0
}

func (p *Patcher) run(ctx context.Context, cmd *Command) (Error, int) {
	output := filepath.Join(p.OutputDir, filepath.FromSlash(cmd.Output))
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return ErrorIoError, 0
	}

	var e Error
	var ext int
	switch cmd.Op {
	case OpCopy:
		e = p.copy(cmd, output)
	case OpCreate:
		e = p.create(cmd, output)
	case OpBsdiff:
		e, ext = p.patch(ctx, cmd, output, BsdiffErrorOffset, p.applier().ApplyBsdiff)
	case OpCourgette:
		e, ext = p.patch(ctx, cmd, output, CourgetteErrorOffset, p.applier().ApplyCourgette)
	default:
		e = ErrorDeltaUnsupportedCommand
	}
	if e != ErrorNone {
		return e, ext
	}

	if !fileHashEquals(output, cmd.SHA256) {
		return ErrorDeltaVerificationFailure, 0
	}
	return ErrorNone, 0
}

func (p *Patcher) applier() DiffApplier {
	if p.Applier == nil {
		return DefaultDiffApplier{}
	}
	return p.Applier
}

func (p *Patcher) installed(rel string) (string, bool) {
	if p.Installed == nil {
		return "", false
	}
	return p.Installed.GetInstalledFile(rel)
}

func (p *Patcher) copy(cmd *Command, output string) Error {
	input, ok := p.installed(cmd.Input)
	if !ok {
		return ErrorDeltaMissingExistingFile
	}
	if err := copyFile(input, output); err != nil {
		return ErrorDeltaOperationFailure
	}
	return ErrorNone
}

func (p *Patcher) create(cmd *Command, output string) Error {
	patch := filepath.Join(p.InputDir, filepath.FromSlash(cmd.Patch))
	if err := os.Rename(patch, output); err != nil {
		return ErrorDeltaOperationFailure
	}
	return ErrorNone
}

type applyFunc func(ctx context.Context, input, patch, output string) int

func (p *Patcher) patch(ctx context.Context, cmd *Command, output string, offset int, apply applyFunc) (Error, int) {
	input, ok := p.installed(cmd.Input)
	if !ok {
		return ErrorDeltaMissingExistingFile, 0
	}
	patch := filepath.Join(p.InputDir, filepath.FromSlash(cmd.Patch))
	if _, err := os.Stat(patch); err != nil {
		return ErrorDeltaBadCommands, 0
	}
	if code := apply(ctx, input, patch, output); code != DiffOK {
		return ErrorDeltaOperationFailure, offset + code
	}
	return ErrorNone, 0
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileHashEquals(path string, expected []byte) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return bytes.Equal(h.Sum(nil), expected)
}
