// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package unpack

import (
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"strings"
)

// CommandsFile is the name of the command list inside a differential package.
const CommandsFile = "commands.json"

// Op is a delta operation kind.
type Op string

// Known delta operations.
const (
	OpCopy      Op = "copy"
	OpCreate    Op = "create"
	OpBsdiff    Op = "bsdiff"
	OpCourgette Op = "courgette"
)

// Command is one parsed entry of the command list.
//
// Exactly one of the kinds is described: Input is set for copy, bsdiff and
// courgette; Patch is set for create, bsdiff and courgette.
type Command struct {
	Op     Op
	Output string // relative to the output dir
	SHA256 []byte
	Input  string // installed file, relative to the install dir
	Patch  string // relative to the unpacked differential package
}

type rawCommand struct {
	Op     *string `json:"op"`
	Output *string `json:"output"`
	SHA256 *string `json:"sha256"`
	Input  *string `json:"input"`
	Patch  *string `json:"patch"`
}

// ParseCommands parses a command list.
//
// Returns ErrorDeltaBadCommands for anything that is not a list of well
// formed commands and ErrorDeltaUnsupportedCommand for unknown operations.
func ParseCommands(blob []byte) ([]Command, Error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, ErrorDeltaBadCommands
	}
	out := make([]Command, 0, len(raw))
	for _, r := range raw {
		cmd, e := parseCommand(r)
		if e != ErrorNone {
			return nil, e
		}
		out = append(out, cmd)
	}
	return out, ErrorNone
}

func parseCommand(blob json.RawMessage) (Command, Error) {
	var raw rawCommand
	if err := json.Unmarshal(blob, &raw); err != nil || raw.Op == nil {
		return Command{}, ErrorDeltaBadCommands
	}

	cmd := Command{Op: Op(*raw.Op)}
	var needInput, needPatch bool
	switch cmd.Op {
	case OpCopy:
		needInput = true
	case OpCreate:
		needPatch = true
	case OpBsdiff, OpCourgette:
		needInput, needPatch = true, true
	default:
		return Command{}, ErrorDeltaUnsupportedCommand
	}

	if raw.Output == nil || !isSafeRelPath(*raw.Output) || raw.SHA256 == nil {
		return Command{}, ErrorDeltaBadCommands
	}
	cmd.Output = *raw.Output
	sum, err := hex.DecodeString(*raw.SHA256)
	if err != nil || len(sum) != 32 {
		return Command{}, ErrorDeltaBadCommands
	}
	cmd.SHA256 = sum

	if needInput {
		if raw.Input == nil || !isSafeRelPath(*raw.Input) {
			return Command{}, ErrorDeltaBadCommands
		}
		cmd.Input = *raw.Input
	}
	if needPatch {
		if raw.Patch == nil || !isSafeRelPath(*raw.Patch) {
			return Command{}, ErrorDeltaBadCommands
		}
		cmd.Patch = *raw.Patch
	}
	return cmd, ErrorNone
}

// isSafeRelPath is true for non-empty relative paths that stay inside their
// root.
func isSafeRelPath(p string) bool {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}
	for _, chunk := range strings.Split(filepath.ToSlash(p), "/") {
		if chunk == ".." {
			return false
		}
	}
	return true
}
