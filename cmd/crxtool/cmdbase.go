// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// execCb a signature of a function that executes a subcommand.
type execCb func(ctx context.Context) error

// commandBase defines flags common to all subcommands.
type commandBase struct {
	subcommands.CommandRunBase

	exec    execCb    // called to actually execute the command
	posArgs []*string // will be filled in by positional arguments
	out     io.Writer // where results are printed, stdout by default

	logConfig logging.Config // -log-* flags
}

// init register base flags. Must be called.
func (c *commandBase) init(exec execCb, posArgs []*string) {
	c.exec = exec
	c.posArgs = posArgs
	c.out = os.Stdout

	c.logConfig.Level = logging.Info // default logging level
	c.logConfig.AddFlags(&c.Flags)
}

// ModifyContext implements cli.ContextModificator.
//
// Used by cli.Application.
func (c *commandBase) ModifyContext(ctx context.Context) context.Context {
	return c.logConfig.Set(ctx)
}

// Run implements the subcommands.CommandRun interface.
func (c *commandBase) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if len(args) != len(c.posArgs) {
		return handleErr(ctx, errors.Reason(
			"expecting %d positional argument(s), got %d", len(c.posArgs), len(args)).Tag(isCLIError).Err())
	}
	for i, arg := range args {
		*c.posArgs[i] = arg
	}
	if err := c.exec(ctx); err != nil {
		return handleErr(ctx, err)
	}
	return 0
}

// printf writes a line of the command's output.
func (c *commandBase) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

// isCLIError is tagged into errors caused by bad CLI flags.
var isCLIError = errors.BoolTag{Key: errors.NewTagKey("bad CLI invocation")}

// errBadFlag produces an error related to malformed or absent CLI flag
func errBadFlag(flag, msg string) error {
	return errors.Reason("bad %q: %s", flag, msg).Tag(isCLIError).Err()
}

// handleErr prints the error and returns the process exit code.
func handleErr(ctx context.Context, err error) int {
	switch {
	case err == nil:
		return 0
	case isCLIError.In(err):
		executable, eErr := os.Executable()
		if eErr != nil {
			executable = "<unknown executable>"
		} else {
			executable = filepath.Base(executable)
		}
		fmt.Fprintf(os.Stderr, "%s: %s\n", executable, err)
		return 2
	default:
		errors.Log(ctx, err)
		return 1
	}
}
