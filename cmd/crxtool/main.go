// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Binary crxtool creates and inspects CRX packages and talks to component
// update servers.
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging/gologger"
)

func getApplication() *cli.Application {
	return &cli.Application{
		Name:  "crxtool",
		Title: "Tool to build, verify and check component update packages",
		Context: func(ctx context.Context) context.Context {
			goLoggerCfg := gologger.LoggerConfig{Out: os.Stderr}
			goLoggerCfg.Format = "[%{level:.1s} %{time:2006-01-02 15:04:05}] %{message}"
			return goLoggerCfg.Use(ctx)
		},
		Commands: []*subcommands.Command{
			subcommands.CmdHelp,

			cmdGenKey,
			cmdID,
			cmdPack,
			cmdVerify,
			cmdCheck,
		},
	}
}

func main() {
	os.Exit(subcommands.Run(getApplication(), nil))
}
