// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/libs/updateclient/crx"
)

var cmdPack = &subcommands.Command{
	UsageLine: "pack -key <key-path> -out <crx-path> <input-dir>",
	ShortDesc: "packs a directory into a signed CRX",
	LongDesc: `Packs a directory into a signed CRX.

The directory must contain manifest.json at its root. With -delta the package
is a differential one, its files are patching commands rather than contents.
`,

	CommandRun: func() subcommands.CommandRun {
		c := &cmdPackRun{}
		c.init()
		return c
	},
}

type cmdPackRun struct {
	commandBase

	inputDir string
	keyPath  string
	outPath  string
	delta    bool
}

func (c *cmdPackRun) init() {
	c.commandBase.init(c.exec, []*string{&c.inputDir})
	c.Flags.StringVar(&c.keyPath, "key", "", "Path to the PEM signing key (required).")
	c.Flags.StringVar(&c.outPath, "out", "", "Where to write the package (required).")
	c.Flags.BoolVar(&c.delta, "delta", false, "Produce a differential package.")
}

func (c *cmdPackRun) exec(ctx context.Context) error {
	switch {
	case c.keyPath == "":
		return errBadFlag("-key", "this flag is required")
	case c.outPath == "":
		return errBadFlag("-out", "this flag is required")
	}

	key, err := readKey(c.keyPath)
	if err != nil {
		return err
	}
	files, err := crx.ScanFileSystem(c.inputDir)
	if err != nil {
		return errors.Annotate(err, "failed to scan %s", c.inputDir).Err()
	}
	var total uint64
	hasManifest := false
	for _, f := range files {
		total += f.Size()
		if f.Name() == "manifest.json" {
			hasManifest = true
		}
	}
	if !hasManifest && !c.delta {
		return errors.Reason("%s has no manifest.json", c.inputDir).Err()
	}

	logging.Infof(ctx, "Packing %d files (%s)", len(files), humanize.Bytes(total))
	out, err := os.Create(c.outPath)
	if err != nil {
		return errors.Annotate(err, "failed to open the output").Err()
	}
	err = crx.Build(crx.BuildOptions{
		Input:      files,
		Output:     out,
		PrivateKey: key,
		Delta:      c.delta,
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(c.outPath)
		return errors.Annotate(err, "failed to build the package").Err()
	}

	id, _, err := keyID(&key.PublicKey)
	if err != nil {
		return err
	}
	c.printf("%s", id)
	return nil
}
