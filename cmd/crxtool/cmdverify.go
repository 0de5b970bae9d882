// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/errors"

	"infra/libs/updateclient/crx"
)

var cmdVerify = &subcommands.Command{
	UsageLine: "verify [-sha256 <hex>] <crx-path>",
	ShortDesc: "checks the signature of a CRX",
	LongDesc: `Checks the header and the signature of a CRX and prints what it
contains.

With -sha256 the hash of the whole file must match too.
`,

	CommandRun: func() subcommands.CommandRun {
		c := &cmdVerifyRun{}
		c.init()
		return c
	},
}

type cmdVerifyRun struct {
	commandBase

	crxPath string
	hash    string
}

func (c *cmdVerifyRun) init() {
	c.commandBase.init(c.exec, []*string{&c.crxPath})
	c.Flags.StringVar(&c.hash, "sha256", "", "Expected hex SHA256 of the file.")
}

func (c *cmdVerifyRun) exec(ctx context.Context) error {
	v, verr := crx.ValidateSignature(c.crxPath, c.hash)
	switch verr {
	case crx.ErrNone:
	case crx.ErrExpectedHashInvalid:
		return errBadFlag("-sha256", verr.String())
	default:
		return errors.Reason("%s is not valid: %s", c.crxPath, verr).Err()
	}

	size, sum, err := hashFile(c.crxPath)
	if err != nil {
		return err
	}
	kind := "full"
	if v.Header.IsDelta() {
		kind = "differential"
	}
	c.printf("id:     %s", v.ID)
	c.printf("kind:   %s", kind)
	c.printf("size:   %s", humanize.Bytes(uint64(size)))
	c.printf("sha256: %s", sum)
	return nil
}

func hashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", errors.Annotate(err, "failed to open %s", path).Err()
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", errors.Annotate(err, "failed to read %s", path).Err()
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
