// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"io/ioutil"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/libs/updateclient/crx"
)

var cmdGenKey = &subcommands.Command{
	UsageLine: "genkey <key-path>",
	ShortDesc: "generates a package signing key",
	LongDesc: `Generates an RSA private key suitable for signing packages.

The key is written as a PEM file. Existing files are never overwritten.
`,

	CommandRun: func() subcommands.CommandRun {
		c := &cmdGenKeyRun{}
		c.init()
		return c
	},
}

type cmdGenKeyRun struct {
	commandBase

	keyPath string
	bits    int
}

func (c *cmdGenKeyRun) init() {
	c.commandBase.init(c.exec, []*string{&c.keyPath})
	c.Flags.IntVar(&c.bits, "bits", 2048, "Size of the key in bits.")
}

func (c *cmdGenKeyRun) exec(ctx context.Context) error {
	if c.bits < 1024 {
		return errBadFlag("-bits", "must be at least 1024")
	}
	if _, err := os.Stat(c.keyPath); err == nil {
		return errors.Reason("%s already exists", c.keyPath).Err()
	}
	key, err := rsa.GenerateKey(rand.Reader, c.bits)
	if err != nil {
		return errors.Annotate(err, "failed to generate the key").Err()
	}
	if err := ioutil.WriteFile(c.keyPath, crx.PrivateKeyToPEM(key), 0600); err != nil {
		return errors.Annotate(err, "failed to write the key").Err()
	}
	id, _, err := keyID(&key.PublicKey)
	if err != nil {
		return err
	}
	logging.Infof(ctx, "Wrote a %d bit key to %s", c.bits, c.keyPath)
	c.printf("%s", id)
	return nil
}

var cmdID = &subcommands.Command{
	UsageLine: "id <key-path>",
	ShortDesc: "prints the component id of a signing key",
	LongDesc:  "Prints the component id and the public key hash of a PEM private key.",

	CommandRun: func() subcommands.CommandRun {
		c := &cmdIDRun{}
		c.init()
		return c
	},
}

type cmdIDRun struct {
	commandBase

	keyPath string
}

func (c *cmdIDRun) init() {
	c.commandBase.init(c.exec, []*string{&c.keyPath})
}

func (c *cmdIDRun) exec(ctx context.Context) error {
	key, err := readKey(c.keyPath)
	if err != nil {
		return err
	}
	id, hash, err := keyID(&key.PublicKey)
	if err != nil {
		return err
	}
	c.printf("id:     %s", id)
	c.printf("pkhash: %s", hex.EncodeToString(hash))
	return nil
}

// readKey loads a PEM private key.
func readKey(path string) (*rsa.PrivateKey, error) {
	blob, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read the key").Err()
	}
	key, err := crx.PrivateKeyFromPEM(blob)
	if err != nil {
		return nil, errors.Annotate(err, "bad key file %s", path).Err()
	}
	return key, nil
}

// keyID returns the component id and the public key hash of k.
func keyID(k *rsa.PublicKey) (string, []byte, error) {
	hash, err := crx.PublicKeyHash(k)
	if err != nil {
		return "", nil, errors.Annotate(err, "failed to hash the public key").Err()
	}
	return crx.IDFromHash(hash), hash, nil
}
