// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/errors"

	"infra/libs/updateclient/checker"
	"infra/libs/updateclient/config"
	"infra/libs/updateclient/crx"
	"infra/libs/updateclient/prefs"
	"infra/libs/updateclient/sender"
	"infra/libs/updateclient/version"
)

var cmdCheck = &subcommands.Command{
	UsageLine: "check [-config <path>] [-version <ver>] <component-id>",
	ShortDesc: "asks the update server about a component",
	LongDesc: `Sends one update check and prints the server's answer.

The request is built from -config (YAML or TOML), the built-in defaults are
used without it. Nothing is downloaded.
`,

	CommandRun: func() subcommands.CommandRun {
		c := &cmdCheckRun{}
		c.init()
		return c
	},
}

type cmdCheckRun struct {
	commandBase

	id          string
	configPath  string
	version     string
	fingerprint string
	brand       string
	onDemand    bool

	httpClient *http.Client
}

func (c *cmdCheckRun) init() {
	c.commandBase.init(c.exec, []*string{&c.id})
	c.Flags.StringVar(&c.configPath, "config", "", "Path to the updater config.")
	c.Flags.StringVar(&c.version, "version", "0.0.0.0", "Version of the component to report.")
	c.Flags.StringVar(&c.fingerprint, "fp", "", "Fingerprint of the installed package.")
	c.Flags.StringVar(&c.brand, "brand", "", "Brand code to report.")
	c.Flags.BoolVar(&c.onDemand, "on-demand", false, "Mark the check as user initiated.")
	c.httpClient = http.DefaultClient
}

func (c *cmdCheckRun) exec(ctx context.Context) error {
	if !crx.IsValidID(c.id) {
		return errors.Reason("%q is not a component id", c.id).Tag(isCLIError).Err()
	}
	ver, err := version.Parse(c.version)
	if err != nil {
		return errBadFlag("-version", err.Error())
	}

	cfg := config.Default()
	if c.configPath != "" {
		if cfg, err = config.Load(c.configPath); err != nil {
			return errors.Annotate(err, "bad config").Err()
		}
	}

	chk := &checker.Checker{
		Sender: &sender.Sender{
			Fetcher: &sender.HTTPFetcher{Client: c.httpClient},
			CUP:     cfg.CUP(),
		},
		Params:     cfg.RequestParams(),
		URLs:       cfg.UpdateURLs(),
		UseSigning: cfg.CUP() != nil,
		Persisted:  prefs.NewPersistedData(cfg.PrefStore()),
	}
	res, retryAfter, err := chk.CheckForUpdates(ctx, []checker.Item{{
		ID:          c.id,
		Version:     ver,
		Fingerprint: c.fingerprint,
		Brand:       c.brand,
		OnDemand:    c.onDemand,
	}}, cfg.ExtraRequestParams(), cfg.EnabledComponentUpdates())
	if err != nil {
		return errors.Annotate(err, "code %d", sender.Code(err)).Err()
	}
	if retryAfter > 0 {
		c.printf("retry after %d s", retryAfter)
	}

	for _, r := range res.List {
		if r.ExtensionID != c.id {
			continue
		}
		c.printf("status:  %s", r.Status)
		if r.Manifest.Version == "" {
			return nil
		}
		c.printf("version: %s", r.Manifest.Version)
		for _, u := range r.CrxURLs {
			c.printf("url:     %s", u)
		}
		for _, u := range r.CrxDiffURLs {
			c.printf("diff:    %s", u)
		}
		for _, p := range r.Manifest.Packages {
			c.printf("package: %s (%s) sha256=%s", p.Name, humanize.Bytes(uint64(p.Size)), p.HashSHA256)
			if p.NameDiff != "" {
				c.printf("delta:   %s (%s) sha256=%s", p.NameDiff, humanize.Bytes(uint64(p.SizeDiff)), p.HashDiffSHA256)
			}
		}
		return nil
	}
	c.printf("status:  not served")
	return nil
}
