// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package checker builds update check requests and interprets the answers.
package checker

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"sync/atomic"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/libs/updateclient/prefs"
	"infra/libs/updateclient/protocol"
	"infra/libs/updateclient/sender"
	"infra/libs/updateclient/version"
)

// ErrorParse is the code of unparsable update check responses.
const ErrorParse = -10003

// Item is one component to check.
type Item struct {
	ID                        string
	Version                   version.Version
	Fingerprint               string
	Brand                     string
	InstallerAttributes       map[string]string
	OnDemand                  bool
	RequiresNetworkEncryption bool
}

// Checker sends update checks.
//
// A Checker handles one check at a time, calling CheckForUpdates while
// another call is in flight panics.
type Checker struct {
	Sender     *sender.Sender
	Params     protocol.RequestParams
	URLs       []*url.URL
	UseSigning bool
	Persisted  *prefs.PersistedData

	busy int32
}

// CheckForUpdates asks the update server about the items.
//
// extraAttributes is a list of additional request attributes in XML
// attribute syntax, e.g. `testrequest="1" foo="bar"`.
//
// Returns the parsed results, the server retry-after in seconds (-1 if
// none) and an error with a code extractable by sender.Code.
func (c *Checker) CheckForUpdates(ctx context.Context, items []Item, extraAttributes string, updatesEnabled bool) (*protocol.Results, int, error) {
	if !atomic.CompareAndSwapInt32(&c.busy, 0, 1) {
		panic("CheckForUpdates called while another check is in flight")
	}
	defer atomic.StoreInt32(&c.busy, 0)

	body, err := c.buildRequest(items, extraAttributes, updatesEnabled)
	if err != nil {
		return nil, -1, errors.Annotate(err, "failed to build the update check request").Err()
	}

	urls := c.URLs
	if encryptionRequired(items) {
		urls = secureOnly(urls)
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	logging.Infof(ctx, "Checking for updates of %v", ids)

	resp, retryAfter, err := c.Sender.Send(ctx, c.UseSigning, body, urls)
	if err != nil {
		return nil, retryAfter, errors.Annotate(err, "update check failed").Err()
	}

	results, err := protocol.ParseResponse(resp)
	if err != nil {
		logging.WithError(err).Errorf(ctx, "Update response can't be parsed")
		return nil, retryAfter, errors.Annotate(&sender.Error{Code: ErrorParse}, "%s", err).Err()
	}
	for _, msg := range results.Errors {
		logging.Warningf(ctx, "Ignoring malformed app in update response: %s", msg)
	}
	if results.DaystartElapsedDays != protocol.NoDaystart {
		c.Persisted.SetDateLastRollCall(ctx, ids, results.DaystartElapsedDays)
	}
	return results, retryAfter, nil
}

func (c *Checker) buildRequest(items []Item, extraAttributes string, updatesEnabled bool) ([]byte, error) {
	params := c.Params
	if extraAttributes != "" {
		extra, err := parseAttributes(extraAttributes)
		if err != nil {
			return nil, err
		}
		merged := make(map[string]string, len(params.Extra)+len(extra))
		for k, v := range params.Extra {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		params.Extra = merged
	}

	apps := make([]protocol.App, 0, len(items))
	for _, it := range items {
		app := protocol.App{
			AppID:       it.ID,
			Version:     it.Version.String(),
			Attrs:       protocol.InstallerAttributes(it.InstallerAttributes),
			UpdateCheck: &protocol.UpdateCheck{UpdateDisabled: !updatesEnabled},
			Ping: &protocol.Ping{
				RD:            c.Persisted.DateLastRollCall(it.ID),
				PingFreshness: c.Persisted.PingFreshness(it.ID),
			},
		}
		if protocol.IsValidBrand(it.Brand) {
			app.Brand = it.Brand
		}
		if it.OnDemand {
			app.InstallSource = "ondemand"
		}
		if it.Fingerprint != "" {
			app.Packages = &protocol.Packages{Packages: []protocol.Package{{FP: it.Fingerprint}}}
		}
		apps = append(apps, app)
	}
	return protocol.BuildRequest(params, apps)
}

// parseAttributes parses `a="b" c="d"`.
func parseAttributes(s string) (map[string]string, error) {
	var holder struct {
		Attrs []xml.Attr `xml:",any,attr"`
	}
	if err := xml.Unmarshal([]byte(fmt.Sprintf("<x %s/>", s)), &holder); err != nil {
		return nil, errors.Annotate(err, "bad extra attributes %q", s).Err()
	}
	out := make(map[string]string, len(holder.Attrs))
	for _, a := range holder.Attrs {
		out[a.Name.Local] = a.Value
	}
	return out, nil
}

func encryptionRequired(items []Item) bool {
	for _, it := range items {
		if it.RequiresNetworkEncryption {
			return true
		}
	}
	return false
}

func secureOnly(urls []*url.URL) []*url.URL {
	var out []*url.URL
	for _, u := range urls {
		if u.Scheme == "https" {
			out = append(out, u)
		}
	}
	return out
}
