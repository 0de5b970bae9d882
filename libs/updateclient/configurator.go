// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"net/url"
	"time"

	"infra/libs/updateclient/prefs"
	"infra/libs/updateclient/protocol"
	"infra/libs/updateclient/sender"
	"infra/libs/updateclient/version"
)

// Configurator supplies the update policy. It is read-only and may be called
// from any goroutine.
//
// config.Config is the file-backed implementation.
type Configurator interface {
	// InitialDelay is the delay before the first background check.
	InitialDelay() time.Duration
	// NextCheckDelay is the delay between background checks.
	NextCheckDelay() time.Duration
	// StepDelay separates the download and the install of a component.
	StepDelay() time.Duration
	// OnDemandDelay is the cooldown between on-demand checks of a component.
	OnDemandDelay() time.Duration
	// UpdateDelay separates installs of components of one update.
	UpdateDelay() time.Duration

	UpdateURLs() []*url.URL
	PingURLs() []*url.URL

	RequestParams() protocol.RequestParams
	BrowserVersion() version.Version
	ExtraRequestParams() string

	EnabledDeltas() bool
	EnabledBackgroundDownloader() bool
	EnabledComponentUpdates() bool

	// CUP signs update checks, nil to send them unsigned.
	CUP() *sender.CUP
	PrefStore() prefs.Store
}
