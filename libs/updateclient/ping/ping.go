// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ping sends best-effort update and uninstall reports.
package ping

import (
	"context"
	"net/url"
	"sync"

	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"

	"infra/libs/updateclient/download"
	"infra/libs/updateclient/protocol"
	"infra/libs/updateclient/sender"
)

var pings = metric.NewCounter("chrome/infra/updateclient/pings",
	"Number of pings sent, by kind and whether the server accepted them.",
	nil,
	field.String("kind"),
	field.Bool("ok"))

// Update describes the outcome of an update attempt of one component.
type Update struct {
	ID              string
	PreviousVersion string
	NextVersion     string
	Outcome         protocol.UpdateOutcome
	Downloads       []download.Metrics
}

// Uninstall describes a component removal.
type Uninstall struct {
	ID      string
	Version string
	Reason  int
}

// Pinger fires pings. Sends never block the caller and their results are
// dropped.
type Pinger struct {
	Sender *sender.Sender
	Params protocol.RequestParams
	URLs   []*url.URL

	wg sync.WaitGroup
}

// SendUpdate reports an update outcome.
func (p *Pinger) SendUpdate(ctx context.Context, u Update) {
	events := []protocol.Event{protocol.UpdateEvent(u.Outcome)}
	for _, m := range u.Downloads {
		events = append(events, protocol.DownloadEvent(protocol.DownloadOutcome{
			Downloader:      m.Downloader,
			URL:             m.URL,
			ErrorCode:       m.Error,
			DownloadedBytes: m.DownloadedBytes,
			TotalBytes:      m.TotalBytes,
			DownloadTimeMS:  m.DownloadTimeMS,
		}))
	}
	p.fire(ctx, "update", protocol.PingApp{
		ID:          u.ID,
		Version:     u.PreviousVersion,
		NextVersion: u.NextVersion,
		Events:      events,
	})
}

// SendUninstall reports a component removal.
func (p *Pinger) SendUninstall(ctx context.Context, u Uninstall) {
	p.fire(ctx, "uninstall", protocol.PingApp{
		ID:          u.ID,
		Version:     u.Version,
		NextVersion: "0",
		Events:      []protocol.Event{protocol.UninstallEvent(u.Reason)},
	})
}

func (p *Pinger) fire(ctx context.Context, kind string, app protocol.PingApp) {
	body, err := protocol.BuildPing(p.Params, app)
	if err != nil {
		logging.WithError(err).Errorf(ctx, "Failed to build the %s ping of %s", kind, app.ID)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_, _, err := p.Sender.Send(ctx, false, body, p.URLs)
		if err != nil {
			logging.WithError(err).Debugf(ctx, "The %s ping of %s was not delivered", kind, app.ID)
		}
		pings.Add(ctx, 1, kind, err == nil)
	}()
}

// Wait blocks until pings in flight are done. Only tests and clean shutdowns
// need it.
func (p *Pinger) Wait() {
	p.wg.Wait()
}
