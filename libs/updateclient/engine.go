// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"context"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"

	"infra/libs/updateclient/checker"
	"infra/libs/updateclient/download"
	"infra/libs/updateclient/ping"
	"infra/libs/updateclient/prefs"
	"infra/libs/updateclient/protocol"
	"infra/libs/updateclient/sender"
	"infra/libs/updateclient/unpack"
)

// throttleLookBack bounds how far before the throttle deadline background
// updates are rejected. Clocks going back further don't lock updates out.
const throttleLookBack = 24 * time.Hour

// engine runs update contexts. All methods run on the main sequence.
type engine struct {
	config    Configurator
	seq       *sequence
	pool      *pool
	sender    *sender.Sender
	persisted *prefs.PersistedData
	pinger    *ping.Pinger

	newDownloader func(background bool) download.Downloader
	applier       unpack.DiffApplier
	tempDir       string

	// notify records a state change and tells observers.
	notify func(ev Event, it CrxUpdateItem)

	contexts      map[*updateContext]struct{}
	throttleUntil time.Time
}

// throttled tells if background updates are rejected at now.
func (e *engine) throttled(now time.Time) bool {
	if e.throttleUntil.IsZero() {
		return false
	}
	return !now.Before(e.throttleUntil.Add(-throttleLookBack)) && now.Before(e.throttleUntil)
}

// update runs the update of ids. cb is called on the main sequence when done.
func (e *engine) update(ctx context.Context, foreground bool, ids []string, dataFn CrxDataFunc, cb Callback) {
	now := clock.Now(ctx)
	if !foreground && e.throttled(now) {
		logging.Warningf(ctx, "Background updates are throttled until %s", e.throttleUntil)
		e.seq.post(func() { cb(ErrorRetryLater) })
		return
	}

	uc := &updateContext{
		ctx:        ctx,
		config:     e.config,
		foreground: foreground,
		ids:        ids,
		items:      make(map[string]*CrxUpdateItem, len(ids)),
		retryAfter: -1,
		callback:   cb,
		started:    now,
		checker: &checker.Checker{
			Sender:     e.sender,
			Params:     e.config.RequestParams(),
			URLs:       e.config.UpdateURLs(),
			UseSigning: e.config.CUP() != nil,
			Persisted:  e.persisted,
		},
	}

	comps := dataFn(ids)
	for i, id := range ids {
		if _, dup := uc.items[id]; dup {
			continue
		}
		it := &CrxUpdateItem{ID: id, State: StateNew, OnDemand: foreground}
		if i < len(comps) && comps[i] != nil {
			c := comps[i]
			it.Component = c
			it.PreviousVersion = c.Version.String()
			it.PreviousFP = c.Fingerprint
		}
		uc.items[id] = it
	}

	e.contexts[uc] = struct{}{}
	e.apply(uc, begin(uc))
}

// dispatch feeds an event to the context.
func (e *engine) dispatch(uc *updateContext, ev event) {
	if _, ok := e.contexts[uc]; !ok {
		return
	}
	switch ev := ev.(type) {
	case evCheckDone:
		updateChecks.Add(uc.ctx, 1, sender.Code(ev.err))
	case evInstallDone:
		kind := "full"
		if _, diff := uc.action.(actionUpdateDiff); diff {
			kind = "diff"
		}
		installs.Add(uc.ctx, 1, kind, int(ev.category))
	}
	e.apply(uc, step(uc, ev))
}

// apply executes effects in order.
func (e *engine) apply(uc *updateContext, effs []effect) {
	for _, eff := range effs {
		switch eff := eff.(type) {
		case effNotify:
			e.notify(eff.event, eff.item)
		case effCheck:
			e.check(uc)
		case effDownload:
			e.download(uc, eff)
		case effInstall:
			e.install(uc, eff)
		case effWait:
			e.seq.postDelayed(uc.ctx, eff.delay, func() { e.dispatch(uc, evWaitDone{}) })
		case effPing:
			e.ping(uc, eff.item)
		case effComplete:
			e.complete(uc, eff.err)
		}
	}
}

func (e *engine) check(uc *updateContext) {
	var items []checker.Item
	for _, it := range uc.orderedItems() {
		if it.State != StateChecking {
			continue
		}
		c := it.Component
		items = append(items, checker.Item{
			ID:                        it.ID,
			Version:                   c.Version,
			Fingerprint:               c.Fingerprint,
			Brand:                     c.Brand,
			InstallerAttributes:       c.InstallerAttributes,
			OnDemand:                  it.OnDemand,
			RequiresNetworkEncryption: c.RequiresNetworkEncryption,
		})
	}
	extra := e.config.ExtraRequestParams()
	enabled := e.config.EnabledComponentUpdates()
	e.pool.run(func() {
		res, retryAfter, err := uc.checker.CheckForUpdates(uc.ctx, items, extra, enabled)
		if err != nil {
			logging.WithError(err).Warningf(uc.ctx, "Update check failed")
		}
		now := clock.Now(uc.ctx)
		e.seq.post(func() {
			e.dispatch(uc, evCheckDone{now: now, results: res, retryAfter: retryAfter, err: err})
		})
	})
}

func (e *engine) download(uc *updateContext, eff effDownload) {
	d := e.newDownloader(eff.background)
	ctx := logging.SetField(uc.ctx, "component", eff.id)
	e.pool.run(func() {
		res, metrics := d.Download(ctx, eff.urls, eff.hash, nil)
		e.seq.post(func() {
			e.dispatch(uc, evDownloadDone{id: eff.id, result: res, metrics: metrics})
		})
	})
}

func (e *engine) install(uc *updateContext, eff effInstall) {
	it := uc.item(eff.id)
	job := &installJob{
		id:        eff.id,
		pkHash:    append([]byte(nil), it.Component.PKHash...),
		crxPath:   eff.crxPath,
		nextFP:    it.NextFP,
		installer: it.Component.Installer,
		applier:   e.applier,
		tempDir:   e.tempDir,
	}
	e.seq.postDelayed(uc.ctx, e.config.StepDelay(), func() {
		e.pool.run(func() {
			cat, code, extra := job.run(uc.ctx)
			if cat == ErrorCategoryInstall {
				job.installer.OnUpdateError(uc.ctx, code)
			}
			e.seq.post(func() {
				e.dispatch(uc, evInstallDone{id: eff.id, category: cat, code: code, extra: extra})
			})
		})
	})
}

func (e *engine) ping(uc *updateContext, it CrxUpdateItem) {
	e.pinger.SendUpdate(uc.ctx, ping.Update{
		ID:              it.ID,
		PreviousVersion: it.PreviousVersion,
		NextVersion:     it.NextVersion,
		Downloads:       it.DownloadMetrics,
		Outcome:         outcome(&it),
	})
}

func (e *engine) complete(uc *updateContext, err Error) {
	delete(e.contexts, uc)

	now := clock.Now(uc.ctx)
	switch {
	case uc.retryAfter > 0:
		e.throttleUntil = now.Add(time.Duration(uc.retryAfter) * time.Second)
		logging.Infof(uc.ctx, "The server asks to retry after %ds", uc.retryAfter)
	case uc.retryAfter == 0:
		e.throttleUntil = time.Time{}
	}

	updates.Add(uc.ctx, 1, uc.foreground, int(err))
	updateDuration.Add(uc.ctx, now.Sub(uc.started).Seconds(), uc.foreground)
	logging.Infof(uc.ctx, "Update of %v is done: %s", uc.ids, err)
	uc.callback(err)
}

// outcome is what the update ping reports about it.
func outcome(it *CrxUpdateItem) protocol.UpdateOutcome {
	return protocol.UpdateOutcome{
		Success:        it.State == StateUpdated,
		ErrorCategory:  int(it.ErrorCategory),
		ErrorCode:      it.ErrorCode,
		ExtraCode1:     it.ExtraCode1,
		DiffAttempted:  len(it.CrxDiffURLs) != 0,
		DiffSucceeded:  !it.DiffUpdateFailed,
		DiffErrorCat:   int(it.DiffErrorCategory),
		DiffErrorCode:  it.DiffErrorCode,
		DiffExtraCode1: it.DiffExtraCode1,
		PreviousFP:     it.PreviousFP,
		NextFP:         it.NextFP,
	}
}
