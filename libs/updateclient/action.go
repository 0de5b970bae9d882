// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"net/url"
	"time"

	"infra/libs/updateclient/download"
	"infra/libs/updateclient/protocol"
	"infra/libs/updateclient/sender"
	"infra/libs/updateclient/version"
)

// The update of a context is a state machine over actions. Actions never do
// I/O: they mutate the context and return effects, which the engine executes
// and answers with events.

type event interface{ isEvent() }

type evCheckDone struct {
	now        time.Time
	results    *protocol.Results
	retryAfter int
	err        error
}

type evDownloadDone struct {
	id      string
	result  download.Result
	metrics []download.Metrics
}

type evInstallDone struct {
	id       string
	category ErrorCategory
	code     int
	extra    int
}

type evWaitDone struct{}

func (evCheckDone) isEvent()    {}
func (evDownloadDone) isEvent() {}
func (evInstallDone) isEvent()  {}
func (evWaitDone) isEvent()     {}

type effect interface{ isEffect() }

// effNotify tells observers about a state change of item.
type effNotify struct {
	event Event
	item  CrxUpdateItem
}

// effCheck runs the update check of the items at StateChecking.
type effCheck struct{}

// effDownload fetches a package.
type effDownload struct {
	id         string
	urls       []*url.URL
	hash       string
	background bool
}

// effInstall unpacks and installs a downloaded package after StepDelay.
type effInstall struct {
	id      string
	crxPath string
}

// effWait is answered with evWaitDone after delay.
type effWait struct {
	delay time.Duration
}

// effPing reports the outcome of an item.
type effPing struct {
	item CrxUpdateItem
}

// effComplete ends the context.
type effComplete struct {
	err Error
}

func (effNotify) isEffect()   {}
func (effCheck) isEffect()    {}
func (effDownload) isEffect() {}
func (effInstall) isEffect()  {}
func (effWait) isEffect()     {}
func (effPing) isEffect()     {}
func (effComplete) isEffect() {}

type action interface {
	// start is called once when the action becomes current.
	start(uc *updateContext) []effect
	// handle returns the next action, nil to stay, and effects to execute.
	handle(uc *updateContext, ev event) (action, []effect)
}

// begin starts the first action of a fresh context.
func begin(uc *updateContext) []effect {
	uc.action = actionUpdateCheck{}
	return uc.action.start(uc)
}

// step feeds ev to the current action.
func step(uc *updateContext, ev event) []effect {
	next, effs := uc.action.handle(uc, ev)
	if next == nil {
		return effs
	}
	uc.action = next
	return append(effs, next.start(uc)...)
}

var stateEvents = map[State]Event{
	StateChecking:        EventCheckingForUpdates,
	StateCanUpdate:       EventUpdateFound,
	StateDownloadingDiff: EventUpdateDownloading,
	StateDownloading:     EventUpdateDownloading,
	StateUpdatingDiff:    EventUpdateReady,
	StateUpdating:        EventUpdateReady,
	StateUpdated:         EventUpdated,
	StateUpToDate:        EventNotUpdated,
	StateNoUpdate:        EventNotUpdated,
}

// setState moves it to s and returns the matching notification.
func setState(it *CrxUpdateItem, s State) effect {
	it.State = s
	return effNotify{event: stateEvents[s], item: it.snapshot()}
}

// actionUpdateCheck checks all items and queues the updatable ones.
type actionUpdateCheck struct{}

func (actionUpdateCheck) start(uc *updateContext) []effect {
	var effs []effect
	checking := 0
	for _, it := range uc.orderedItems() {
		if it.Component == nil {
			it.ErrorCategory = ErrorCategoryService
			it.ErrorCode = ServiceErrorCrxNotFound
			effs = append(effs, setState(it, StateNoUpdate))
			continue
		}
		effs = append(effs, setState(it, StateChecking))
		checking++
	}
	if checking == 0 {
		uc.action = actionDone{}
		return append(effs, effComplete{err: uc.result()})
	}
	return append(effs, effCheck{})
}

func (actionUpdateCheck) handle(uc *updateContext, ev event) (action, []effect) {
	done, ok := ev.(evCheckDone)
	if !ok {
		return nil, nil
	}
	uc.retryAfter = done.retryAfter

	var effs []effect
	for _, it := range uc.orderedItems() {
		if it.State == StateChecking {
			it.LastCheck = done.now
		}
	}
	if done.err != nil {
		for _, it := range uc.orderedItems() {
			if it.State == StateChecking {
				effs = append(effs, setState(it, StateNoUpdate))
			}
		}
		return actionDone{}, append(effs, effComplete{err: Error(sender.Code(done.err))})
	}

	for _, res := range done.results.List {
		it := uc.item(res.ExtensionID)
		if it == nil || it.State != StateChecking {
			continue
		}
		effs = append(effs, applyResult(uc, it, res))
	}
	for _, it := range uc.orderedItems() {
		if it.State == StateChecking {
			effs = append(effs, setState(it, StateUpToDate))
		}
	}

	if len(uc.queue) == 0 {
		return actionDone{}, append(effs, effComplete{err: uc.result()})
	}
	return updateAction(uc, uc.queue[0]), effs
}

// applyResult moves a checked item according to the server response.
func applyResult(uc *updateContext, it *CrxUpdateItem, res protocol.Result) effect {
	m := res.Manifest
	switch {
	case m.Version == "":
		return setState(it, StateNoUpdate)
	case !version.IsNewer(it.Component.Version, m.Version):
		return setState(it, StateUpToDate)
	case m.BrowserMinVersion != "" && version.IsNewer(uc.config.BrowserVersion(), m.BrowserMinVersion):
		return setState(it, StateNoUpdate)
	case len(m.Packages) != 1:
		return setState(it, StateNoUpdate)
	}

	pkg := m.Packages[0]
	it.CrxURLs = protocol.ResolveURLs(res.CrxURLs, pkg.Name)
	if pkg.NameDiff != "" {
		it.CrxDiffURLs = protocol.ResolveURLs(res.CrxDiffURLs, pkg.NameDiff)
	}
	it.HashSHA256 = pkg.HashSHA256
	it.HashDiffSHA256 = pkg.HashDiffSHA256
	it.NextVersion = m.Version
	it.NextFP = pkg.Fingerprint
	uc.queue = append(uc.queue, it.ID)
	return setState(it, StateCanUpdate)
}

// canTryDiff tells if a differential update of it may be attempted.
func canTryDiff(uc *updateContext, it *CrxUpdateItem) bool {
	return len(it.CrxDiffURLs) != 0 && it.HashDiffSHA256 != "" &&
		!it.DiffUpdateFailed && uc.config.EnabledDeltas()
}

func updateAction(uc *updateContext, id string) action {
	if canTryDiff(uc, uc.item(id)) {
		return actionUpdateDiff{id: id}
	}
	return actionUpdateFull{id: id}
}

// actionUpdateDiff downloads and installs a differential package. Any
// failure falls back to actionUpdateFull for the same item.
type actionUpdateDiff struct {
	id string
}

func (a actionUpdateDiff) start(uc *updateContext) []effect {
	it := uc.item(a.id)
	return []effect{
		setState(it, StateDownloadingDiff),
		effDownload{id: a.id, urls: it.CrxDiffURLs, hash: it.HashDiffSHA256},
	}
}

func (a actionUpdateDiff) handle(uc *updateContext, ev event) (action, []effect) {
	it := uc.item(a.id)
	switch ev := ev.(type) {
	case evDownloadDone:
		if ev.id != a.id {
			return nil, nil
		}
		it.DownloadMetrics = append(it.DownloadMetrics, ev.metrics...)
		if ev.result.Error != download.ErrorNone {
			it.DiffErrorCategory = ErrorCategoryNetwork
			it.DiffErrorCode = ev.result.Error
			it.DiffExtraCode1 = 0
			it.DiffUpdateFailed = true
			return actionUpdateFull{id: a.id}, nil
		}
		return nil, []effect{
			setState(it, StateUpdatingDiff),
			effInstall{id: a.id, crxPath: ev.result.ResponsePath},
		}
	case evInstallDone:
		if ev.id != a.id {
			return nil, nil
		}
		if ev.category != ErrorCategoryNone {
			it.DiffErrorCategory = ev.category
			it.DiffErrorCode = ev.code
			it.DiffExtraCode1 = ev.extra
			it.DiffUpdateFailed = true
			return actionUpdateFull{id: a.id}, nil
		}
		return finishItem(uc, it)
	}
	return nil, nil
}

// actionUpdateFull downloads and installs a full package.
type actionUpdateFull struct {
	id string
}

func (a actionUpdateFull) start(uc *updateContext) []effect {
	it := uc.item(a.id)
	return []effect{
		setState(it, StateDownloading),
		effDownload{
			id:         a.id,
			urls:       it.CrxURLs,
			hash:       it.HashSHA256,
			background: backgroundAllowed(uc, it),
		},
	}
}

func (a actionUpdateFull) handle(uc *updateContext, ev event) (action, []effect) {
	it := uc.item(a.id)
	switch ev := ev.(type) {
	case evDownloadDone:
		if ev.id != a.id {
			return nil, nil
		}
		it.DownloadMetrics = append(it.DownloadMetrics, ev.metrics...)
		if ev.result.Error != download.ErrorNone {
			it.ErrorCategory = ErrorCategoryNetwork
			it.ErrorCode = ev.result.Error
			it.ExtraCode1 = 0
			return finishItem(uc, it)
		}
		return nil, []effect{
			setState(it, StateUpdating),
			effInstall{id: a.id, crxPath: ev.result.ResponsePath},
		}
	case evInstallDone:
		if ev.id != a.id {
			return nil, nil
		}
		it.ErrorCategory = ev.category
		it.ErrorCode = ev.code
		it.ExtraCode1 = ev.extra
		return finishItem(uc, it)
	}
	return nil, nil
}

func backgroundAllowed(uc *updateContext, it *CrxUpdateItem) bool {
	return !it.OnDemand && it.Component.AllowsBackgroundDownload &&
		uc.config.EnabledBackgroundDownloader()
}

// finishItem moves it to its terminal state, pings and goes on with the
// queue.
func finishItem(uc *updateContext, it *CrxUpdateItem) (action, []effect) {
	var effs []effect
	if it.ErrorCategory == ErrorCategoryNone {
		if v, err := version.Parse(it.NextVersion); err == nil {
			it.Component.Version = v
		}
		it.Component.Fingerprint = it.NextFP
		effs = append(effs, setState(it, StateUpdated))
	} else {
		effs = append(effs, setState(it, StateNoUpdate))
	}
	effs = append(effs, effPing{item: it.snapshot()})

	uc.queue = uc.queue[1:]
	if len(uc.queue) == 0 {
		return actionDone{}, append(effs, effComplete{err: uc.result()})
	}
	return actionWait{}, effs
}

// actionWait spaces installs of successive items of one context.
type actionWait struct{}

func (actionWait) start(uc *updateContext) []effect {
	next := uc.item(uc.queue[0])
	return []effect{
		effNotify{event: EventWait, item: next.snapshot()},
		effWait{delay: uc.config.UpdateDelay()},
	}
}

func (actionWait) handle(uc *updateContext, ev event) (action, []effect) {
	if _, ok := ev.(evWaitDone); !ok {
		return nil, nil
	}
	return updateAction(uc, uc.queue[0]), nil
}

// actionDone is the final action. It ignores all events.
type actionDone struct{}

func (actionDone) start(uc *updateContext) []effect { return nil }

func (actionDone) handle(uc *updateContext, ev event) (action, []effect) { return nil, nil }
