// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package protocol

// Event results.
const (
	EventResultError   = 0
	EventResultSuccess = 1
)

// UpdateOutcome is what a type 3 event reports.
type UpdateOutcome struct {
	Success bool

	ErrorCategory int
	ErrorCode     int
	ExtraCode1    int

	// DiffAttempted is set if a differential update was tried first.
	DiffAttempted  bool
	DiffSucceeded  bool
	DiffErrorCat   int
	DiffErrorCode  int
	DiffExtraCode1 int

	PreviousFP string
	NextFP     string
}

// UpdateEvent builds the type 3 event.
func UpdateEvent(o UpdateOutcome) Event {
	ev := Event{
		EventType:  EventTypeUpdate,
		ErrorCat:   o.ErrorCategory,
		ErrorCode:  o.ErrorCode,
		ExtraCode1: o.ExtraCode1,
		PreviousFP: o.PreviousFP,
		NextFP:     o.NextFP,
	}
	if o.Success {
		ev.EventResult = EventResultSuccess
	}
	if o.DiffAttempted {
		res := EventResultError
		if o.DiffSucceeded {
			res = EventResultSuccess
		}
		ev.DiffResult = &res
		ev.DiffErrorCat = o.DiffErrorCat
		ev.DiffErrorCode = o.DiffErrorCode
		ev.DiffExtraCode1 = o.DiffExtraCode1
	}
	return ev
}

// UninstallEvent builds the type 4 event.
func UninstallEvent(reason int) Event {
	return Event{
		EventType:   EventTypeUninstall,
		EventResult: EventResultSuccess,
		EventReason: reason,
	}
}

// DownloadOutcome is what a type 14 event reports. Negative byte counts mean
// unknown.
type DownloadOutcome struct {
	Downloader      string
	URL             string
	ErrorCode       int
	DownloadedBytes int64
	TotalBytes      int64
	DownloadTimeMS  int64
}

// DownloadEvent builds the type 14 event.
func DownloadEvent(o DownloadOutcome) Event {
	ev := Event{
		EventType:      EventTypeDownload,
		Downloader:     o.Downloader,
		URL:            o.URL,
		ErrorCode:      o.ErrorCode,
		DownloadTimeMS: o.DownloadTimeMS,
	}
	if o.ErrorCode == 0 {
		ev.EventResult = EventResultSuccess
	}
	if o.DownloadedBytes >= 0 {
		v := o.DownloadedBytes
		ev.Downloaded = &v
	}
	if o.TotalBytes >= 0 {
		v := o.TotalBytes
		ev.Total = &v
	}
	return ev
}

// PingApp is the body of one ping.
type PingApp struct {
	ID          string
	Version     string
	NextVersion string
	Events      []Event
}

// BuildPing serializes a ping request for one app.
func BuildPing(p RequestParams, app PingApp) ([]byte, error) {
	return BuildRequest(p, []App{{
		AppID:       app.ID,
		Version:     app.Version,
		NextVersion: app.NextVersion,
		Events:      app.Events,
	}})
}
