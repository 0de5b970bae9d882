// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"infra/libs/updateclient/crx"
	"infra/libs/updateclient/download"
	"infra/libs/updateclient/unpack"
	"infra/libs/updateclient/version"
)

// Error is the result of an Update or Install call.
//
// Besides the values below it may carry a transport code of a failed update
// check, e.g. an HTTP status or sender.ErrorNoURL.
type Error int

// Engine level errors.
const (
	ErrorNone             Error = 0
	ErrorUpdateInProgress Error = 1
	ErrorUpdateCanceled   Error = 2
	ErrorRetryLater       Error = 3
	// ErrorUpdateFailed is returned when at least one component ended with
	// an error.
	ErrorUpdateFailed Error = 4
)

func (e Error) String() string {
	switch e {
	case ErrorNone:
		return "none"
	case ErrorUpdateInProgress:
		return "update in progress"
	case ErrorUpdateCanceled:
		return "update canceled"
	case ErrorRetryLater:
		return "retry later"
	case ErrorUpdateFailed:
		return "update failed"
	default:
		return fmt.Sprintf("error %d", int(e))
	}
}

// ErrorCategory tells which stage an item error comes from.
type ErrorCategory int

// Error categories of an item.
const (
	ErrorCategoryNone ErrorCategory = iota
	ErrorCategoryNetwork
	ErrorCategoryUnpack
	ErrorCategoryInstall
	ErrorCategoryService
)

// Codes of ErrorCategoryService.
const (
	ServiceErrorCrxNotFound = 1
)

// State is the state of an update item.
type State int

// Item states.
const (
	StateNew State = iota
	StateChecking
	StateCanUpdate
	StateDownloadingDiff
	StateDownloading
	StateUpdatingDiff
	StateUpdating
	StateUpdated
	StateUpToDate
	StateNoUpdate
	StateUninstalled
)

var stateNames = [...]string{
	StateNew:             "new",
	StateChecking:        "checking",
	StateCanUpdate:       "can update",
	StateDownloadingDiff: "downloading diff",
	StateDownloading:     "downloading",
	StateUpdatingDiff:    "updating diff",
	StateUpdating:        "updating",
	StateUpdated:         "updated",
	StateUpToDate:        "up to date",
	StateNoUpdate:        "no update",
	StateUninstalled:     "uninstalled",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event is what observers are told about.
type Event int

// Observer events.
const (
	EventCheckingForUpdates Event = iota + 1
	EventUpdateFound
	EventUpdateDownloading
	EventUpdateReady
	EventUpdated
	EventNotUpdated
	EventWait
)

var eventNames = map[Event]string{
	EventCheckingForUpdates: "checking for updates",
	EventUpdateFound:        "update found",
	EventUpdateDownloading:  "update downloading",
	EventUpdateReady:        "update ready",
	EventUpdated:            "updated",
	EventNotUpdated:         "not updated",
	EventWait:               "wait",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("Event(%d)", int(e))
}

// Observer is notified on the main sequence, in the order of state changes.
type Observer interface {
	OnEvent(event Event, id string)
}

// InstallResult is returned by Installer.Install. Error 0 means success.
type InstallResult struct {
	Error         int
	ExtendedError int
}

// Installer installs a component. It is supplied by the component owner.
//
// Install and GetInstalledFile are called outside the main sequence.
type Installer interface {
	unpack.InstalledFiles

	// Install installs the unpacked component at unpackPath. The directory
	// is deleted once Install returns.
	Install(ctx context.Context, manifest map[string]interface{}, unpackPath string) InstallResult
	// OnUpdateError is called when an install fails.
	OnUpdateError(ctx context.Context, code int)
	// Uninstall removes the component. Returns false on failure.
	Uninstall(ctx context.Context) bool
}

// CrxComponent describes a registered component.
//
// Version and Fingerprint are updated in place after a successful install.
type CrxComponent struct {
	// PKHash is the SHA-256 of the component's public key, at least 16 bytes.
	PKHash      []byte
	Version     version.Version
	Fingerprint string
	Installer   Installer
	Name        string
	Brand       string

	AllowsBackgroundDownload  bool
	RequiresNetworkEncryption bool

	// InstallerAttributes are sent with update checks. Invalid ones are
	// dropped.
	InstallerAttributes map[string]string
}

// ID is the component id derived from PKHash.
func (c *CrxComponent) ID() string {
	return crx.IDFromHash(c.PKHash)
}

// CrxDataFunc returns the components of ids, in the same order. Unknown ids
// map to nil.
type CrxDataFunc func(ids []string) []*CrxComponent

// Callback receives the result of Update, Install and SendUninstallPing.
type Callback func(err Error)

// CrxUpdateItem is the state of one component within one update.
type CrxUpdateItem struct {
	ID        string
	State     State
	Component *CrxComponent
	LastCheck time.Time

	CrxURLs        []*url.URL
	CrxDiffURLs    []*url.URL
	HashSHA256     string
	HashDiffSHA256 string

	PreviousVersion string
	NextVersion     string
	PreviousFP      string
	NextFP          string

	OnDemand         bool
	DiffUpdateFailed bool

	ErrorCategory ErrorCategory
	ErrorCode     int
	ExtraCode1    int

	DiffErrorCategory ErrorCategory
	DiffErrorCode     int
	DiffExtraCode1    int

	DownloadMetrics []download.Metrics
}

// snapshot is a copy safe to hand out of the main sequence.
func (it *CrxUpdateItem) snapshot() CrxUpdateItem {
	c := *it
	if it.Component != nil {
		comp := *it.Component
		c.Component = &comp
	}
	c.CrxURLs = append([]*url.URL(nil), it.CrxURLs...)
	c.CrxDiffURLs = append([]*url.URL(nil), it.CrxDiffURLs...)
	c.DownloadMetrics = append([]download.Metrics(nil), it.DownloadMetrics...)
	return c
}
