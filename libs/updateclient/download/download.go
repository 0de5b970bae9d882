// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package download fetches CRX payloads and verifies their hashes.
//
// Downloaders form a chain: the background downloader retries transient
// failures and hands over to the direct downloader if it couldn't reach any
// server at all.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
	"go.chromium.org/luci/common/tsmon/types"
)

// Error codes. HTTP failures use the status code.
const (
	ErrorNone    = 0
	ErrorNetwork = -2
	ErrorNoURL   = 10
	ErrorNoHash  = 11
	ErrorBadHash = 12
)

// Downloader names, as reported in pings.
const (
	NameDirect     = "direct"
	NameBackground = "background"
)

var (
	downloads = metric.NewCounter("chrome/infra/updateclient/downloads",
		"Number of download attempts, by downloader and error code.",
		nil,
		field.String("downloader"),
		field.Int("error"))
	downloadedBytes = metric.NewCounter("chrome/infra/updateclient/downloaded_bytes",
		"Number of bytes downloaded.",
		&types.MetricMetadata{Units: types.Bytes},
		field.String("downloader"))
)

// Result is the outcome of a download.
type Result struct {
	Error           int
	ResponsePath    string // the downloaded file, only set on success
	DownloadedBytes int64
	TotalBytes      int64 // -1 if unknown
}

// Metrics describes one download attempt of one URL.
type Metrics struct {
	URL             string
	Downloader      string
	Error           int
	DownloadedBytes int64 // -1 if unknown
	TotalBytes      int64 // -1 if unknown
	DownloadTimeMS  int64
}

// Progress is called as bytes arrive. total is -1 if unknown.
type Progress func(downloaded, total int64)

// Downloader fetches a payload from one of several URLs.
type Downloader interface {
	// Download tries the urls in order until one yields a file with the
	// expected SHA-256. It returns the result and the metrics of every
	// attempt.
	Download(ctx context.Context, urls []*url.URL, expectedHash string, progress Progress) (Result, []Metrics)
}

// attempt is the outcome of fetching one URL.
type attempt struct {
	path       string
	downloaded int64
	total      int64
	err        int

	// handled is true if a server responded, even with an error. Unhandled
	// failures let the next downloader in the chain have a go.
	handled bool
}

type fetchFunc func(ctx context.Context, u *url.URL, progress Progress) attempt

// walk tries urls in order with fetch, verifying each downloaded file.
//
// Returns the result, the metrics and whether any attempt was handled by a
// server.
func walk(ctx context.Context, name string, urls []*url.URL, expectedHash string, progress Progress, fetch fetchFunc) (Result, []Metrics, bool) {
	if len(urls) == 0 {
		return Result{Error: ErrorNoURL, TotalBytes: -1}, nil, true
	}
	if expectedHash == "" {
		return Result{Error: ErrorNoHash, TotalBytes: -1}, nil, true
	}

	var metrics []Metrics
	handled := false
	res := Result{TotalBytes: -1}
	for _, u := range urls {
		start := clock.Now(ctx)
		a := fetch(ctx, u, progress)
		if a.err == ErrorNone && !verifyFileHash(a.path, expectedHash) {
			logging.Warningf(ctx, "Hash mismatch for %s", u)
			removeDownload(ctx, a.path)
			a.err = ErrorBadHash
			a.path = ""
		}
		handled = handled || a.handled

		m := Metrics{
			URL:             u.String(),
			Downloader:      name,
			Error:           a.err,
			DownloadedBytes: a.downloaded,
			TotalBytes:      a.total,
			DownloadTimeMS:  clock.Now(ctx).Sub(start).Milliseconds(),
		}
		metrics = append(metrics, m)
		downloads.Add(ctx, 1, name, a.err)
		if a.downloaded > 0 {
			downloadedBytes.Add(ctx, a.downloaded, name)
		}

		res = Result{
			Error:           a.err,
			ResponsePath:    a.path,
			DownloadedBytes: a.downloaded,
			TotalBytes:      a.total,
		}
		if a.err == ErrorNone {
			logging.Infof(ctx, "Downloaded %s from %s in %dms", humanize.Bytes(uint64(a.downloaded)), u.Host, m.DownloadTimeMS)
			break
		}
		logging.Warningf(ctx, "Download of %s via %s failed with %d", u, name, a.err)
	}
	return res, metrics, handled
}

// verifyFileHash checks the SHA-256 of the file, case insensitive.
func verifyFileHash(path, expected string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return strings.EqualFold(hex.EncodeToString(h.Sum(nil)), expected)
}

// removeDownload deletes the downloaded file and its private directory.
func removeDownload(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(filepath.Dir(path)); err != nil {
		logging.WithError(err).Warningf(ctx, "Failed to clean up %s", path)
	}
}

// New returns the downloader chain to use.
func New(background bool, direct *Direct) Downloader {
	if direct == nil {
		direct = &Direct{}
	}
	if background {
		return &Background{Direct: direct}
	}
	return direct
}
