// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"go.chromium.org/luci/common/retry"
	"go.chromium.org/luci/common/tsmon"

	. "github.com/smartystreets/goconvey/convey"
)

func mustParse(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func hashOf(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func noDelay() retry.Iterator {
	return &retry.Limited{Retries: 3}
}

func TestDownload(t *testing.T) {
	t.Parallel()

	Convey("With servers", t, func() {
		ctx, _ := tsmon.WithDummyInMemory(context.Background())
		tempDir, err := ioutil.TempDir("", "download_test")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(tempDir) })

		const payload = "crx payload bytes"
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(payload))
		}))
		Reset(good.Close)
		evil := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("something else"))
		}))
		Reset(evil.Close)
		missing := httptest.NewServer(http.NotFoundHandler())
		Reset(missing.Close)

		var flakes int32
		flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&flakes, 1) <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(payload))
		}))
		Reset(flaky.Close)

		direct := &Direct{TempDir: tempDir}

		Convey("Direct success", func() {
			var lastProgress int64
			res, metrics := direct.Download(ctx, []*url.URL{mustParse(good.URL + "/a/x.crx")}, strings.ToUpper(hashOf(payload)),
				func(downloaded, total int64) { lastProgress = downloaded })
			So(res.Error, ShouldEqual, ErrorNone)
			So(filepath.Base(res.ResponsePath), ShouldEqual, "x.crx")
			blob, err := ioutil.ReadFile(res.ResponsePath)
			So(err, ShouldBeNil)
			So(string(blob), ShouldEqual, payload)
			So(res.DownloadedBytes, ShouldEqual, int64(len(payload)))
			So(lastProgress, ShouldEqual, int64(len(payload)))

			So(metrics, ShouldHaveLength, 1)
			So(metrics[0].Downloader, ShouldEqual, NameDirect)
			So(metrics[0].Error, ShouldEqual, ErrorNone)
			So(metrics[0].TotalBytes, ShouldEqual, int64(len(payload)))
			So(downloads.Get(ctx, NameDirect, 0), ShouldEqual, int64(1))
			So(downloadedBytes.Get(ctx, NameDirect), ShouldEqual, int64(len(payload)))
		})

		Convey("Bad hash moves on to the next url", func() {
			res, metrics := direct.Download(ctx, []*url.URL{mustParse(evil.URL + "/x.crx"), mustParse(good.URL + "/x.crx")}, hashOf(payload), nil)
			So(res.Error, ShouldEqual, ErrorNone)
			So(metrics, ShouldHaveLength, 2)
			So(metrics[0].Error, ShouldEqual, ErrorBadHash)
			So(metrics[1].Error, ShouldEqual, ErrorNone)

			// Only the successful download dir is left.
			dirs, err := ioutil.ReadDir(tempDir)
			So(err, ShouldBeNil)
			So(dirs, ShouldHaveLength, 1)
		})

		Convey("All bad", func() {
			res, metrics := direct.Download(ctx, []*url.URL{mustParse(evil.URL), mustParse(missing.URL)}, hashOf(payload), nil)
			So(res.Error, ShouldEqual, http.StatusNotFound)
			So(res.ResponsePath, ShouldEqual, "")
			So(metrics, ShouldHaveLength, 2)
		})

		Convey("No urls or hash", func() {
			res, metrics := direct.Download(ctx, nil, hashOf(payload), nil)
			So(res.Error, ShouldEqual, ErrorNoURL)
			So(metrics, ShouldBeEmpty)
			res, _ = direct.Download(ctx, []*url.URL{mustParse(good.URL)}, "", nil)
			So(res.Error, ShouldEqual, ErrorNoHash)
		})

		Convey("Background retries transient errors", func() {
			bg := &Background{Direct: direct, Retry: noDelay}
			res, metrics := bg.Download(ctx, []*url.URL{mustParse(flaky.URL + "/x.crx")}, hashOf(payload), nil)
			So(res.Error, ShouldEqual, ErrorNone)
			So(atomic.LoadInt32(&flakes), ShouldEqual, int32(3))
			So(metrics, ShouldHaveLength, 1)
			So(metrics[0].Downloader, ShouldEqual, NameBackground)
		})

		Convey("Background doesn't retry permanent errors", func() {
			bg := &Background{Direct: direct, Retry: noDelay}
			res, metrics := bg.Download(ctx, []*url.URL{mustParse(missing.URL)}, hashOf(payload), nil)
			So(res.Error, ShouldEqual, http.StatusNotFound)
			// Handled by a server, no fallback to direct.
			So(metrics, ShouldHaveLength, 1)
		})

		Convey("Background falls back to direct", func() {
			dead := httptest.NewServer(http.NotFoundHandler())
			deadURL := mustParse(dead.URL)
			dead.Close()

			bg := New(true, direct).(*Background)
			bg.Retry = noDelay
			res, metrics := bg.Download(ctx, []*url.URL{deadURL}, hashOf(payload), nil)
			So(res.Error, ShouldEqual, ErrorNetwork)
			So(metrics, ShouldHaveLength, 2)
			So(metrics[0].Downloader, ShouldEqual, NameBackground)
			So(metrics[1].Downloader, ShouldEqual, NameDirect)
		})

		Convey("New", func() {
			So(New(false, direct), ShouldEqual, direct)
			So(New(false, nil), ShouldHaveSameTypeAs, &Direct{})
		})
	})
}
