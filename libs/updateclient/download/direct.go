// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package download

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/net/context/ctxhttp"

	"go.chromium.org/luci/common/logging"
)

// Direct downloads with plain HTTP GETs, one attempt per URL.
type Direct struct {
	// Client is the client to use, http.DefaultClient if nil.
	Client *http.Client
	// TempDir is where download directories are made, os.TempDir() if empty.
	TempDir string
}

// Download implements Downloader.
func (d *Direct) Download(ctx context.Context, urls []*url.URL, expectedHash string, progress Progress) (Result, []Metrics) {
	res, metrics, _ := walk(ctx, NameDirect, urls, expectedHash, progress, d.fetch)
	return res, metrics
}

func (d *Direct) fetch(ctx context.Context, u *url.URL, progress Progress) attempt {
	a := attempt{downloaded: -1, total: -1}

	res, err := ctxhttp.Get(ctx, d.Client, u.String())
	if err != nil {
		logging.WithError(err).Warningf(ctx, "GET %s failed", u)
		a.err = ErrorNetwork
		return a
	}
	defer res.Body.Close()

	a.handled = true
	if res.StatusCode != http.StatusOK {
		a.err = res.StatusCode
		return a
	}
	a.total = res.ContentLength

	dir, err := ioutil.TempDir(d.TempDir, "updateclient_download_")
	if err != nil {
		logging.WithError(err).Errorf(ctx, "Failed to create a download dir")
		a.err = ErrorNetwork
		return a
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "download.crx"
	}
	out := filepath.Join(dir, name)

	f, err := os.Create(out)
	if err != nil {
		os.RemoveAll(dir)
		a.err = ErrorNetwork
		return a
	}
	cw := &countingWriter{w: f, total: a.total, progress: progress}
	_, copyErr := io.Copy(cw, res.Body)
	closeErr := f.Close()
	a.downloaded = cw.n
	if copyErr != nil || closeErr != nil {
		logging.Warningf(ctx, "Download of %s was interrupted after %d bytes: %v %v", u, cw.n, copyErr, closeErr)
		os.RemoveAll(dir)
		a.err = ErrorNetwork
		a.handled = false
		return a
	}
	a.path = out
	return a
}

type countingWriter struct {
	w        io.Writer
	n        int64
	total    int64
	progress Progress
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if c.progress != nil && n > 0 {
		c.progress(c.n, c.total)
	}
	return n, err
}
