// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package download

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/retry"
	"go.chromium.org/luci/common/retry/transient"
)

var retryableCodes = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// DefaultRetryParams is the retry policy of background downloads.
func DefaultRetryParams() retry.Iterator {
	return &retry.ExponentialBackoff{
		Limited: retry.Limited{
			Delay:   time.Second,
			Retries: 3,
		},
		Multiplier: 2,
	}
}

// Background is a downloader that doesn't mind taking its time: it retries
// transient failures with backoff. If no server could be reached at all, the
// download is handed over to Direct.
type Background struct {
	Direct *Direct
	// Retry is the retry policy, DefaultRetryParams if nil.
	Retry retry.Factory
}

// Download implements Downloader.
func (b *Background) Download(ctx context.Context, urls []*url.URL, expectedHash string, progress Progress) (Result, []Metrics) {
	res, metrics, handled := walk(ctx, NameBackground, urls, expectedHash, progress, b.fetch)
	if res.Error == ErrorNone || handled {
		return res, metrics
	}
	res, more := b.Direct.Download(ctx, urls, expectedHash, progress)
	return res, append(metrics, more...)
}

func (b *Background) fetch(ctx context.Context, u *url.URL, progress Progress) attempt {
	factory := b.Retry
	if factory == nil {
		factory = DefaultRetryParams
	}
	// retry.Retry always runs the callback at least once, so last is the
	// outcome of the final attempt even if retry gave up on a context error.
	var last attempt
	retry.Retry(ctx, transient.Only(factory), func() error {
		last = b.Direct.fetch(ctx, u, progress)
		switch {
		case last.err == ErrorNone:
			return nil
		case !last.handled || retryableCodes[last.err]:
			return transient.Tag.Apply(errors.Reason("attempt failed with %d", last.err).Err())
		default:
			return errors.Reason("attempt failed with %d", last.err).Err()
		}
	}, retry.LogCallback(ctx, "background download of "+u.String()))
	return last
}
