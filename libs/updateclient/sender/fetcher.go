// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sender

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"

	"golang.org/x/net/context/ctxhttp"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/retry/transient"
)

// maxResponseSize bounds the size of protocol responses we are willing to
// buffer.
const maxResponseSize = 4 * 1024 * 1024

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher posts a request body to a URL.
//
// A returned error means the exchange didn't complete (DNS, connection,
// timeout). Any HTTP status is a successful exchange.
type Fetcher interface {
	Post(ctx context.Context, u *url.URL, body []byte, headers map[string]string) (*Response, error)
}

// HTTPFetcher is a Fetcher on top of an http.Client.
type HTTPFetcher struct {
	// Client is the client to use, http.DefaultClient if nil.
	Client *http.Client
}

// Post implements Fetcher.
func (f *HTTPFetcher) Post(ctx context.Context, u *url.URL, body []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequest("POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Annotate(err, "could not make a request to %s", u).Err()
	}
	req.Header.Set("Content-Type", "application/xml")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logging.Debugf(ctx, "POST %s (%d bytes)", u, len(body))
	res, err := ctxhttp.Do(ctx, f.Client, req)
	if err != nil {
		return nil, transient.Tag.Apply(err)
	}
	defer res.Body.Close()

	blob, err := ioutil.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, transient.Tag.Apply(errors.Annotate(err, "failed to read the response from %s", u).Err())
	}
	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       blob,
	}, nil
}
