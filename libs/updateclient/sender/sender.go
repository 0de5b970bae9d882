// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sender posts protocol requests to a list of update servers.
package sender

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
)

// Error codes not coming from HTTP status lines.
const (
	// ErrorNetwork is used when the exchange didn't complete.
	ErrorNetwork = -2
	// ErrorResponseNotTrusted is used when a signed response fails to verify.
	ErrorResponseNotTrusted = -10000
	// ErrorNoURL is used when there's nowhere to send the request.
	ErrorNoURL = -10001
)

const (
	headerRetryAfter  = "X-Retry-After"
	headerServerProof = "X-Cup-Server-Proof"

	// MaxRetryAfterSec caps the server-provided retry-after value.
	MaxRetryAfterSec = 24 * 60 * 60
)

var requests = metric.NewCounter("chrome/infra/updateclient/sender/requests",
	"Number of protocol requests sent, by host and result code.",
	nil,
	field.String("host"),
	field.Int("code"))

// Error carries an integer protocol error code.
type Error struct {
	Code int
	URL  string
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrorNoURL:
		return "no url to send the request to"
	case ErrorResponseNotTrusted:
		return fmt.Sprintf("response from %s is not trusted", e.URL)
	case ErrorNetwork:
		return fmt.Sprintf("network error talking to %s", e.URL)
	default:
		return fmt.Sprintf("request to %s failed with code %d", e.URL, e.Code)
	}
}

// Code extracts the integer code of an error, 0 for nil and -1 for errors
// that don't carry a code.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return -1
}

// Sender walks a list of URLs until one of them answers.
type Sender struct {
	// Fetcher does the network exchange.
	Fetcher Fetcher
	// CUP signs requests and verifies responses when signing is requested.
	CUP *CUP
}

// Send posts the body to the urls in order and returns the first successful
// response body, along with the server-provided retry-after in seconds (-1 if
// none).
//
// There's no retry: each URL is tried once. A retry-after from a failing
// server stops the walk, the server asked us to back off.
func (s *Sender) Send(ctx context.Context, useSigning bool, body []byte, urls []*url.URL) ([]byte, int, error) {
	if len(urls) == 0 {
		return nil, -1, &Error{Code: ErrorNoURL}
	}
	if useSigning && s.CUP == nil {
		return nil, -1, errors.Reason("signing requested, but no CUP key is configured").Err()
	}

	var lastErr error
	for _, u := range urls {
		resp, retryAfter, err := s.sendOne(ctx, useSigning, body, u)
		if err == nil {
			return resp, retryAfter, nil
		}
		logging.WithError(err).Warningf(ctx, "Request to %s failed", u.Host)
		lastErr = err
		if retryAfter != -1 {
			return nil, retryAfter, err
		}
	}
	return nil, -1, lastErr
}

func (s *Sender) sendOne(ctx context.Context, useSigning bool, body []byte, u *url.URL) ([]byte, int, error) {
	target := u
	var signed *SignedRequest
	headers := map[string]string{}
	if useSigning {
		signed = s.CUP.SignRequest(u, body)
		target = signed.URL
		headers["If-Match"] = signed.Etag()
	}

	resp, err := s.Fetcher.Post(ctx, target, body, headers)
	if err != nil {
		requests.Add(ctx, 1, u.Host, ErrorNetwork)
		return nil, -1, errors.Annotate(&Error{Code: ErrorNetwork, URL: u.String()}, "%s", err).Err()
	}

	retryAfter := -1
	if u.Scheme == "https" {
		retryAfter = parseRetryAfter(resp.Header)
	}

	if resp.StatusCode != http.StatusOK {
		requests.Add(ctx, 1, u.Host, resp.StatusCode)
		return nil, retryAfter, &Error{Code: resp.StatusCode, URL: u.String()}
	}

	if useSigning && !s.CUP.ValidateResponse(signed, resp.Body, resp.Header.Get(headerServerProof)) {
		requests.Add(ctx, 1, u.Host, ErrorResponseNotTrusted)
		return nil, retryAfter, &Error{Code: ErrorResponseNotTrusted, URL: u.String()}
	}

	requests.Add(ctx, 1, u.Host, 0)
	return resp.Body, retryAfter, nil
}

func parseRetryAfter(h http.Header) int {
	v := h.Get(headerRetryAfter)
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	if n > MaxRetryAfterSec {
		return MaxRetryAfterSec
	}
	return int(n)
}
