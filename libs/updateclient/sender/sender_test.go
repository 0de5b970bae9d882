// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sender

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"go.chromium.org/luci/common/errors"
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

func TestSend(t *testing.T) {
	t.Parallel()

	Convey("With a sender", t, func() {
		ctx, _ := tsmon.WithDummyInMemory(context.Background())

		var hits int32
		ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			body, _ := ioutil.ReadAll(r.Body)
			w.Header().Set("X-Retry-After", "60")
			w.Write([]byte("echo:" + string(body)))
		}))
		Reset(ok.Close)

		forbidden := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
			w.WriteHeader(http.StatusForbidden)
		}))
		Reset(forbidden.Close)

		s := &Sender{Fetcher: &HTTPFetcher{}}

		Convey("No urls", func() {
			_, ra, err := s.Send(ctx, false, []byte("x"), nil)
			So(Code(err), ShouldEqual, ErrorNoURL)
			So(ra, ShouldEqual, -1)
			So(atomic.LoadInt32(&hits), ShouldEqual, int32(0))
		})

		Convey("First success wins", func() {
			resp, ra, err := s.Send(ctx, false, []byte("hi"), []*url.URL{mustParse(ok.URL), mustParse(forbidden.URL)})
			So(err, ShouldBeNil)
			So(string(resp), ShouldEqual, "echo:hi")
			So(ra, ShouldEqual, -1) // plain http, ignored
			So(atomic.LoadInt32(&hits), ShouldEqual, int32(1))
			So(requests.Get(ctx, mustParse(ok.URL).Host, 0), ShouldEqual, int64(1))
		})

		Convey("Falls through to the next url", func() {
			resp, _, err := s.Send(ctx, false, []byte("hi"), []*url.URL{mustParse(forbidden.URL), mustParse(ok.URL)})
			So(err, ShouldBeNil)
			So(string(resp), ShouldEqual, "echo:hi")
			So(atomic.LoadInt32(&hits), ShouldEqual, int32(2))
			So(requests.Get(ctx, mustParse(forbidden.URL).Host, 403), ShouldEqual, int64(1))
		})

		Convey("Reports the last error", func() {
			_, _, err := s.Send(ctx, false, []byte("hi"), []*url.URL{mustParse(forbidden.URL)})
			So(Code(err), ShouldEqual, 403)
		})

		Convey("Network errors", func() {
			dead := httptest.NewServer(http.NotFoundHandler())
			deadURL := mustParse(dead.URL)
			dead.Close()
			_, _, err := s.Send(ctx, false, []byte("hi"), []*url.URL{deadURL})
			So(Code(err), ShouldEqual, ErrorNetwork)
		})
	})

	Convey("Retry-after over https", t, func() {
		ctx := context.Background()
		header := "120"
		status := http.StatusOK
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Retry-After", header)
			w.WriteHeader(status)
		}))
		Reset(srv.Close)
		s := &Sender{Fetcher: &HTTPFetcher{Client: srv.Client()}}

		Convey("Honoured", func() {
			_, ra, err := s.Send(ctx, false, nil, []*url.URL{mustParse(srv.URL)})
			So(err, ShouldBeNil)
			So(ra, ShouldEqual, 120)
		})

		Convey("Capped", func() {
			header = "9999999"
			_, ra, err := s.Send(ctx, false, nil, []*url.URL{mustParse(srv.URL)})
			So(err, ShouldBeNil)
			So(ra, ShouldEqual, MaxRetryAfterSec)
		})

		Convey("Garbage is ignored", func() {
			header = "soon"
			_, ra, err := s.Send(ctx, false, nil, []*url.URL{mustParse(srv.URL)})
			So(err, ShouldBeNil)
			So(ra, ShouldEqual, -1)
		})

		Convey("Stops the walk on failure", func() {
			status = http.StatusServiceUnavailable
			var hits int32
			other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
			}))
			defer other.Close()
			_, ra, err := s.Send(ctx, false, nil, []*url.URL{mustParse(srv.URL), mustParse(other.URL)})
			So(Code(err), ShouldEqual, http.StatusServiceUnavailable)
			So(ra, ShouldEqual, 120)
			So(atomic.LoadInt32(&hits), ShouldEqual, int32(0))
		})
	})
}

func TestCUP(t *testing.T) {
	t.Parallel()

	Convey("With a CUP key", t, func() {
		ctx := context.Background()
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		So(err, ShouldBeNil)
		der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		So(err, ShouldBeNil)
		cup, err := NewCUP(7, der)
		So(err, ShouldBeNil)

		tamper := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := ioutil.ReadAll(r.Body)
			key := r.URL.Query().Get("cup2key")
			hreq, err := hex.DecodeString(r.URL.Query().Get("cup2hreq"))
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			if sum := sha256.Sum256(body); hex.EncodeToString(sum[:]) != hex.EncodeToString(hreq) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			resp := []byte("<response/>")
			proof, err := SignResponse(priv, hreq, resp, key)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			if tamper {
				resp = []byte("<response evil='1'/>")
			}
			w.Header().Set("X-Cup-Server-Proof", proof)
			w.Write(resp)
		}))
		Reset(srv.Close)

		s := &Sender{Fetcher: &HTTPFetcher{}, CUP: cup}

		Convey("Signed request", func() {
			signed := cup.SignRequest(mustParse("http://h/service/update2?x=1"), []byte("body"))
			So(signed.URL.Query().Get("x"), ShouldEqual, "1")
			So(signed.URL.Query().Get("cup2key"), ShouldStartWith, "7:")
			So(signed.Key, ShouldStartWith, "7:")
			So(signed.Etag(), ShouldEqual, `W/"`+signed.Key+`"`)
		})

		Convey("Valid proof", func() {
			resp, _, err := s.Send(ctx, true, []byte("<request/>"), []*url.URL{mustParse(srv.URL)})
			So(err, ShouldBeNil)
			So(string(resp), ShouldEqual, "<response/>")
		})

		Convey("Tampered response", func() {
			tamper = true
			_, _, err := s.Send(ctx, true, []byte("<request/>"), []*url.URL{mustParse(srv.URL)})
			So(Code(err), ShouldEqual, ErrorResponseNotTrusted)
		})

		Convey("Unsigned response", func() {
			plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("<response/>"))
			}))
			defer plain.Close()
			_, _, err := s.Send(ctx, true, []byte("<request/>"), []*url.URL{mustParse(plain.URL)})
			So(Code(err), ShouldEqual, ErrorResponseNotTrusted)
		})

		Convey("Malformed proofs", func() {
			req := cup.SignRequest(mustParse("http://h/"), []byte("b"))
			So(cup.ValidateResponse(req, []byte("r"), ""), ShouldBeFalse)
			So(cup.ValidateResponse(req, []byte("r"), "zz:yy"), ShouldBeFalse)
			So(cup.ValidateResponse(req, []byte("r"), "00:"+hex.EncodeToString(req.RequestHash)), ShouldBeFalse)
			So(cup.ValidateResponse(nil, []byte("r"), "00:00"), ShouldBeFalse)
		})

		Convey("Rejects non-ECDSA keys", func() {
			_, err := NewCUP(1, []byte("garbage"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestCode(t *testing.T) {
	t.Parallel()

	Convey("Code", t, func() {
		So(Code(nil), ShouldEqual, 0)
		So(Code(errors.New("x")), ShouldEqual, -1)
		So(Code(&Error{Code: 500}), ShouldEqual, 500)
		So(Code(errors.Annotate(&Error{Code: ErrorNetwork}, "wrapped").Err()), ShouldEqual, ErrorNetwork)
	})
}
