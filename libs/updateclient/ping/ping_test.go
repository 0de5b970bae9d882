// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ping

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/tsmon"

	"infra/libs/updateclient/download"
	"infra/libs/updateclient/protocol"
	"infra/libs/updateclient/sender"

	. "github.com/smartystreets/goconvey/convey"
)

type recorder struct {
	m      sync.Mutex
	bodies []string
	fail   bool
}

func (r *recorder) Post(ctx context.Context, u *url.URL, body []byte, headers map[string]string) (*sender.Response, error) {
	r.m.Lock()
	defer r.m.Unlock()
	r.bodies = append(r.bodies, string(body))
	if r.fail {
		return nil, errors.New("connection refused")
	}
	return &sender.Response{StatusCode: http.StatusOK, Header: http.Header{}}, nil
}

func TestPinger(t *testing.T) {
	t.Parallel()

	Convey("With a pinger", t, func() {
		ctx, _ := tsmon.WithDummyInMemory(context.Background())
		rec := &recorder{}
		u, _ := url.Parse("http://localhost/ping")
		p := &Pinger{
			Sender: &sender.Sender{Fetcher: rec},
			Params: protocol.RequestParams{ProdID: "fake_prodid", BrowserVersion: "30.0"},
			URLs:   []*url.URL{u},
		}

		Convey("Update ping", func() {
			p.SendUpdate(ctx, Update{
				ID:              "jebgalgnebhfojomionfpkfelancnnkf",
				PreviousVersion: "0.9",
				NextVersion:     "1.0",
				Outcome:         protocol.UpdateOutcome{Success: true},
				Downloads: []download.Metrics{{
					URL:             "http://localhost/download/jebg.crx",
					Downloader:      download.NameDirect,
					DownloadedBytes: 1843,
					TotalBytes:      1843,
					DownloadTimeMS:  1000,
				}},
			})
			p.Wait()
			So(rec.bodies, ShouldHaveLength, 1)
			So(rec.bodies[0], ShouldContainSubstring,
				`<app appid="jebgalgnebhfojomionfpkfelancnnkf" version="0.9" nextversion="1.0">`+
					`<event eventtype="3" eventresult="1"></event>`+
					`<event eventtype="14" eventresult="1" downloader="direct" url="http://localhost/download/jebg.crx" `+
					`downloaded="1843" total="1843" download_time_ms="1000"></event></app>`)
			So(pings.Get(ctx, "update", true), ShouldEqual, int64(1))
		})

		Convey("Uninstall ping", func() {
			p.SendUninstall(ctx, Uninstall{ID: "abc", Version: "1.0", Reason: 10})
			p.Wait()
			So(rec.bodies[0], ShouldContainSubstring,
				`<app appid="abc" version="1.0" nextversion="0"><event eventtype="4" eventresult="1" eventreason="10"></event></app>`)
		})

		Convey("Failures are swallowed", func() {
			rec.fail = true
			p.SendUninstall(ctx, Uninstall{ID: "abc", Version: "1.0"})
			p.Wait()
			So(rec.bodies, ShouldHaveLength, 1)
			So(pings.Get(ctx, "uninstall", false), ShouldEqual, int64(1))
		})
	})
}
