// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package checker

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"infra/libs/updateclient/prefs"
	"infra/libs/updateclient/protocol"
	"infra/libs/updateclient/sender"
	"infra/libs/updateclient/version"

	. "github.com/smartystreets/goconvey/convey"
)

const jebgResponse = `<?xml version="1.0" encoding="UTF-8"?>
<response protocol="3.0">
  <daystart elapsed_seconds="100" elapsed_days="3383"/>
  <app appid="jebgalgnebhfojomionfpkfelancnnkf">
    <updatecheck status="ok">
      <urls><url codebase="http://localhost/download/"/></urls>
      <manifest version="1.0" prodversionmin="11.0.1.0">
        <packages>
          <package name="jebgalgnebhfojomionfpkfelancnnkf.crx" hash_sha256="abcd"/>
        </packages>
      </manifest>
    </updatecheck>
  </app>
</response>`

type fakeFetcher struct {
	m      sync.Mutex
	urls   []string
	bodies []string

	// block, if set, is waited on before answering.
	block   chan struct{}
	started chan struct{}

	body string
}

func (f *fakeFetcher) Post(ctx context.Context, u *url.URL, body []byte, headers map[string]string) (*sender.Response, error) {
	f.m.Lock()
	f.urls = append(f.urls, u.String())
	f.bodies = append(f.bodies, string(body))
	f.m.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return &sender.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(f.body)}, nil
}

func mustParse(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func TestCheckForUpdates(t *testing.T) {
	t.Parallel()

	Convey("With a checker", t, func() {
		ctx := context.Background()
		fetcher := &fakeFetcher{body: jebgResponse}
		store := &prefs.MemStore{}
		c := &Checker{
			Sender: &sender.Sender{Fetcher: fetcher},
			Params: protocol.RequestParams{
				ProdID:         "fake_prodid",
				BrowserVersion: "30.0",
				Channel:        "stable",
				Lang:           "en",
				OSLongName:     "Linux",
				Platform:       "Linux",
				Arch:           "x64",
			},
			URLs:      []*url.URL{mustParse("http://localhost/update2"), mustParse("https://localhost/update2")},
			Persisted: prefs.NewPersistedData(store),
		}
		item := Item{
			ID:                  "jebgalgnebhfojomionfpkfelancnnkf",
			Version:             version.MustParse("0.9"),
			Fingerprint:         "fp1",
			Brand:               "TEST",
			InstallerAttributes: map[string]string{"ap": "canary", "b@d": "x"},
		}

		Convey("Builds the request and parses the response", func() {
			res, ra, err := c.CheckForUpdates(ctx, []Item{item}, `testrequest="1"`, true)
			So(err, ShouldBeNil)
			So(ra, ShouldEqual, -1)
			So(res.List, ShouldHaveLength, 1)
			So(res.List[0].Manifest.Version, ShouldEqual, "1.0")

			So(fetcher.urls, ShouldResemble, []string{"http://localhost/update2"})
			body := fetcher.bodies[0]
			So(body, ShouldContainSubstring, `testrequest="1"`)
			So(body, ShouldContainSubstring,
				`<app appid="jebgalgnebhfojomionfpkfelancnnkf" version="0.9" brand="TEST" ap="canary">`)
			So(body, ShouldNotContainSubstring, "b@d")
			So(body, ShouldNotContainSubstring, "updatedisabled")
			So(body, ShouldNotContainSubstring, "installsource")
			So(body, ShouldContainSubstring, `<ping rd="-1">`)
			So(body, ShouldContainSubstring, `<package fp="fp1">`)

			Convey("Persists the roll call date", func() {
				pd := prefs.NewPersistedData(store)
				So(pd.DateLastRollCall(item.ID), ShouldEqual, 3383)
				So(pd.PingFreshness(item.ID), ShouldNotBeEmpty)

				_, _, err := c.CheckForUpdates(ctx, []Item{item}, "", true)
				So(err, ShouldBeNil)
				So(fetcher.bodies[1], ShouldContainSubstring, `<ping rd="3383" ping_freshness="{`)
			})
		})

		Convey("On demand with updates disabled", func() {
			item.OnDemand = true
			item.Brand = "TOO_LONG"
			_, _, err := c.CheckForUpdates(ctx, []Item{item}, "", false)
			So(err, ShouldBeNil)
			body := fetcher.bodies[0]
			So(body, ShouldContainSubstring, `installsource="ondemand"`)
			So(body, ShouldContainSubstring, `<updatecheck updatedisabled="true">`)
			So(body, ShouldNotContainSubstring, "TOO_LONG")
		})

		Convey("Encryption strips insecure urls", func() {
			item.RequiresNetworkEncryption = true
			_, _, err := c.CheckForUpdates(ctx, []Item{item}, "", true)
			So(err, ShouldBeNil)
			So(fetcher.urls, ShouldResemble, []string{"https://localhost/update2"})

			Convey("Down to nothing", func() {
				c.URLs = c.URLs[:1]
				_, _, err := c.CheckForUpdates(ctx, []Item{item}, "", true)
				So(sender.Code(err), ShouldEqual, sender.ErrorNoURL)
			})
		})

		Convey("Parse errors have their own code", func() {
			fetcher.body = "<html>oops</html>"
			_, _, err := c.CheckForUpdates(ctx, []Item{item}, "", true)
			So(sender.Code(err), ShouldEqual, ErrorParse)
			So(prefs.NewPersistedData(store).DateLastRollCall(item.ID), ShouldEqual, prefs.DateFirstTime)
		})

		Convey("Bad extra attributes", func() {
			_, _, err := c.CheckForUpdates(ctx, []Item{item}, `not an attribute`, true)
			So(err, ShouldNotBeNil)
			So(fetcher.urls, ShouldBeEmpty)
		})

		Convey("Concurrent checks panic", func() {
			fetcher.block = make(chan struct{})
			fetcher.started = make(chan struct{})
			done := make(chan error)
			go func() {
				_, _, err := c.CheckForUpdates(ctx, []Item{item}, "", true)
				done <- err
			}()
			<-fetcher.started
			So(func() { c.CheckForUpdates(ctx, []Item{item}, "", true) }, ShouldPanic)
			close(fetcher.block)
			So(<-done, ShouldBeNil)
		})
	})
}
