// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package protocol implements the XML update protocol (version 3.0): update
// check requests and responses, and ping requests.
package protocol

import (
	"bytes"
	"encoding/xml"
	"sort"

	"github.com/google/uuid"
)

// Version is the protocol version sent and expected.
const Version = "3.0"

// RequestParams describes the client sending a request.
type RequestParams struct {
	ProdID             string // e.g. "chrome"
	BrowserVersion     string // e.g. "53.0.2785.116"
	Channel            string // e.g. "stable"
	Lang               string // e.g. "en-US"
	OSLongName         string // e.g. "Linux"
	Platform           string // e.g. "Linux", goes to <os platform>
	OSVersion          string // goes to <os version>, may be empty
	Arch               string // e.g. "x64"
	DownloadPreference string // e.g. "cacheable", may be empty
	Extra              map[string]string
}

// Request is the root of every request document.
type Request struct {
	XMLName        xml.Name   `xml:"request"`
	Protocol       string     `xml:"protocol,attr"`
	Version        string     `xml:"version,attr"`
	ProdVersion    string     `xml:"prodversion,attr"`
	RequestID      string     `xml:"requestid,attr"`
	Lang           string     `xml:"lang,attr"`
	UpdaterChannel string     `xml:"updaterchannel,attr"`
	ProdChannel    string     `xml:"prodchannel,attr"`
	OSName         string     `xml:"os,attr"`
	Arch           string     `xml:"arch,attr"`
	DLPref         string     `xml:"dlpref,attr,omitempty"`
	Extra          []xml.Attr `xml:",any,attr"`
	OS             RequestOS  `xml:"os"`
	Apps           []App      `xml:"app"`
}

// RequestOS is the <os> element of a request.
type RequestOS struct {
	Platform string `xml:"platform,attr"`
	Version  string `xml:"version,attr,omitempty"`
	Arch     string `xml:"arch,attr"`
}

// App is the <app> element of update check and ping requests.
type App struct {
	AppID         string       `xml:"appid,attr"`
	Version       string       `xml:"version,attr"`
	NextVersion   string       `xml:"nextversion,attr,omitempty"`
	Brand         string       `xml:"brand,attr,omitempty"`
	InstallSource string       `xml:"installsource,attr,omitempty"`
	Attrs         []xml.Attr   `xml:",any,attr"`
	UpdateCheck   *UpdateCheck `xml:"updatecheck"`
	Ping          *Ping        `xml:"ping"`
	Packages      *Packages    `xml:"packages"`
	Events        []Event      `xml:"event"`
}

// UpdateCheck is the <updatecheck> element of a request.
type UpdateCheck struct {
	UpdateDisabled bool `xml:"updatedisabled,attr,omitempty"`
}

// Ping is the <ping> element of a request, it carries roll call bookkeeping.
type Ping struct {
	RD            int    `xml:"rd,attr"`
	PingFreshness string `xml:"ping_freshness,attr,omitempty"`
}

// Packages is the <packages> element of a request.
type Packages struct {
	Packages []Package `xml:"package"`
}

// Package is a <package> element of a request.
type Package struct {
	FP string `xml:"fp,attr"`
}

// Event types.
const (
	EventTypeUpdate    = 3
	EventTypeUninstall = 4
	EventTypeDownload  = 14
)

// Event is an <event> element of a ping.
type Event struct {
	EventType      int    `xml:"eventtype,attr"`
	EventResult    int    `xml:"eventresult,attr"`
	EventReason    int    `xml:"eventreason,attr,omitempty"`
	ErrorCat       int    `xml:"errorcat,attr,omitempty"`
	ErrorCode      int    `xml:"errorcode,attr,omitempty"`
	ExtraCode1     int    `xml:"extracode1,attr,omitempty"`
	DiffResult     *int   `xml:"diffresult,attr,omitempty"`
	DiffErrorCat   int    `xml:"differrorcat,attr,omitempty"`
	DiffErrorCode  int    `xml:"differrorcode,attr,omitempty"`
	DiffExtraCode1 int    `xml:"diffextracode1,attr,omitempty"`
	PreviousFP     string `xml:"previousfp,attr,omitempty"`
	NextFP         string `xml:"nextfp,attr,omitempty"`
	Downloader     string `xml:"downloader,attr,omitempty"`
	URL            string `xml:"url,attr,omitempty"`
	Downloaded     *int64 `xml:"downloaded,attr,omitempty"`
	Total          *int64 `xml:"total,attr,omitempty"`
	DownloadTimeMS int64  `xml:"download_time_ms,attr,omitempty"`
}

// BuildRequest serializes a request carrying the given apps.
func BuildRequest(p RequestParams, apps []App) ([]byte, error) {
	req := Request{
		Protocol:       Version,
		Version:        p.ProdID + "-" + p.BrowserVersion,
		ProdVersion:    p.BrowserVersion,
		RequestID:      "{" + uuid.New().String() + "}",
		Lang:           p.Lang,
		UpdaterChannel: p.Channel,
		ProdChannel:    p.Channel,
		OSName:         p.OSLongName,
		Arch:           p.Arch,
		DLPref:         p.DownloadPreference,
		Extra:          sortedAttrs(p.Extra),
		OS: RequestOS{
			Platform: p.Platform,
			Version:  p.OSVersion,
			Arch:     p.Arch,
		},
		Apps: apps,
	}
	buf := &bytes.Buffer{}
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(buf).Encode(&req); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sortedAttrs(m map[string]string) []xml.Attr {
	if len(m) == 0 {
		return nil
	}
	out := make([]xml.Attr, 0, len(m))
	for k, v := range m {
		out = append(out, xml.Attr{Name: xml.Name{Local: k}, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name.Local < out[j].Name.Local })
	return out
}
