// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package protocol

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/url"

	"go.chromium.org/luci/common/errors"

	"infra/libs/updateclient/version"
)

// NoDaystart is used when the response didn't carry a <daystart> element.
const NoDaystart = -1

// Status values of an app's <updatecheck>.
const (
	StatusOK       = "ok"
	StatusNoUpdate = "noupdate"
)

// Results is a parsed update check response.
type Results struct {
	DaystartElapsedSeconds int
	DaystartElapsedDays    int
	List                   []Result

	// Errors lists apps that were skipped because they were malformed.
	Errors []string
}

// Result is the server's answer for one app.
type Result struct {
	ExtensionID string
	Status      string
	CrxURLs     []*url.URL
	CrxDiffURLs []*url.URL
	Manifest    Manifest
}

// Manifest is the <manifest> of an app that has an update.
type Manifest struct {
	Version           string
	BrowserMinVersion string
	Packages          []PackageResult
}

// PackageResult describes one downloadable package.
type PackageResult struct {
	Name           string
	NameDiff       string
	HashSHA256     string
	HashDiffSHA256 string
	Fingerprint    string
	Size           int64
	SizeDiff       int64
}

// Find returns the result for the given id or nil.
func (r *Results) Find(id string) *Result {
	if r == nil {
		return nil
	}
	for i := range r.List {
		if r.List[i].ExtensionID == id {
			return &r.List[i]
		}
	}
	return nil
}

type xmlResponse struct {
	XMLName  xml.Name     `xml:"response"`
	Protocol string       `xml:"protocol,attr"`
	DayStart *xmlDayStart `xml:"daystart"`
	Apps     []xmlApp     `xml:"app"`
}

type xmlDayStart struct {
	ElapsedSeconds *int `xml:"elapsed_seconds,attr"`
	ElapsedDays    *int `xml:"elapsed_days,attr"`
}

type xmlApp struct {
	AppID       string           `xml:"appid,attr"`
	Status      string           `xml:"status,attr"`
	UpdateCheck []xmlUpdateCheck `xml:"updatecheck"`
}

type xmlUpdateCheck struct {
	Status   string       `xml:"status,attr"`
	URLs     []xmlURL     `xml:"urls>url"`
	Manifest *xmlManifest `xml:"manifest"`
}

type xmlURL struct {
	Codebase     string `xml:"codebase,attr"`
	CodebaseDiff string `xml:"codebasediff,attr"`
}

type xmlManifest struct {
	Version        string       `xml:"version,attr"`
	ProdVersionMin string       `xml:"prodversionmin,attr"`
	Packages       *xmlPackages `xml:"packages"`
}

type xmlPackages struct {
	Package []xmlPackage `xml:"package"`
}

type xmlPackage struct {
	Name           string `xml:"name,attr"`
	NameDiff       string `xml:"namediff,attr"`
	HashSHA256     string `xml:"hash_sha256,attr"`
	HashDiffSHA256 string `xml:"hashdiff_sha256,attr"`
	FP             string `xml:"fp,attr"`
	Size           int64  `xml:"size,attr"`
	SizeDiff       int64  `xml:"sizediff,attr"`
}

// ParseResponse parses an update check response.
//
// Structural problems (not XML, wrong root, wrong protocol) fail the whole
// parse. A malformed <app> is skipped and noted in Results.Errors.
func ParseResponse(blob []byte) (*Results, error) {
	var resp xmlResponse
	dec := xml.NewDecoder(bytes.NewReader(blob))
	if err := dec.Decode(&resp); err != nil {
		return nil, errors.Annotate(err, "failed to parse update response").Err()
	}
	if resp.Protocol != Version {
		return nil, errors.Reason("missing or incorrect protocol %q", resp.Protocol).Err()
	}

	res := &Results{
		DaystartElapsedSeconds: NoDaystart,
		DaystartElapsedDays:    NoDaystart,
	}
	if ds := resp.DayStart; ds != nil {
		if ds.ElapsedSeconds != nil {
			res.DaystartElapsedSeconds = *ds.ElapsedSeconds
		}
		if ds.ElapsedDays != nil {
			res.DaystartElapsedDays = *ds.ElapsedDays
		}
	}

	for _, app := range resp.Apps {
		r, err := parseApp(&app)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.List = append(res.List, r)
	}
	return res, nil
}

func parseApp(app *xmlApp) (Result, error) {
	r := Result{ExtensionID: app.AppID}
	if r.ExtensionID == "" {
		return r, errors.Reason("missing appid on app node").Err()
	}
	if len(app.UpdateCheck) != 1 {
		return r, errors.Reason("app %s: expected one updatecheck, got %d", r.ExtensionID, len(app.UpdateCheck)).Err()
	}
	uc := &app.UpdateCheck[0]
	r.Status = uc.Status

	switch r.Status {
	case StatusNoUpdate:
		return r, nil
	case StatusOK:
	default:
		// Server side errors like "error-unknownApplication". No manifest means
		// the engine treats the app as having no update.
		return r, nil
	}

	for _, u := range uc.URLs {
		if u.Codebase != "" {
			if parsed, err := parseCodebase(u.Codebase); err == nil {
				r.CrxURLs = append(r.CrxURLs, parsed)
			}
		}
		if u.CodebaseDiff != "" {
			if parsed, err := parseCodebase(u.CodebaseDiff); err == nil {
				r.CrxDiffURLs = append(r.CrxDiffURLs, parsed)
			}
		}
	}
	if len(r.CrxURLs) == 0 {
		return r, errors.Reason("app %s: missing valid url", r.ExtensionID).Err()
	}

	if uc.Manifest == nil {
		return r, errors.Reason("app %s: missing manifest", r.ExtensionID).Err()
	}
	m, err := parseManifest(uc.Manifest)
	if err != nil {
		return r, errors.Annotate(err, "app %s", r.ExtensionID).Err()
	}
	r.Manifest = m
	return r, nil
}

func parseCodebase(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("not an http(s) url: %q", s)
	}
	return u, nil
}

func parseManifest(m *xmlManifest) (Manifest, error) {
	out := Manifest{
		Version:           m.Version,
		BrowserMinVersion: m.ProdVersionMin,
	}
	if out.Version == "" {
		return out, errors.Reason("missing version for manifest").Err()
	}
	if _, err := version.Parse(out.Version); err != nil {
		return out, errors.Reason("invalid version %q", out.Version).Err()
	}
	if out.BrowserMinVersion != "" {
		if _, err := version.Parse(out.BrowserMinVersion); err != nil {
			return out, errors.Reason("invalid prodversionmin %q", out.BrowserMinVersion).Err()
		}
	}
	if m.Packages == nil || len(m.Packages.Package) == 0 {
		return out, errors.Reason("missing packages in manifest").Err()
	}
	for _, p := range m.Packages.Package {
		if p.Name == "" {
			return out, errors.Reason("missing name for package").Err()
		}
		out.Packages = append(out.Packages, PackageResult{
			Name:           p.Name,
			NameDiff:       p.NameDiff,
			HashSHA256:     p.HashSHA256,
			HashDiffSHA256: p.HashDiffSHA256,
			Fingerprint:    p.FP,
			Size:           p.Size,
			SizeDiff:       p.SizeDiff,
		})
	}
	return out, nil
}

// ResolveURLs joins a package file name to each base url. Names carrying
// their own scheme or host resolve to nothing.
func ResolveURLs(bases []*url.URL, name string) []*url.URL {
	if name == "" {
		return nil
	}
	ref, err := url.Parse(name)
	if err != nil || ref.Scheme != "" || ref.Host != "" || ref.Opaque != "" {
		return nil
	}
	out := make([]*url.URL, 0, len(bases))
	for _, b := range bases {
		out = append(out, b.ResolveReference(ref))
	}
	return out
}
