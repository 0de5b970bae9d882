// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package fakeserver implements an in-process update server for tests.
//
// It answers update checks about the apps it knows, serves packages and
// records pings.
package fakeserver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"

	"github.com/julienschmidt/httprouter"

	"infra/libs/updateclient/protocol"
)

// Paths served.
const (
	UpdatePath = "/service/update2"
	PingPath   = "/service/ping"
	CrxPath    = "/crx/"
	DiffPath   = "/diff/"
)

// App is what the server knows about a component.
type App struct {
	ID string
	// Status is the updatecheck status, "ok" if empty.
	Status         string
	Version        string
	ProdVersionMin string

	// Package and DiffPackage are file names added with AddFile.
	Package     string
	DiffPackage string
	Fingerprint string
}

// Server is a fake update server. Use New.
type Server struct {
	srv *httptest.Server

	m          sync.Mutex
	apps       []App
	files      map[string][]byte
	failures   map[string]int
	retryAfter int
	checks     []*protocol.Request
	pings      []*protocol.Request
	downloads  []string
}

// New starts a TLS server.
func New() *Server {
	s := &Server{
		files:      map[string][]byte{},
		failures:   map[string]int{},
		retryAfter: -1,
	}
	r := httprouter.New()
	r.POST(UpdatePath, s.handleUpdate)
	r.POST(PingPath, s.handlePing)
	r.GET(CrxPath+":name", s.handleCrx)
	r.GET(DiffPath+":name", s.handleCrx)
	s.srv = httptest.NewTLSServer(r)
	return s
}

// Close stops the server.
func (s *Server) Close() {
	s.srv.Close()
}

// Client is an HTTP client trusting the server.
func (s *Server) Client() *http.Client {
	return s.srv.Client()
}

// URL returns the URL of a path on the server.
func (s *Server) URL(path string) *url.URL {
	u, err := url.Parse(s.srv.URL + path)
	if err != nil {
		panic(err)
	}
	return u
}

// AddFile makes a package downloadable. Returns its SHA-256.
func (s *Server) AddFile(name string, data []byte) string {
	s.m.Lock()
	defer s.m.Unlock()
	s.files[name] = data
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// FailDownloads makes downloads of name answer with an HTTP status.
func (s *Server) FailDownloads(name string, status int) {
	s.m.Lock()
	defer s.m.Unlock()
	s.failures[name] = status
}

// SetApp adds or replaces an app. Apps are answered in the order they were
// first added.
func (s *Server) SetApp(a App) {
	s.m.Lock()
	defer s.m.Unlock()
	for i := range s.apps {
		if s.apps[i].ID == a.ID {
			s.apps[i] = a
			return
		}
	}
	s.apps = append(s.apps, a)
}

// SetRetryAfter sets X-Retry-After of update responses, negative to omit it.
func (s *Server) SetRetryAfter(sec int) {
	s.m.Lock()
	defer s.m.Unlock()
	s.retryAfter = sec
}

// Checks returns the update check requests received so far.
func (s *Server) Checks() []*protocol.Request {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]*protocol.Request(nil), s.checks...)
}

// Pings returns the pings received so far.
func (s *Server) Pings() []*protocol.Request {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]*protocol.Request(nil), s.pings...)
}

// Downloads returns the names of the packages requested so far.
func (s *Server) Downloads() []string {
	s.m.Lock()
	defer s.m.Unlock()
	return append([]string(nil), s.downloads...)
}

func readRequest(r *http.Request) (*protocol.Request, error) {
	blob, err := ioutil.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	req := &protocol.Request{}
	if err := xml.Unmarshal(blob, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, err := readRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.m.Lock()
	s.checks = append(s.checks, req)
	asked := make(map[string]bool, len(req.Apps))
	for _, a := range req.Apps {
		asked[a.AppID] = true
	}
	resp := xmlResponse{Protocol: protocol.Version, DayStart: xmlDayStart{ElapsedDays: 3000}}
	for _, a := range s.apps {
		if asked[a.ID] {
			resp.Apps = append(resp.Apps, s.appResponse(a))
		}
	}
	retryAfter := s.retryAfter
	s.m.Unlock()

	if retryAfter >= 0 {
		w.Header().Set("X-Retry-After", strconv.Itoa(retryAfter))
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	xml.NewEncoder(w).Encode(&resp)
}

// appResponse is called with s.m held.
func (s *Server) appResponse(a App) xmlApp {
	status := a.Status
	if status == "" {
		status = protocol.StatusOK
	}
	uc := xmlUpdateCheck{Status: status}
	if status != protocol.StatusOK {
		return xmlApp{AppID: a.ID, UpdateCheck: uc}
	}
	uc.URLs = []xmlURL{{Codebase: s.srv.URL + CrxPath}}
	pkg := xmlPackage{Name: a.Package, FP: a.Fingerprint}
	if data, ok := s.files[a.Package]; ok {
		pkg.HashSHA256 = sha(data)
		pkg.Size = int64(len(data))
	}
	if a.DiffPackage != "" {
		uc.URLs = append(uc.URLs, xmlURL{CodebaseDiff: s.srv.URL + DiffPath})
		pkg.NameDiff = a.DiffPackage
		if data, ok := s.files[a.DiffPackage]; ok {
			pkg.HashDiffSHA256 = sha(data)
			pkg.SizeDiff = int64(len(data))
		} else {
			pkg.HashDiffSHA256 = sha(nil)
		}
	}
	uc.Manifest = &xmlManifest{
		Version:        a.Version,
		ProdVersionMin: a.ProdVersionMin,
		Packages:       xmlPackages{Package: []xmlPackage{pkg}},
	}
	return xmlApp{AppID: a.ID, UpdateCheck: uc}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req, err := readRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.m.Lock()
	s.pings = append(s.pings, req)
	s.m.Unlock()
	w.Write([]byte(xml.Header + `<response protocol="3.0"/>`))
}

func (s *Server) handleCrx(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	name := p.ByName("name")
	s.m.Lock()
	s.downloads = append(s.downloads, name)
	status := s.failures[name]
	data, ok := s.files[name]
	s.m.Unlock()

	switch {
	case status != 0:
		http.Error(w, "injected failure", status)
	case !ok:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

func sha(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

type xmlResponse struct {
	XMLName  xml.Name    `xml:"response"`
	Protocol string      `xml:"protocol,attr"`
	Server   string      `xml:"server,attr,omitempty"`
	DayStart xmlDayStart `xml:"daystart"`
	Apps     []xmlApp    `xml:"app"`
}

type xmlDayStart struct {
	ElapsedDays int `xml:"elapsed_days,attr"`
}

type xmlApp struct {
	AppID       string         `xml:"appid,attr"`
	UpdateCheck xmlUpdateCheck `xml:"updatecheck"`
}

type xmlUpdateCheck struct {
	Status   string       `xml:"status,attr"`
	URLs     []xmlURL     `xml:"urls>url"`
	Manifest *xmlManifest `xml:"manifest"`
}

type xmlURL struct {
	Codebase     string `xml:"codebase,attr,omitempty"`
	CodebaseDiff string `xml:"codebasediff,attr,omitempty"`
}

type xmlManifest struct {
	Version        string      `xml:"version,attr"`
	ProdVersionMin string      `xml:"prodversionmin,attr,omitempty"`
	Packages       xmlPackages `xml:"packages"`
}

type xmlPackages struct {
	Package []xmlPackage `xml:"package"`
}

type xmlPackage struct {
	Name           string `xml:"name,attr"`
	NameDiff       string `xml:"namediff,attr,omitempty"`
	HashSHA256     string `xml:"hash_sha256,attr,omitempty"`
	HashDiffSHA256 string `xml:"hashdiff_sha256,attr,omitempty"`
	FP             string `xml:"fp,attr,omitempty"`
	Size           int64  `xml:"size,attr,omitempty"`
	SizeDiff       int64  `xml:"sizediff,attr,omitempty"`
}
