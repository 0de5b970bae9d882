// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config implements a file-backed updateclient.Configurator.
//
// A config file is YAML (.yaml, .yml) or TOML (.toml):
//
//	update_urls:
//	  - https://update.example.com/service/update2
//	prod_id: chrome
//	browser_version: 72.0.3626.0
//	next_check_delay: 5h
//	enable_deltas: true
package config

import (
	"bytes"
	"encoding/base64"
	"io/ioutil"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"

	"go.chromium.org/luci/common/errors"

	"infra/libs/updateclient/prefs"
	"infra/libs/updateclient/protocol"
	"infra/libs/updateclient/sender"
	"infra/libs/updateclient/version"
)

// Default update server URLs.
const (
	DefaultUpdateURL    = "https://clients2.google.com/service/update2"
	DefaultUpdateURLAlt = "http://clients2.google.com/service/update2"
)

// Duration is a time.Duration written as "1h30m" in config files.
type Duration time.Duration

// UnmarshalText is used by TOML.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return errors.Annotate(err, "bad duration %q", string(b)).Err()
	}
	*d = Duration(v)
	return nil
}

// UnmarshalYAML is used by YAML.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// File is the on-disk layout. Zero values mean "use the default".
type File struct {
	InitialDelay   *Duration `yaml:"initial_delay" toml:"initial_delay"`
	NextCheckDelay *Duration `yaml:"next_check_delay" toml:"next_check_delay"`
	StepDelay      *Duration `yaml:"step_delay" toml:"step_delay"`
	OnDemandDelay  *Duration `yaml:"on_demand_delay" toml:"on_demand_delay"`
	UpdateDelay    *Duration `yaml:"update_delay" toml:"update_delay"`

	UpdateURLs []string `yaml:"update_urls" toml:"update_urls"`
	PingURLs   []string `yaml:"ping_urls" toml:"ping_urls"`

	ProdID             string `yaml:"prod_id" toml:"prod_id"`
	BrowserVersion     string `yaml:"browser_version" toml:"browser_version"`
	Channel            string `yaml:"channel" toml:"channel"`
	Lang               string `yaml:"lang" toml:"lang"`
	OSLongName         string `yaml:"os_long_name" toml:"os_long_name"`
	ExtraRequestParams string `yaml:"extra_request_params" toml:"extra_request_params"`
	DownloadPreference string `yaml:"download_preference" toml:"download_preference"`

	EnableDeltas               *bool `yaml:"enable_deltas" toml:"enable_deltas"`
	EnableBackgroundDownloader *bool `yaml:"enable_background_downloader" toml:"enable_background_downloader"`
	EnableComponentUpdates     *bool `yaml:"enable_component_updates" toml:"enable_component_updates"`

	// CUP signing is on when a public key is given.
	CupKeyVersion int    `yaml:"cup_key_version" toml:"cup_key_version"`
	CupPublicKey  string `yaml:"cup_public_key" toml:"cup_public_key"` // base64 DER

	// PrefsFile is where persisted data lives, in memory if empty.
	PrefsFile string `yaml:"prefs_file" toml:"prefs_file"`
}

// Config is a validated configuration.
type Config struct {
	initialDelay   time.Duration
	nextCheckDelay time.Duration
	stepDelay      time.Duration
	onDemandDelay  time.Duration
	updateDelay    time.Duration

	updateURLs []*url.URL
	pingURLs   []*url.URL

	params             protocol.RequestParams
	browserVersion     version.Version
	extraRequestParams string

	deltas     bool
	background bool
	updates    bool
	cup        *sender.CUP

	store prefs.Store
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := New(&File{})
	if err != nil {
		panic(err) // defaults are valid
	}
	return cfg
}

// Load reads and validates a config file. The format is picked by the file
// extension.
func Load(path string) (*Config, error) {
	blob, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read config").Err()
	}
	f, err := Parse(blob, filepath.Ext(path))
	if err != nil {
		return nil, errors.Annotate(err, "bad config %s", path).Err()
	}
	if f.PrefsFile != "" && !filepath.IsAbs(f.PrefsFile) {
		f.PrefsFile = filepath.Join(filepath.Dir(path), f.PrefsFile)
	}
	return New(f)
}

// Parse decodes a config file body. Unknown fields are errors.
func Parse(blob []byte, ext string) (*File, error) {
	f := &File{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(blob, f); err != nil {
			return nil, errors.Annotate(err, "failed to parse YAML").Err()
		}
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(blob))
		dec.DisallowUnknownFields()
		if err := dec.Decode(f); err != nil {
			return nil, errors.Annotate(err, "failed to parse TOML").Err()
		}
	default:
		return nil, errors.Reason("unsupported config format %q", ext).Err()
	}
	return f, nil
}

// New validates f and fills in defaults.
func New(f *File) (*Config, error) {
	var merr errors.MultiError

	dur := func(name string, d *Duration, def time.Duration) time.Duration {
		if d == nil {
			return def
		}
		if *d < 0 {
			merr = append(merr, errors.Reason("%s must not be negative", name).Err())
			return def
		}
		return time.Duration(*d)
	}
	urls := func(name string, in []string, def []*url.URL) []*url.URL {
		if len(in) == 0 {
			return def
		}
		out := make([]*url.URL, 0, len(in))
		for _, s := range in {
			u, err := url.Parse(s)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				merr = append(merr, errors.Reason("%s: %q is not an http(s) URL", name, s).Err())
				continue
			}
			out = append(out, u)
		}
		return out
	}
	flag := func(b *bool, def bool) bool {
		if b == nil {
			return def
		}
		return *b
	}
	or := func(s, def string) string {
		if s == "" {
			return def
		}
		return s
	}

	cfg := &Config{
		initialDelay:   dur("initial_delay", f.InitialDelay, 6*time.Minute),
		nextCheckDelay: dur("next_check_delay", f.NextCheckDelay, 5*time.Hour),
		stepDelay:      dur("step_delay", f.StepDelay, time.Second),
		onDemandDelay:  dur("on_demand_delay", f.OnDemandDelay, 30*time.Minute),
		updateDelay:    dur("update_delay", f.UpdateDelay, 15*time.Minute),

		extraRequestParams: f.ExtraRequestParams,

		deltas:     flag(f.EnableDeltas, true),
		background: flag(f.EnableBackgroundDownloader, true),
		updates:    flag(f.EnableComponentUpdates, true),
	}

	cfg.updateURLs = urls("update_urls", f.UpdateURLs, []*url.URL{
		mustURL(DefaultUpdateURL),
		mustURL(DefaultUpdateURLAlt),
	})
	cfg.pingURLs = urls("ping_urls", f.PingURLs, cfg.updateURLs)

	bv, err := version.Parse(or(f.BrowserVersion, "1.0.0.0"))
	if err != nil {
		merr = append(merr, errors.Annotate(err, "browser_version").Err())
	}
	cfg.browserVersion = bv

	cfg.params = protocol.RequestParams{
		ProdID:             or(f.ProdID, "chrome"),
		BrowserVersion:     bv.String(),
		Channel:            f.Channel,
		Lang:               or(f.Lang, "en-US"),
		OSLongName:         or(f.OSLongName, osLongName()),
		Platform:           platform(),
		Arch:               arch(),
		DownloadPreference: f.DownloadPreference,
	}

	if f.CupPublicKey != "" {
		der, err := base64.StdEncoding.DecodeString(f.CupPublicKey)
		if err != nil {
			merr = append(merr, errors.Annotate(err, "cup_public_key is not base64").Err())
		} else if cfg.cup, err = sender.NewCUP(f.CupKeyVersion, der); err != nil {
			merr = append(merr, errors.Annotate(err, "cup_public_key").Err())
		}
	}

	if f.PrefsFile == "" {
		cfg.store = &prefs.MemStore{}
	} else if cfg.store, err = prefs.OpenFileStore(f.PrefsFile); err != nil {
		merr = append(merr, err)
	}

	if len(merr) != 0 {
		return nil, merr
	}
	return cfg, nil
}

func mustURL(s string) *url.URL {
	u, err := url.Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

// InitialDelay is the delay before the first background check.
func (c *Config) InitialDelay() time.Duration { return c.initialDelay }

// NextCheckDelay is the delay between background checks.
func (c *Config) NextCheckDelay() time.Duration { return c.nextCheckDelay }

// StepDelay separates the download and the install steps.
func (c *Config) StepDelay() time.Duration { return c.stepDelay }

// OnDemandDelay is the cooldown between on-demand checks of one component.
func (c *Config) OnDemandDelay() time.Duration { return c.onDemandDelay }

// UpdateDelay separates installs of successive components of one update.
func (c *Config) UpdateDelay() time.Duration { return c.updateDelay }

// UpdateURLs are the update check endpoints, tried in order.
func (c *Config) UpdateURLs() []*url.URL { return c.updateURLs }

// PingURLs are the ping endpoints.
func (c *Config) PingURLs() []*url.URL { return c.pingURLs }

// RequestParams are the request attributes shared by checks and pings.
func (c *Config) RequestParams() protocol.RequestParams { return c.params }

// BrowserVersion is compared to the prodversionmin of update responses.
func (c *Config) BrowserVersion() version.Version { return c.browserVersion }

// ExtraRequestParams are extra attributes of every update check request.
func (c *Config) ExtraRequestParams() string { return c.extraRequestParams }

// EnabledDeltas tells if differential updates may be tried.
func (c *Config) EnabledDeltas() bool { return c.deltas }

// EnabledBackgroundDownloader tells if the background downloader may be used.
func (c *Config) EnabledBackgroundDownloader() bool { return c.background }

// EnabledComponentUpdates is false when updates are disabled by policy.
func (c *Config) EnabledComponentUpdates() bool { return c.updates }

// CUP returns the request signer, nil if signing is off.
func (c *Config) CUP() *sender.CUP { return c.cup }

// PrefStore is where persisted data lives.
func (c *Config) PrefStore() prefs.Store { return c.store }

func osLongName() string {
	switch runtime.GOOS {
	case "darwin":
		return "Mac OS X"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	default:
		return runtime.GOOS
	}
}

func platform() string {
	switch runtime.GOOS {
	case "darwin":
		return "mac"
	case "windows":
		return "win"
	default:
		return runtime.GOOS
	}
}

func arch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "386":
		return "x86"
	default:
		return runtime.GOARCH
	}
}
