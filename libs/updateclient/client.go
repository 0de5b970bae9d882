// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"context"
	"net/http"
	"sync"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/logging"

	"infra/libs/updateclient/download"
	"infra/libs/updateclient/ping"
	"infra/libs/updateclient/prefs"
	"infra/libs/updateclient/sender"
	"infra/libs/updateclient/unpack"
)

// Options tune a Client. The zero value is good for production.
type Options struct {
	// Fetcher posts update checks and pings, an HTTPFetcher if nil.
	Fetcher sender.Fetcher
	// NewDownloader returns the downloader of a package, download.New if nil.
	NewDownloader func(background bool) download.Downloader
	// DiffApplier applies binary patches, unpack.DefaultDiffApplier if nil.
	DiffApplier unpack.DiffApplier
	// TempDir is where downloads and unpacked packages go.
	TempDir string
	// Workers is the size of the blocking pool.
	Workers int
}

// Client is the entry point of the update machinery.
//
// Update calls run one batch at a time, in order. Install calls run right
// away, concurrently with everything else. Callbacks and observers are called
// on the client's main sequence, one at a time. They must not block.
type Client struct {
	seq    *sequence
	pool   *pool
	engine *engine
	pinger *ping.Pinger

	// Owned by the main sequence.
	running  map[*task]struct{}
	queued   []*task
	updating stringset.Set
	stopped  bool

	m         sync.Mutex
	observers []Observer
	states    map[string]CrxUpdateItem
}

// NewClient starts a client. Close it when done.
func NewClient(cfg Configurator, opts Options) *Client {
	if opts.Fetcher == nil {
		opts.Fetcher = &sender.HTTPFetcher{Client: http.DefaultClient}
	}
	if opts.NewDownloader == nil {
		direct := &download.Direct{Client: http.DefaultClient, TempDir: opts.TempDir}
		opts.NewDownloader = func(background bool) download.Downloader {
			return download.New(background, direct)
		}
	}
	if opts.DiffApplier == nil {
		opts.DiffApplier = unpack.DefaultDiffApplier{}
	}

	s := &sender.Sender{Fetcher: opts.Fetcher, CUP: cfg.CUP()}
	c := &Client{
		seq:  newSequence(),
		pool: newPool(opts.Workers),
		pinger: &ping.Pinger{
			Sender: s,
			Params: cfg.RequestParams(),
			URLs:   cfg.PingURLs(),
		},
		running:  map[*task]struct{}{},
		updating: stringset.New(0),
		states:   map[string]CrxUpdateItem{},
	}
	c.engine = &engine{
		config:        cfg,
		seq:           c.seq,
		pool:          c.pool,
		sender:        s,
		persisted:     prefs.NewPersistedData(cfg.PrefStore()),
		pinger:        c.pinger,
		newDownloader: opts.NewDownloader,
		applier:       opts.DiffApplier,
		tempDir:       opts.TempDir,
		notify:        c.notify,
		contexts:      map[*updateContext]struct{}{},
	}
	return c
}

// Close waits for work in flight and pings, then stops the client. Callbacks
// of updates still waiting on timers are dropped.
func (c *Client) Close() {
	c.pool.close()
	c.seq.close()
	c.pinger.Wait()
}

// Install updates one component now, on demand. It fails with
// ErrorUpdateInProgress if the component is being updated.
func (c *Client) Install(ctx context.Context, id string, dataFn CrxDataFunc, cb Callback) {
	c.seq.post(func() {
		if c.updating.Has(id) {
			logging.Warningf(ctx, "%s is already being updated", id)
			cb(ErrorUpdateInProgress)
			return
		}
		c.runTask(&task{ctx: ctx, foreground: true, ids: []string{id}, dataFn: dataFn, callback: cb})
	})
}

// Update updates components in the background. It runs when no other task
// runs, after the Update calls issued before it.
func (c *Client) Update(ctx context.Context, ids []string, dataFn CrxDataFunc, cb Callback) {
	c.seq.post(func() {
		t := &task{ctx: ctx, ids: ids, dataFn: dataFn, callback: cb}
		if len(c.running) == 0 {
			c.runTask(t)
		} else {
			c.queued = append(c.queued, t)
		}
	})
}

// Stop cancels queued Update calls, along with those queued behind the
// tasks running at that time. Running ones finish normally. Update calls made
// once nothing runs are served as usual.
func (c *Client) Stop() {
	c.seq.post(func() {
		c.stopped = len(c.running) != 0
		queued := c.queued
		c.queued = nil
		for _, t := range queued {
			t.cancel()
		}
	})
}

// IsUpdating tells if a task holds id. The answer may be stale by the time it
// is returned.
func (c *Client) IsUpdating(id string) bool {
	res := make(chan bool, 1)
	c.seq.post(func() { res <- c.updating.Has(id) })
	return <-res
}

// GetCrxUpdateState returns the latest state of id.
func (c *Client) GetCrxUpdateState(id string) (CrxUpdateItem, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	it, ok := c.states[id]
	return it, ok
}

// AddObserver subscribes o to events.
func (c *Client) AddObserver(o Observer) {
	c.m.Lock()
	defer c.m.Unlock()
	c.observers = append(c.observers, o)
}

// RemoveObserver unsubscribes o.
func (c *Client) RemoveObserver(o Observer) {
	c.m.Lock()
	defer c.m.Unlock()
	for i, x := range c.observers {
		if x == o {
			c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
			return
		}
	}
}

// SendUninstallPing reports that a component was removed.
func (c *Client) SendUninstallPing(ctx context.Context, id, version string, reason int, cb Callback) {
	c.pinger.SendUninstall(ctx, ping.Uninstall{ID: id, Version: version, Reason: reason})
	c.m.Lock()
	it := c.states[id]
	it.ID = id
	it.State = StateUninstalled
	it.PreviousVersion = version
	c.states[id] = it
	c.m.Unlock()
	c.seq.post(func() { cb(ErrorNone) })
}

func (c *Client) runTask(t *task) {
	c.running[t] = struct{}{}
	c.updating.AddAll(t.ids)
	t.run(c.engine, c.taskDone)
}

func (c *Client) taskDone(t *task, err Error) {
	delete(c.running, t)
	for _, id := range t.ids {
		c.updating.Del(id)
	}
	t.callback(err)

	if len(c.running) != 0 {
		return
	}
	if c.stopped {
		// Queued behind a task that was running when Stop was called.
		c.stopped = false
		queued := c.queued
		c.queued = nil
		for _, q := range queued {
			q.cancel()
		}
		return
	}
	if len(c.queued) == 0 {
		return
	}
	next := c.queued[0]
	c.queued[0] = nil
	c.queued = c.queued[1:]
	c.runTask(next)
}

func (c *Client) notify(ev Event, it CrxUpdateItem) {
	c.m.Lock()
	c.states[it.ID] = it
	observers := append([]Observer(nil), c.observers...)
	c.m.Unlock()
	for _, o := range observers {
		o.OnEvent(ev, it.ID)
	}
}
