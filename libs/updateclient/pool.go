// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"sync"

	"go.chromium.org/luci/common/sync/parallel"
)

// defaultWorkers is the size of the blocking pool.
const defaultWorkers = 4

// pool runs blocking work: network, hashing, unzip, patching, install.
//
// Work never touches engine state directly, it posts results back to the
// main sequence.
type pool struct {
	work    chan func()
	pending sync.WaitGroup
	done    chan struct{}

	m      sync.Mutex
	closed bool
}

func newPool(workers int) *pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	p := &pool{
		work: make(chan func()),
		done: make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		parallel.WorkPool(workers, func(tasks chan<- func() error) {
			for f := range p.work {
				f := f
				tasks <- func() error {
					defer p.pending.Done()
					f()
					return nil
				}
			}
		})
	}()
	return p
}

// run schedules f. It never blocks the caller. Work scheduled after close is
// dropped.
func (p *pool) run(f func()) {
	p.m.Lock()
	defer p.m.Unlock()
	if p.closed {
		return
	}
	p.pending.Add(1)
	go func() { p.work <- f }()
}

// close waits for scheduled work and stops the workers.
func (p *pool) close() {
	p.m.Lock()
	p.closed = true
	p.m.Unlock()
	p.pending.Wait()
	close(p.work)
	<-p.done
}
