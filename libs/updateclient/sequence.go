// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"context"
	"sync"
	"time"

	"go.chromium.org/luci/common/clock"
)

// sequence runs posted closures one at a time, in order, on one goroutine.
//
// All state of the engine and the client is owned by the main sequence.
type sequence struct {
	m      sync.Mutex
	tasks  []func()
	closed bool

	wake chan struct{}
	done chan struct{}

	// stop is closed by close to release pending delayed posts.
	stop   chan struct{}
	timers sync.WaitGroup
}

func newSequence() *sequence {
	s := &sequence{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go s.loop()
	return s
}

// post queues f. Posts after close are dropped.
func (s *sequence) post(f func()) {
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.tasks = append(s.tasks, f)
	s.m.Unlock()
	s.signal()
}

// postDelayed queues f after d. The timer stops early if ctx is canceled.
// Pending delayed posts are dropped by close.
func (s *sequence) postDelayed(ctx context.Context, d time.Duration, f func()) {
	if d <= 0 {
		s.post(f)
		return
	}
	s.m.Lock()
	if s.closed {
		s.m.Unlock()
		return
	}
	s.timers.Add(1)
	s.m.Unlock()

	go func() {
		defer s.timers.Done()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		select {
		case <-clock.After(ctx, d):
			s.post(f)
		case <-s.stop:
		}
	}()
}

// close runs what is already queued, stops the goroutine and waits for
// pending delayed posts to be released.
func (s *sequence) close() {
	s.m.Lock()
	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	s.m.Unlock()
	s.signal()
	<-s.done
	s.timers.Wait()
}

func (s *sequence) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *sequence) loop() {
	defer close(s.done)
	for {
		s.m.Lock()
		if len(s.tasks) == 0 {
			closed := s.closed
			s.m.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		f := s.tasks[0]
		s.tasks[0] = nil
		s.tasks = s.tasks[1:]
		s.m.Unlock()
		f()
	}
}
