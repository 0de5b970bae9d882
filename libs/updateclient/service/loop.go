// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package service

import (
	"context"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
)

// LoopTimerTag tags the timer of the periodic check loop.
const LoopTimerTag = "updateclient-service-loop"

var (
	cycles = metric.NewCounter("chrome/infra/updateclient/service/cycles",
		"Number of periodic update cycles, by outcome.",
		nil,
		field.String("outcome"))
	overruns = metric.NewCounter("chrome/infra/updateclient/service/overruns",
		"Number of update cycles that took longer than the check interval.",
		nil)
)

// loopStats is what a loop did before its context ended.
type loopStats struct {
	Cycles   int
	Errors   int
	Overruns int
}

// loop runs f once first elapses, then again each time cycle elapses after the
// previous run returned, until ctx is done.
func loop(ctx context.Context, first, cycle time.Duration, f func(context.Context) error) loopStats {
	var st loopStats

	tmr := clock.NewTimer(clock.Tag(ctx, LoopTimerTag))
	defer tmr.Stop()

	next := first
	for {
		tmr.Reset(next)
		select {
		case <-ctx.Done():
			return st
		case <-tmr.GetC():
		}
		if ctx.Err() != nil {
			return st
		}

		start := clock.Now(ctx)
		err := f(ctx)
		took := clock.Now(ctx).Sub(start)
		st.Cycles++

		outcome := "success"
		if err != nil {
			st.Errors++
			outcome = "failure"
			logging.WithError(err).Warningf(ctx, "Update cycle %d failed", st.Cycles)
		}
		cycles.Add(ctx, 1, outcome)
		if took > cycle {
			st.Overruns++
			overruns.Add(ctx, 1)
			logging.Warningf(ctx, "Update cycle %d took %s, longer than the %s interval", st.Cycles, took, cycle)
		}
		next = cycle
	}
}
