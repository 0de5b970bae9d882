// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"context"
)

// task is one Update or Install call.
type task struct {
	ctx        context.Context
	foreground bool
	ids        []string
	dataFn     CrxDataFunc
	callback   Callback
}

// run hands the task to the engine. done is called on the main sequence.
func (t *task) run(e *engine, done func(t *task, err Error)) {
	e.update(t.ctx, t.foreground, t.ids, t.dataFn, func(err Error) { done(t, err) })
}

// cancel completes a task that never ran.
func (t *task) cancel() {
	t.callback(ErrorUpdateCanceled)
}
