// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"context"
	"time"

	"infra/libs/updateclient/checker"
)

// updateContext is the state of one Update or Install call. It is owned by
// the main sequence.
type updateContext struct {
	ctx        context.Context
	config     Configurator
	foreground bool

	// ids are the requested ids, items holds one item per known id.
	ids   []string
	items map[string]*CrxUpdateItem

	// queue holds ids to install, in the order of the update response.
	queue []string

	action     action
	retryAfter int

	checker  *checker.Checker
	callback Callback
	started  time.Time
}

func (uc *updateContext) item(id string) *CrxUpdateItem {
	return uc.items[id]
}

// orderedItems returns the items in request order, each once.
func (uc *updateContext) orderedItems() []*CrxUpdateItem {
	out := make([]*CrxUpdateItem, 0, len(uc.items))
	seen := make(map[string]bool, len(uc.items))
	for _, id := range uc.ids {
		if it := uc.items[id]; it != nil && !seen[id] {
			seen[id] = true
			out = append(out, it)
		}
	}
	return out
}

// result is the aggregate error reported when the context completes.
func (uc *updateContext) result() Error {
	for _, it := range uc.items {
		if it.ErrorCategory != ErrorCategoryNone {
			return ErrorUpdateFailed
		}
	}
	return ErrorNone
}
