// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package prefs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"go.chromium.org/luci/common/logging"
)

const (
	// DateFirstTime is returned for components that never had a roll call.
	DateFirstTime = -1
	// DateUnknown is returned when there's no store to consult.
	DateUnknown = -2
)

// PersistedData reads and writes per-component roll call bookkeeping.
type PersistedData struct {
	store Store // may be nil
}

// NewPersistedData wraps a store. A nil store is allowed, in which case
// nothing is remembered.
func NewPersistedData(store Store) *PersistedData {
	return &PersistedData{store: store}
}

func key(id, name string) string {
	return fmt.Sprintf("updateclientdata.apps.%s.%s", id, name)
}

// DateLastRollCall returns the server day number of the last successful
// update check of the component.
func (p *PersistedData) DateLastRollCall(id string) int {
	if p == nil || p.store == nil {
		return DateUnknown
	}
	v, ok := p.store.GetString(key(id, "dlrc"))
	if !ok {
		return DateFirstTime
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return DateFirstTime
	}
	return n
}

// PingFreshness returns an opaque token that changes every time the roll call
// date is updated, or "" if unknown.
func (p *PersistedData) PingFreshness(id string) string {
	if p == nil || p.store == nil {
		return ""
	}
	v, _ := p.store.GetString(key(id, "pf"))
	return v
}

// SetDateLastRollCall records the server day number for all the ids and
// regenerates their freshness tokens.
//
// Negative day numbers are ignored: the server didn't tell us the date.
func (p *PersistedData) SetDateLastRollCall(ctx context.Context, ids []string, datenum int) {
	if p == nil || p.store == nil || datenum < 0 {
		return
	}
	for _, id := range ids {
		if err := p.store.SetString(key(id, "dlrc"), strconv.Itoa(datenum)); err != nil {
			logging.WithError(err).Warningf(ctx, "Failed to persist roll call date of %s", id)
			continue
		}
		if err := p.store.SetString(key(id, "pf"), "{"+uuid.New().String()+"}"); err != nil {
			logging.WithError(err).Warningf(ctx, "Failed to persist ping freshness of %s", id)
		}
	}
}
