// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package service keeps a registry of components and drives periodic and
// on-demand updates of them through an updateclient.Client.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"infra/libs/updateclient"
)

// UninstallReasonUnregistered is the reason reported when a component is
// unregistered by its embedder.
const UninstallReasonUnregistered = 0

var (
	// ErrNotRegistered is returned for ids the service doesn't know.
	ErrNotRegistered = errors.New("component is not registered")
	// ErrTooSoon is returned by OnDemandUpdate when the previous on-demand
	// update of the component is more recent than the configured delay.
	ErrTooSoon = errors.New("on-demand update requested too soon")
)

// Service owns the registered components.
type Service struct {
	config updateclient.Configurator
	client *updateclient.Client

	m          sync.Mutex
	components map[string]*updateclient.CrxComponent
	lastDemand map[string]time.Time
}

// New returns a service updating through client.
func New(cfg updateclient.Configurator, client *updateclient.Client) *Service {
	return &Service{
		config:     cfg,
		client:     client,
		components: map[string]*updateclient.CrxComponent{},
		lastDemand: map[string]time.Time{},
	}
}

// RegisterComponent adds c to the set of updated components.
func (s *Service) RegisterComponent(c *updateclient.CrxComponent) error {
	switch {
	case c == nil:
		return errors.New("nil component")
	case len(c.PKHash) == 0:
		return errors.Reason("component %q has no public key hash", c.Name).Err()
	case c.Installer == nil:
		return errors.Reason("component %q has no installer", c.Name).Err()
	}
	id := c.ID()

	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.components[id]; ok {
		return errors.Reason("component %s is already registered", id).Err()
	}
	s.components[id] = c
	return nil
}

// UnregisterComponent uninstalls a component and reports the removal.
func (s *Service) UnregisterComponent(ctx context.Context, id string) error {
	s.m.Lock()
	c, ok := s.components[id]
	s.m.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	if s.client.IsUpdating(id) {
		return errors.Reason("component %s is being updated", id).Err()
	}
	if !c.Installer.Uninstall(ctx) {
		return errors.Reason("the installer of %s refused to uninstall it", id).Err()
	}

	s.m.Lock()
	delete(s.components, id)
	delete(s.lastDemand, id)
	s.m.Unlock()

	ver := ""
	if c.Version.IsValid() {
		ver = c.Version.String()
	}
	s.client.SendUninstallPing(ctx, id, ver, UninstallReasonUnregistered, func(updateclient.Error) {})
	logging.Infof(ctx, "Unregistered %s", id)
	return nil
}

// GetComponentIDs returns the sorted ids of the registered components.
func (s *Service) GetComponentIDs() []string {
	s.m.Lock()
	defer s.m.Unlock()
	ids := make([]string, 0, len(s.components))
	for id := range s.components {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetComponentState returns the latest update state of id. Components that
// were never checked are reported in StateNew.
func (s *Service) GetComponentState(id string) (updateclient.CrxUpdateItem, bool) {
	if it, ok := s.client.GetCrxUpdateState(id); ok {
		return it, true
	}
	s.m.Lock()
	defer s.m.Unlock()
	c, ok := s.components[id]
	if !ok {
		return updateclient.CrxUpdateItem{}, false
	}
	comp := *c
	return updateclient.CrxUpdateItem{ID: id, State: updateclient.StateNew, Component: &comp}, true
}

// InstallerAttributes returns the attributes a component sends with its
// update checks.
func (s *Service) InstallerAttributes(id string) (map[string]string, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	c, ok := s.components[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]string, len(c.InstallerAttributes))
	for k, v := range c.InstallerAttributes {
		out[k] = v
	}
	return out, true
}

// OnDemandUpdate updates one component in the foreground. cb is called once
// the update finishes, unless an error is returned.
func (s *Service) OnDemandUpdate(ctx context.Context, id string, cb updateclient.Callback) error {
	now := clock.Now(ctx)

	s.m.Lock()
	if _, ok := s.components[id]; !ok {
		s.m.Unlock()
		return ErrNotRegistered
	}
	if last, ok := s.lastDemand[id]; ok && now.Sub(last) < s.config.OnDemandDelay() {
		s.m.Unlock()
		return ErrTooSoon
	}
	s.lastDemand[id] = now
	s.m.Unlock()

	logging.Infof(ctx, "On-demand update of %s", id)
	s.client.Install(ctx, id, s.crxData, cb)
	return nil
}

// CheckNow updates all registered components in the background and waits for
// the result.
func (s *Service) CheckNow(ctx context.Context) error {
	ids := s.GetComponentIDs()
	if len(ids) == 0 {
		return nil
	}
	done := make(chan updateclient.Error, 1)
	s.client.Update(ctx, ids, s.crxData, func(err updateclient.Error) { done <- err })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != updateclient.ErrorNone {
			return errors.Reason("update of %d components finished with %s", len(ids), err).Err()
		}
		return nil
	}
}

// Run checks for updates periodically until ctx is done. Updates are
// disabled entirely when the configuration says so.
func (s *Service) Run(ctx context.Context) {
	if !s.config.EnabledComponentUpdates() {
		logging.Infof(ctx, "Component updates are disabled")
		<-ctx.Done()
		return
	}
	st := loop(ctx, s.config.InitialDelay(), s.config.NextCheckDelay(), s.CheckNow)
	logging.Infof(ctx, "Update loop stopped after %d cycles, %d failed, %d overran", st.Cycles, st.Errors, st.Overruns)
}

func (s *Service) crxData(ids []string) []*updateclient.CrxComponent {
	s.m.Lock()
	defer s.m.Unlock()
	out := make([]*updateclient.CrxComponent, len(ids))
	for i, id := range ids {
		out[i] = s.components[id]
	}
	return out
}
