// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package prefs stores small bits of update client state between runs.
package prefs

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"go.chromium.org/luci/common/errors"
)

// Store is a string-keyed persistent key-value store.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// GetString returns the value of the key and whether it is set.
	GetString(key string) (string, bool)
	// SetString sets the value of the key.
	SetString(key, value string) error
}

// MemStore is an in-memory Store.
type MemStore struct {
	m      sync.Mutex
	values map[string]string
}

// GetString implements Store.
func (s *MemStore) GetString(key string) (string, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// SetString implements Store.
func (s *MemStore) SetString(key, value string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.values == nil {
		s.values = map[string]string{}
	}
	s.values[key] = value
	return nil
}

// FileStore is a Store backed by a JSON file.
//
// Every SetString rewrites the whole file atomically.
type FileStore struct {
	path string

	m      sync.Mutex
	values map[string]string
}

// OpenFileStore loads the store from the path, creating an empty one if the
// file doesn't exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, values: map[string]string{}}
	switch blob, err := ioutil.ReadFile(path); {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, errors.Annotate(err, "failed to read %q", path).Err()
	default:
		if err := json.Unmarshal(blob, &s.values); err != nil {
			return nil, errors.Annotate(err, "malformed prefs file %q", path).Err()
		}
		return s, nil
	}
}

// GetString implements Store.
func (s *FileStore) GetString(key string) (string, bool) {
	s.m.Lock()
	defer s.m.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// SetString implements Store.
func (s *FileStore) SetString(key, value string) error {
	s.m.Lock()
	defer s.m.Unlock()
	s.values[key] = value
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	blob, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := ioutil.TempFile(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Annotate(err, "failed to create temp file").Err()
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Annotate(err, "failed to write prefs").Err()
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Annotate(err, "failed to close prefs").Err()
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return errors.Annotate(err, "failed to replace %q", s.path).Err()
	}
	return nil
}
