// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"go.chromium.org/luci/common/logging"

	"infra/libs/updateclient/unpack"
)

// Well-known files of an unpacked component.
const (
	manifestFile    = "manifest.json"
	fingerprintFile = "manifest.fingerprint"
)

// installJob is everything the blocking install step needs. It is a copy, the
// main sequence keeps owning the item.
type installJob struct {
	id        string
	pkHash    []byte
	crxPath   string
	nextFP    string
	installer Installer
	applier   unpack.DiffApplier
	tempDir   string
}

// run unpacks, patches and installs the package. It returns the error
// category, code and extra code, all zero on success.
func (j *installJob) run(ctx context.Context) (ErrorCategory, int, int) {
	ctx = logging.SetField(ctx, "component", j.id)

	u := &unpack.Unpacker{
		PKHash:    j.pkHash,
		Path:      j.crxPath,
		Installed: j.installer,
		Applier:   j.applier,
		TempDir:   j.tempDir,
	}
	res := u.Unpack(ctx)
	if err := os.RemoveAll(filepath.Dir(j.crxPath)); err != nil {
		logging.WithError(err).Warningf(ctx, "Failed to remove the download dir")
	}
	if res.Error != unpack.ErrorNone {
		logging.Warningf(ctx, "Unpacking failed: %s (%d)", res.Error, res.ExtendedError)
		return ErrorCategoryUnpack, int(res.Error), res.ExtendedError
	}
	defer func() {
		if err := os.RemoveAll(res.UnpackPath); err != nil {
			logging.WithError(err).Warningf(ctx, "Failed to remove %s", res.UnpackPath)
		}
	}()

	fp := filepath.Join(res.UnpackPath, fingerprintFile)
	if err := ioutil.WriteFile(fp, []byte(j.nextFP), 0644); err != nil {
		logging.WithError(err).Errorf(ctx, "Failed to write the fingerprint")
		return ErrorCategoryUnpack, int(unpack.ErrorFingerprintWriteFailed), 0
	}

	manifest, err := readManifest(res.UnpackPath)
	if err != nil {
		logging.WithError(err).Errorf(ctx, "Bad manifest")
		return ErrorCategoryUnpack, int(unpack.ErrorBadManifest), 0
	}

	r := j.installer.Install(ctx, manifest, res.UnpackPath)
	if r.Error != 0 {
		logging.Warningf(ctx, "Install failed: %d (%d)", r.Error, r.ExtendedError)
		return ErrorCategoryInstall, r.Error, r.ExtendedError
	}
	logging.Infof(ctx, "Installed")
	return ErrorCategoryNone, 0, 0
}

func readManifest(dir string) (map[string]interface{}, error) {
	blob, err := ioutil.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, err
	}
	return m, nil
}
