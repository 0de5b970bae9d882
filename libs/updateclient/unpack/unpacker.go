// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package unpack verifies downloaded CRX packages, extracts them and rebuilds
// components from differential packages.
package unpack

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/logging"

	"infra/libs/updateclient/crx"
)

// Result is the outcome of Unpack.
type Result struct {
	Error         Error
	ExtendedError int
	// UnpackPath is the directory with the unpacked component, set on
	// success. The caller owns it and must delete it.
	UnpackPath string
	// PublicKey is the base64 of the DER public key of the package.
	PublicKey string
}

// Unpacker turns a downloaded CRX file into a directory with the component.
type Unpacker struct {
	// PKHash is the expected SHA-256 of the package public key. A prefix of
	// at least crx.IDLength bytes is accepted.
	PKHash []byte
	// Path is the CRX file.
	Path string
	// Installed locates files of the installed version, for diff packages.
	Installed InstalledFiles
	// Applier applies binary patches, DefaultDiffApplier if nil.
	Applier DiffApplier
	// TempDir is where temp dirs are made, os.TempDir() if empty.
	TempDir string

	header     crx.Header
	publicKey  string
	unpackPath string
	diffPath   string
}

// Unpack runs Verify, Unzip and BeginPatching, stopping at the first failure.
//
// Unpack is a blocking call.
func (u *Unpacker) Unpack(ctx context.Context) Result {
	e, ext := u.verify(ctx)
	if e == ErrorNone {
		e, ext = u.unzip(ctx)
	}
	if e == ErrorNone {
		e, ext = u.beginPatching(ctx)
	}
	return u.finish(ctx, e, ext)
}

func (u *Unpacker) verify(ctx context.Context) (Error, int) {
	if len(u.PKHash) == 0 || u.Path == "" {
		return ErrorInvalidParams, 0
	}
	v, verr := crx.ValidateSignature(u.Path, "")
	if verr != crx.ErrNone {
		logging.Warningf(ctx, "Package %s is not valid: %s", u.Path, verr)
		return ErrorInvalidFile, int(verr)
	}
	der, err := base64.StdEncoding.DecodeString(v.PublicKeyBase64)
	if err != nil {
		return ErrorInvalidFile, int(crx.ErrPublicKeyInvalid)
	}
	sum := sha256.Sum256(der)
	n := len(u.PKHash)
	if n > len(sum) || n < crx.IDLength || !bytes.Equal(sum[:n], u.PKHash) {
		logging.Warningf(ctx, "Package %s is signed by an unexpected key", u.Path)
		return ErrorInvalidID, 0
	}
	u.header = v.Header
	u.publicKey = v.PublicKeyBase64
	return ErrorNone, 0
}

func (u *Unpacker) unzip(ctx context.Context) (Error, int) {
	dir, err := ioutil.TempDir(u.TempDir, "updateclient_unpack_")
	if err != nil {
		logging.WithError(err).Errorf(ctx, "Can't create the unpack dir")
		return ErrorUnzipPathError, 0
	}
	if u.header.IsDelta() {
		u.diffPath = dir
	} else {
		u.unpackPath = dir
	}

	f, err := os.Open(u.Path)
	if err != nil {
		return ErrorUnzipFailed, 0
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return ErrorUnzipFailed, 0
	}
	offset := int64(crx.HeaderSize) + int64(u.header.KeySize) + int64(u.header.SignatureSize)
	size := st.Size() - offset
	if size < 0 {
		return ErrorUnzipFailed, 0
	}
	zr, err := zip.NewReader(io.NewSectionReader(f, offset, size), size)
	if err != nil {
		logging.WithError(err).Warningf(ctx, "Payload of %s is not a zip", u.Path)
		return ErrorUnzipFailed, 0
	}
	for _, zf := range zr.File {
		if err := extract(zf, dir); err != nil {
			logging.WithError(err).Warningf(ctx, "Failed to extract %q", zf.Name)
			return ErrorUnzipFailed, 0
		}
	}
	return ErrorNone, 0
}

// extract writes one zip entry under root. Entries that would land outside
// root, directories included, are refused.
func extract(zf *zip.File, root string) error {
	rel := strings.TrimSuffix(zf.Name, "/")
	if !isSafeRelPath(rel) {
		return os.ErrPermission
	}
	dst := filepath.Join(root, filepath.FromSlash(rel))
	if !withinRoot(root, dst) {
		return os.ErrPermission
	}
	if strings.HasSuffix(zf.Name, "/") {
		return os.MkdirAll(dst, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	src, err := zf.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	mode := zf.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// withinRoot is true if path is root itself or lies below it.
func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (u *Unpacker) beginPatching(ctx context.Context) (Error, int) {
	if !u.header.IsDelta() {
		return ErrorNone, 0
	}
	dir, err := ioutil.TempDir(u.TempDir, "updateclient_patch_")
	if err != nil {
		logging.WithError(err).Errorf(ctx, "Can't create the patch output dir")
		return ErrorUnzipPathError, 0
	}
	u.unpackPath = dir
	p := &Patcher{
		InputDir:  u.diffPath,
		OutputDir: u.unpackPath,
		Installed: u.Installed,
		Applier:   u.Applier,
	}
	e, ext := p.Start(ctx)

	// The diff package is no longer needed, whatever happened.
	u.removeDir(ctx, &u.diffPath)
	return e, ext
}

func (u *Unpacker) finish(ctx context.Context, e Error, ext int) Result {
	u.removeDir(ctx, &u.diffPath)
	if e != ErrorNone {
		u.removeDir(ctx, &u.unpackPath)
		return Result{Error: e, ExtendedError: ext}
	}
	return Result{UnpackPath: u.unpackPath, PublicKey: u.publicKey}
}

func (u *Unpacker) removeDir(ctx context.Context, dir *string) {
	if *dir == "" {
		return
	}
	if err := os.RemoveAll(*dir); err != nil {
		logging.WithError(err).Warningf(ctx, "Failed to remove %s", *dir)
	}
	*dir = ""
}
