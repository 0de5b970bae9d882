// Copyright 2014 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crx

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.chromium.org/luci/common/errors"
)

// File is an entry of the zip archive inside a package.
type File interface {
	// Name is the slash separated path inside the archive.
	Name() string
	Size() uint64
	Open() (io.ReadCloser, error)
}

// diskFile is a regular file found by ScanFileSystem.
type diskFile struct {
	path string // native path on disk
	rel  string // slash separated path in the package
	size uint64
}

func (f *diskFile) Name() string                 { return f.rel }
func (f *diskFile) Size() uint64                 { return f.size }
func (f *diskFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }

// ScanFileSystem lists the regular files under root, sorted by name.
//
// Hidden entries (".git", ".DS_Store", ...) are skipped along with everything
// below them. Symbolic links are rejected since a package has no way to
// represent them.
func ScanFileSystem(root string) ([]File, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []File
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		switch {
		case err != nil:
			return err
		case path == root:
			return nil
		case strings.HasPrefix(info.Name(), "."):
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		case info.Mode()&os.ModeSymlink != 0:
			return errors.Reason("%s is a symlink", path).Err()
		case !info.Mode().IsRegular():
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, &diskFile{path: path, rel: filepath.ToSlash(rel), size: uint64(info.Size())})
		return nil
	})
	if err != nil {
		return nil, errors.Annotate(err, "failed to scan %s", root).Err()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	return files, nil
}

type blobFile struct {
	name string
	data []byte
}

func (b *blobFile) Name() string { return b.name }
func (b *blobFile) Size() uint64 { return uint64(len(b.data)) }
func (b *blobFile) Open() (io.ReadCloser, error) {
	return ioutil.NopCloser(bytes.NewReader(b.data)), nil
}

// BlobFile returns a File with the given content.
func BlobFile(name string, data []byte) File {
	return &blobFile{name: name, data: data}
}
