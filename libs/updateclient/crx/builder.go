// Copyright 2014 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crx

import (
	"archive/zip"
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"io"

	"go.chromium.org/luci/common/errors"
)

// BuildOptions defines options for Build function.
type BuildOptions struct {
	// List of files to add to the package.
	Input []File
	// Where to write the package file to.
	Output io.Writer
	// Private key to sign the package with.
	PrivateKey *rsa.PrivateKey
	// Delta produces a differential package ("CrOD" magic).
	Delta bool
	// Source of randomness for the signing, defaults to crypto/rand.
	Random io.Reader
}

// Build archives input files, signs the archive and writes the final CRX file
// to opts.Output. Some output may be written even if Build eventually returns
// an error.
func Build(opts BuildOptions) error {
	if opts.PrivateKey == nil {
		return errors.Reason("a private key is required").Err()
	}

	// Make sure filenames are unique.
	seenNames := make(map[string]struct{}, len(opts.Input))
	for _, f := range opts.Input {
		if _, seen := seenNames[f.Name()]; seen {
			return errors.Reason("file %s is provided twice", f.Name()).Err()
		}
		seenNames[f.Name()] = struct{}{}
	}

	payload := &bytes.Buffer{}
	if err := zipInputFiles(opts.Input, payload); err != nil {
		return errors.Annotate(err, "failed to zip input files").Err()
	}

	key, err := PublicKeyDER(&opts.PrivateKey.PublicKey)
	if err != nil {
		return errors.Annotate(err, "failed to marshal the public key").Err()
	}

	random := opts.Random
	if random == nil {
		random = rand.Reader
	}
	digest := sha1.Sum(payload.Bytes())
	sig, err := rsa.SignPKCS1v15(random, opts.PrivateKey, crypto.SHA1, digest[:])
	if err != nil {
		return errors.Annotate(err, "failed to sign").Err()
	}

	hdr := Header{
		Version:       CurrentVersion,
		KeySize:       uint32(len(key)),
		SignatureSize: uint32(len(sig)),
	}
	if opts.Delta {
		copy(hdr.Magic[:], DiffMagic)
		hdr.Version = CurrentDiffVersion
	} else {
		copy(hdr.Magic[:], FullMagic)
	}

	if err := WriteHeader(opts.Output, hdr); err != nil {
		return err
	}
	for _, blob := range [][]byte{key, sig, payload.Bytes()} {
		if _, err := opts.Output.Write(blob); err != nil {
			return err
		}
	}
	return nil
}

// zipInputFiles deterministically builds a zip archive out of input files and
// writes it to the writer. Files are written in the order given.
func zipInputFiles(files []File, w io.Writer) error {
	writer := zip.NewWriter(w)

	for _, in := range files {
		// Intentionally do not add timestamp or file mode to make zip archive
		// deterministic. See also zip.FileInfoHeader() implementation.
		fh := zip.FileHeader{
			Name:               in.Name(),
			UncompressedSize64: in.Size(),
			Method:             zip.Deflate,
		}
		fh.SetMode(0600)

		src, err := in.Open()
		if err != nil {
			return err
		}

		dst, err := writer.CreateHeader(&fh)
		if err != nil {
			src.Close()
			return err
		}

		written, err := io.Copy(dst, src)
		src.Close()
		if err != nil {
			return err
		}

		if uint64(written) != in.Size() {
			return errors.Reason("file %s changed midway", in.Name()).Err()
		}
	}

	return writer.Close()
}
