// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crx

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	. "go.chromium.org/luci/common/testing/assertions"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func privateKey() *rsa.PrivateKey {
	testKeyOnce.Do(func() {
		var err error
		if testKey, err = rsa.GenerateKey(rand.Reader, 1024); err != nil {
			panic(err)
		}
	})
	return testKey
}

var jebgHash = []byte{
	0x94, 0x16, 0x0b, 0x6d, 0x41, 0x75, 0xe9, 0xec, 0x8e, 0xd5, 0xfa,
	0x54, 0xb0, 0xd2, 0xdd, 0xa5, 0x6e, 0x05, 0x6b, 0xe8, 0x73, 0x47,
	0xf6, 0xc4, 0x11, 0x9f, 0xbc, 0xb3, 0x09, 0xb3, 0x5b, 0x40,
}

func header(magic string, version, keySize, sigSize uint32) Header {
	h := Header{Version: version, KeySize: keySize, SignatureSize: sigSize}
	copy(h.Magic[:], magic)
	return h
}

func TestHeaderIsValid(t *testing.T) {
	t.Parallel()

	Convey("HeaderIsValid", t, func() {
		check := func(h Header) ValidateError {
			ok, verr := HeaderIsValid(h)
			So(ok, ShouldEqual, verr == ErrNone)
			return verr
		}

		So(check(header(FullMagic, 2, 10, 10)), ShouldEqual, ErrNone)
		So(check(header(DiffMagic, 2, 10, 10)), ShouldEqual, ErrNone)
		So(check(header(DiffMagic, 0, 10, 10)), ShouldEqual, ErrNone)

		So(check(header("Cr25", 2, 10, 10)), ShouldEqual, ErrMagicNumberInvalid)
		So(check(header(FullMagic, 0, 10, 10)), ShouldEqual, ErrVersionNumberInvalid)
		So(check(header(FullMagic, 3, 10, 10)), ShouldEqual, ErrVersionNumberInvalid)
		So(check(header(DiffMagic, 1, 10, 10)), ShouldEqual, ErrVersionNumberInvalid)

		Convey("Size boundaries", func() {
			So(check(header(FullMagic, 2, 0, 10)), ShouldEqual, ErrKeyTooSmall)
			So(check(header(FullMagic, 2, 65536, 10)), ShouldEqual, ErrNone)
			So(check(header(FullMagic, 2, 65537, 10)), ShouldEqual, ErrKeyTooLarge)
			So(check(header(FullMagic, 2, 10, 0)), ShouldEqual, ErrSignatureTooSmall)
			So(check(header(FullMagic, 2, 10, 65536)), ShouldEqual, ErrNone)
			So(check(header(FullMagic, 2, 10, 65537)), ShouldEqual, ErrSignatureTooLarge)
		})

		Convey("Idempotent", func() {
			h := header(FullMagic, 2, 65537, 10)
			ok1, e1 := HeaderIsValid(h)
			ok2, e2 := HeaderIsValid(h)
			So(ok1, ShouldEqual, ok2)
			So(e1, ShouldEqual, e2)
		})
	})
}

func TestIDs(t *testing.T) {
	t.Parallel()

	Convey("IDFromHash", t, func() {
		So(IDFromHash(jebgHash), ShouldEqual, "jebgalgnebhfojomionfpkfelancnnkf")
		So(func() { IDFromHash(jebgHash[:10]) }, ShouldPanic)
	})

	Convey("HashPrefixFromID", t, func() {
		prefix, err := HashPrefixFromID("jebgalgnebhfojomionfpkfelancnnkf")
		So(err, ShouldBeNil)
		So(prefix, ShouldResemble, jebgHash[:IDLength])

		_, err = HashPrefixFromID("jebg")
		So(err, ShouldNotBeNil)
		_, err = HashPrefixFromID("zebgalgnebhfojomionfpkfelancnnkf")
		So(err, ShouldNotBeNil)
		So(IsValidID("jebgalgnebhfojomionfpkfelancnnkf"), ShouldBeTrue)
	})
}

func TestValidateSignature(t *testing.T) {
	t.Parallel()

	Convey("Given a temp dir", t, func() {
		tempDir, err := ioutil.TempDir("", "crx_test")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(tempDir) })

		build := func(name string, delta bool) string {
			buf := &bytes.Buffer{}
			So(Build(BuildOptions{
				Input: []File{
					BlobFile("manifest.json", []byte(`{"name": "test", "version": "1.0"}`)),
					BlobFile("dir/file.txt", []byte("hello")),
				},
				Output:     buf,
				PrivateKey: privateKey(),
				Delta:      delta,
			}), ShouldBeNil)
			p := filepath.Join(tempDir, name)
			So(ioutil.WriteFile(p, buf.Bytes(), 0600), ShouldBeNil)
			return p
		}

		fileHash := func(p string) string {
			blob, err := ioutil.ReadFile(p)
			So(err, ShouldBeNil)
			h := sha256.Sum256(blob)
			return hex.EncodeToString(h[:])
		}

		Convey("Round trip", func() {
			p := build("full.crx", false)
			res, verr := ValidateSignature(p, "")
			So(verr, ShouldEqual, ErrNone)
			So(res.ID, ShouldHaveLength, 32)
			So(regexp.MustCompile(`^[a-p]{32}$`).MatchString(res.ID), ShouldBeTrue)
			So(res.Header.IsDelta(), ShouldBeFalse)

			pkHash, err := PublicKeyHash(&privateKey().PublicKey)
			So(err, ShouldBeNil)
			So(res.ID, ShouldEqual, IDFromHash(pkHash))

			der, err := base64.StdEncoding.DecodeString(res.PublicKeyBase64)
			So(err, ShouldBeNil)
			So(IDFromPublicKey(der), ShouldEqual, res.ID)
		})

		Convey("Delta packages", func() {
			res, verr := ValidateSignature(build("diff.crx", true), "")
			So(verr, ShouldEqual, ErrNone)
			So(res.Header.IsDelta(), ShouldBeTrue)
			So(res.Header.Version, ShouldEqual, uint32(CurrentDiffVersion))
		})

		Convey("Expected hash", func() {
			p := build("full.crx", false)
			h := fileHash(p)

			_, verr := ValidateSignature(p, h)
			So(verr, ShouldEqual, ErrNone)
			_, verr = ValidateSignature(p, strings.ToUpper(h))
			So(verr, ShouldEqual, ErrNone)

			_, verr = ValidateSignature(p, strings.Repeat("0", 64))
			So(verr, ShouldEqual, ErrFileHashFailed)
			_, verr = ValidateSignature(p, "abcd")
			So(verr, ShouldEqual, ErrExpectedHashInvalid)
			_, verr = ValidateSignature(p, strings.Repeat("z", 64))
			So(verr, ShouldEqual, ErrExpectedHashInvalid)
		})

		Convey("Tampered payload", func() {
			p := build("full.crx", false)
			blob, err := ioutil.ReadFile(p)
			So(err, ShouldBeNil)
			blob[len(blob)-1] ^= 0xff
			So(ioutil.WriteFile(p, blob, 0600), ShouldBeNil)
			_, verr := ValidateSignature(p, "")
			So(verr, ShouldEqual, ErrSignatureVerificationFailed)
		})

		Convey("Garbage key", func() {
			buf := &bytes.Buffer{}
			So(WriteHeader(buf, header(FullMagic, 2, 7, 3)), ShouldBeNil)
			buf.WriteString("garbagesigpayload")
			p := filepath.Join(tempDir, "garbage.crx")
			So(ioutil.WriteFile(p, buf.Bytes(), 0600), ShouldBeNil)
			_, verr := ValidateSignature(p, "")
			So(verr, ShouldEqual, ErrPublicKeyInvalid)
		})

		Convey("Bad header", func() {
			buf := &bytes.Buffer{}
			So(WriteHeader(buf, header("PK\x03\x04", 2, 7, 3)), ShouldBeNil)
			p := filepath.Join(tempDir, "zip.crx")
			So(ioutil.WriteFile(p, buf.Bytes(), 0600), ShouldBeNil)
			res, verr := ValidateSignature(p, "")
			So(verr, ShouldEqual, ErrMagicNumberInvalid)
			So(string(res.Header.Magic[:]), ShouldEqual, "PK\x03\x04")
		})

		Convey("Truncated", func() {
			p := filepath.Join(tempDir, "short.crx")
			So(ioutil.WriteFile(p, []byte("Cr24"), 0600), ShouldBeNil)
			_, verr := ValidateSignature(p, "")
			So(verr, ShouldEqual, ErrHeaderInvalid)
		})

		Convey("Missing file", func() {
			_, verr := ValidateSignature(filepath.Join(tempDir, "missing.crx"), "")
			So(verr, ShouldEqual, ErrFileNotReadable)
		})

		Convey("Duplicate files are rejected", func() {
			err := Build(BuildOptions{
				Input:      []File{BlobFile("a", nil), BlobFile("a", nil)},
				Output:     &bytes.Buffer{},
				PrivateKey: privateKey(),
			})
			So(err, ShouldErrLike, "provided twice")
		})
	})
}

func TestPEM(t *testing.T) {
	t.Parallel()

	Convey("Private key PEM round trip", t, func() {
		pem := PrivateKeyToPEM(privateKey())
		k, err := PrivateKeyFromPEM(pem)
		So(err, ShouldBeNil)
		So(k.N.Cmp(privateKey().N), ShouldEqual, 0)

		_, err = PrivateKeyFromPEM([]byte("nope"))
		So(err, ShouldNotBeNil)
		_, err = PrivateKeyFromPEM(append(pem, pem...))
		So(err, ShouldNotBeNil)
	})
}

func TestScanFileSystem(t *testing.T) {
	t.Parallel()

	Convey("Given a temp dir", t, func() {
		tempDir, err := ioutil.TempDir("", "crx_scan_test")
		So(err, ShouldBeNil)
		Reset(func() { os.RemoveAll(tempDir) })

		put := func(rel, data string) {
			p := filepath.Join(tempDir, filepath.FromSlash(rel))
			So(os.MkdirAll(filepath.Dir(p), 0700), ShouldBeNil)
			So(ioutil.WriteFile(p, []byte(data), 0600), ShouldBeNil)
		}

		Convey("Lists regular files in order", func() {
			put("manifest.json", "{}")
			put("b/z.bin", "zz")
			put("a.txt", "a")
			put(".hidden", "x")
			put(".git/config", "x")
			So(os.MkdirAll(filepath.Join(tempDir, "empty"), 0700), ShouldBeNil)

			files, err := ScanFileSystem(tempDir)
			So(err, ShouldBeNil)
			var names []string
			for _, f := range files {
				names = append(names, f.Name())
			}
			So(names, ShouldResemble, []string{"a.txt", "b/z.bin", "manifest.json"})
			So(files[1].Size(), ShouldEqual, uint64(2))

			r, err := files[1].Open()
			So(err, ShouldBeNil)
			defer r.Close()
			blob, err := ioutil.ReadAll(r)
			So(err, ShouldBeNil)
			So(string(blob), ShouldEqual, "zz")
		})

		Convey("Rejects symlinks", func() {
			put("target", "t")
			So(os.Symlink(filepath.Join(tempDir, "target"), filepath.Join(tempDir, "link")), ShouldBeNil)
			_, err := ScanFileSystem(tempDir)
			So(err, ShouldErrLike, "is a symlink")
		})

		Convey("Missing root", func() {
			_, err := ScanFileSystem(filepath.Join(tempDir, "nope"))
			So(err, ShouldErrLike, "failed to scan")
		})
	})
}
