// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

/*
Package crx reads, validates and builds CRX component packages.

Binary package file format (in free form representation, little endian):
  <crx file> := <header> + <public key> + <signature> + <zipped data>
  <header> := {
    magic:          "Cr24" (full package) or "CrOD" (differential package),
    version:        uint32, 2 for full packages, 0 or 2 for differential ones,
    key_size:       uint32, in (0, 65536],
    signature_size: uint32, in (0, 65536],
  }
  <public key> := DER encoded SubjectPublicKeyInfo of an RSA key
  <signature> := RSA PKCS1v15 signature of SHA1(<zipped data>)

The identity of a package is derived from its public key:
  <id> := a..p encoding of hex(SHA256(<public key>)[:16])
i.e. each hex digit 0..f is replaced with a letter a..p, producing a 32
character lowercase string.

A differential package carries a "commands.json" file in its zipped data,
describing how to produce the new version from the installed one.
*/
package crx
