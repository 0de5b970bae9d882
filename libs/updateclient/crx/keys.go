// Copyright 2014 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package crx

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"

	"go.chromium.org/luci/common/errors"
)

// PrivateKeyFromPEM parses PEM encoded RSA private key (PKCS1 or PKCS8).
func PrivateKeyFromPEM(data []byte) (*rsa.PrivateKey, error) {
	block, rest := pem.Decode(data)
	if block == nil {
		return nil, errors.Reason("not a PEM file").Err()
	}
	if len(rest) != 0 {
		return nil, errors.Reason("PEM should have one block only").Err()
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.Reason("expecting RSA private key").Err()
		}
		return rsaKey, nil
	default:
		return nil, errors.Reason("expecting \"RSA PRIVATE KEY\" got %q instead", block.Type).Err()
	}
}

// PrivateKeyToPEM encodes the key as PKCS1 "RSA PRIVATE KEY" block.
func PrivateKeyToPEM(k *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k),
	})
}

// PublicKeyDER returns DER encoded SubjectPublicKeyInfo, as stored in CRX
// files.
func PublicKeyDER(k *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(k)
}

// PublicKeyHash returns SHA256 of the DER encoded public key. This is the
// hash components are registered with.
func PublicKeyHash(k *rsa.PublicKey) ([]byte, error) {
	der, err := PublicKeyDER(k)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(der)
	return h[:], nil
}
