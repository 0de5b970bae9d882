// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package sender

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.chromium.org/luci/common/errors"
)

// CUP implements the client side of the ECDSA "client update protocol"
// signing scheme.
//
// The request carries cup2key=<key version>:<nonce> and
// cup2hreq=<sha256 of the body> query parameters. The server replies with an
// X-Cup-Server-Proof: <signature hex>:<request hash hex> header, where the
// signature covers sha256(request hash || response hash || cup2key).
type CUP struct {
	keyVersion int
	publicKey  *ecdsa.PublicKey

	// Rand is the nonce source, crypto/rand if nil.
	Rand io.Reader
}

// NewCUP makes a CUP with the given DER encoded (PKIX) ECDSA public key.
func NewCUP(keyVersion int, publicKeyDER []byte) (*CUP, error) {
	pub, err := x509.ParsePKIXPublicKey(publicKeyDER)
	if err != nil {
		return nil, errors.Annotate(err, "bad CUP public key").Err()
	}
	ec, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.Reason("CUP public key is %T, not ECDSA", pub).Err()
	}
	return &CUP{keyVersion: keyVersion, publicKey: ec}, nil
}

// SignedRequest is the client side state of one signed exchange.
type SignedRequest struct {
	URL         *url.URL
	Key         string // cup2key value
	RequestHash []byte
}

// Etag is the If-Match header value sent along with the signed request.
func (r *SignedRequest) Etag() string {
	return fmt.Sprintf("W/%q", r.Key)
}

// SignRequest decorates the url with the signing query parameters.
func (c *CUP) SignRequest(u *url.URL, body []byte) *SignedRequest {
	nonce := make([]byte, 32)
	src := c.Rand
	if src == nil {
		src = rand.Reader
	}
	if _, err := io.ReadFull(src, nonce); err != nil {
		panic(fmt.Sprintf("failed to generate a nonce: %s", err))
	}

	reqHash := sha256.Sum256(body)
	key := fmt.Sprintf("%d:%s", c.keyVersion, base64.RawURLEncoding.EncodeToString(nonce))

	signed := *u
	q := signed.Query()
	q.Set("cup2key", key)
	q.Set("cup2hreq", hex.EncodeToString(reqHash[:]))
	signed.RawQuery = q.Encode()

	return &SignedRequest{
		URL:         &signed,
		Key:         key,
		RequestHash: reqHash[:],
	}
}

// ValidateResponse checks the server proof of a response.
func (c *CUP) ValidateResponse(req *SignedRequest, body []byte, proof string) bool {
	if req == nil || proof == "" {
		return false
	}
	idx := strings.LastIndexByte(proof, ':')
	if idx <= 0 {
		return false
	}
	sig, err := hex.DecodeString(proof[:idx])
	if err != nil {
		return false
	}
	observed, err := hex.DecodeString(proof[idx+1:])
	if err != nil || !bytes.Equal(observed, req.RequestHash) {
		return false
	}
	digest := signedDigest(req.RequestHash, body, req.Key)
	return ecdsa.VerifyASN1(c.publicKey, digest, sig)
}

// SignResponse produces the X-Cup-Server-Proof header value, as a server
// would.
func SignResponse(priv *ecdsa.PrivateKey, requestHash, body []byte, key string) (string, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, priv, signedDigest(requestHash, body, key))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig) + ":" + hex.EncodeToString(requestHash), nil
}

func signedDigest(requestHash, body []byte, key string) []byte {
	respHash := sha256.Sum256(body)
	msg := sha256.New()
	msg.Write(requestHash)
	msg.Write(respHash[:])
	msg.Write([]byte(key))
	inner := msg.Sum(nil)
	outer := sha256.Sum256(inner)
	return outer[:]
}
