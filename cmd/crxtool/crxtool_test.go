// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kylelemons/godebug/pretty"

	"infra/libs/updateclient/fakeserver"
)

func tempDir(t *testing.T) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "crxtool_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func lines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(buf.String()), "\n")
}

// genKey writes a fresh key into dir and returns its path and id.
func genKey(t *testing.T, dir string) (string, string) {
	t.Helper()
	out := &bytes.Buffer{}
	c := cmdGenKey.CommandRun().(*cmdGenKeyRun)
	c.out = out
	c.keyPath = filepath.Join(dir, "key.pem")
	c.bits = 1024
	if err := c.exec(context.Background()); err != nil {
		t.Fatalf("genkey: %s", err)
	}
	return c.keyPath, strings.TrimSpace(out.String())
}

func TestKeys(t *testing.T) {
	t.Parallel()
	dir := tempDir(t)
	keyPath, id := genKey(t, dir)

	out := &bytes.Buffer{}
	c := cmdID.CommandRun().(*cmdIDRun)
	c.out = out
	c.keyPath = keyPath
	if err := c.exec(context.Background()); err != nil {
		t.Fatalf("id: %s", err)
	}
	got := lines(out)
	if len(got) != 2 || got[0] != "id:     "+id || !strings.HasPrefix(got[1], "pkhash: ") {
		t.Errorf("unexpected id output %q", got)
	}

	again := cmdGenKey.CommandRun().(*cmdGenKeyRun)
	again.keyPath = keyPath
	again.bits = 1024
	if err := again.exec(context.Background()); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("want an overwrite error, got %v", err)
	}

	small := cmdGenKey.CommandRun().(*cmdGenKeyRun)
	small.keyPath = filepath.Join(dir, "small.pem")
	small.bits = 512
	if err := small.exec(context.Background()); err == nil || !isCLIError.In(err) {
		t.Errorf("want a CLI error, got %v", err)
	}
}

func TestPackAndVerify(t *testing.T) {
	t.Parallel()
	dir := tempDir(t)
	keyPath, id := genKey(t, dir)

	in := filepath.Join(dir, "in")
	if err := os.MkdirAll(filepath.Join(in, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	ioutil.WriteFile(filepath.Join(in, "manifest.json"), []byte(`{"version": "1.0"}`), 0644)
	ioutil.WriteFile(filepath.Join(in, "sub", "data.bin"), []byte("data"), 0644)

	crxPath := filepath.Join(dir, "out.crx")
	out := &bytes.Buffer{}
	p := cmdPack.CommandRun().(*cmdPackRun)
	p.out = out
	p.inputDir = in
	p.keyPath = keyPath
	p.outPath = crxPath
	if err := p.exec(context.Background()); err != nil {
		t.Fatalf("pack: %s", err)
	}
	if got := strings.TrimSpace(out.String()); got != id {
		t.Errorf("pack printed %q, want %q", got, id)
	}

	blob, err := ioutil.ReadFile(crxPath)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(blob)
	hexSum := hex.EncodeToString(sum[:])

	out.Reset()
	v := cmdVerify.CommandRun().(*cmdVerifyRun)
	v.out = out
	v.crxPath = crxPath
	v.hash = strings.ToUpper(hexSum)
	if err := v.exec(context.Background()); err != nil {
		t.Fatalf("verify: %s", err)
	}
	want := []string{
		"id:     " + id,
		"kind:   full",
		fmt.Sprintf("size:   %d B", len(blob)),
		"sha256: " + hexSum,
	}
	if len(blob) >= 1000 {
		// humanize switches to kB past 999 bytes.
		want[2] = lines(out)[2]
	}
	if diff := pretty.Compare(want, lines(out)); diff != "" {
		t.Errorf("verify output differs (-want +got):\n%s", diff)
	}

	v.hash = strings.Repeat("0", 64)
	if err := v.exec(context.Background()); err == nil || !strings.Contains(err.Error(), "file hash mismatch") {
		t.Errorf("want a hash mismatch, got %v", err)
	}
	v.hash = "zz"
	if err := v.exec(context.Background()); err == nil || !isCLIError.In(err) {
		t.Errorf("want a CLI error, got %v", err)
	}

	os.Remove(filepath.Join(in, "manifest.json"))
	p.outPath = filepath.Join(dir, "nomanifest.crx")
	if err := p.exec(context.Background()); err == nil || !strings.Contains(err.Error(), "no manifest.json") {
		t.Errorf("want a missing manifest error, got %v", err)
	}

	p.delta = true
	p.outPath = filepath.Join(dir, "delta.crx")
	if err := p.exec(context.Background()); err != nil {
		t.Fatalf("pack -delta: %s", err)
	}
	out.Reset()
	v.crxPath = p.outPath
	v.hash = ""
	if err := v.exec(context.Background()); err != nil {
		t.Fatalf("verify delta: %s", err)
	}
	if got := lines(out)[1]; got != "kind:   differential" {
		t.Errorf("got %q for a delta package", got)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()
	dir := tempDir(t)
	srv := fakeserver.New()
	defer srv.Close()

	const id = "jebgalgnebhfojomionfpkfelancnnkf"
	hash := srv.AddFile("jebg_2.0.crx", []byte("crx"))
	srv.SetApp(fakeserver.App{ID: id, Version: "2.0", Package: "jebg_2.0.crx"})

	cfgPath := filepath.Join(dir, "updater.yaml")
	cfg := fmt.Sprintf("update_urls: [%q]\nprod_id: crxtool\n", srv.URL(fakeserver.UpdatePath))
	if err := ioutil.WriteFile(cfgPath, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}

	out := &bytes.Buffer{}
	c := cmdCheck.CommandRun().(*cmdCheckRun)
	c.out = out
	c.httpClient = srv.Client()
	c.configPath = cfgPath
	c.id = id
	c.version = "1.0"
	if err := c.exec(context.Background()); err != nil {
		t.Fatalf("check: %s", err)
	}
	want := []string{
		"status:  ok",
		"version: 2.0",
		"url:     " + srv.URL(fakeserver.CrxPath).String(),
		"package: jebg_2.0.crx (3 B) sha256=" + hash,
	}
	if diff := pretty.Compare(want, lines(out)); diff != "" {
		t.Errorf("check output differs (-want +got):\n%s", diff)
	}

	checks := srv.Checks()
	if len(checks) != 1 || checks[0].Apps[0].Version != "1.0" {
		t.Errorf("unexpected requests %+v", checks)
	}

	c.id = "not an id"
	if err := c.exec(context.Background()); err == nil || !isCLIError.In(err) {
		t.Errorf("want a CLI error, got %v", err)
	}
}
