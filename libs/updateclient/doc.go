// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package updateclient keeps CRX components up to date.
//
// A Client takes Update and Install calls. Each call becomes an update
// context which checks the update server for new versions, then downloads,
// verifies, unpacks (patching differential packages) and installs the
// components one at a time, in server order. Differential updates fall back
// to full ones. Outcomes are pinged back to the server.
//
// All state changes happen on one goroutine, the main sequence. Network and
// file work runs on a small pool of workers and reports back to the main
// sequence.
package updateclient
