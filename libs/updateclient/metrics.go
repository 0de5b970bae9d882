// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package updateclient

import (
	"go.chromium.org/luci/common/tsmon/distribution"
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
	"go.chromium.org/luci/common/tsmon/types"
)

var (
	updateChecks = metric.NewCounter("chrome/infra/updateclient/update_checks",
		"Number of update checks, by result code.",
		nil,
		field.Int("code"))

	installs = metric.NewCounter("chrome/infra/updateclient/installs",
		"Number of install attempts, by package kind and error category.",
		nil,
		field.String("kind"),
		field.Int("category"))

	updates = metric.NewCounter("chrome/infra/updateclient/updates",
		"Number of completed Update and Install calls, by result.",
		nil,
		field.Bool("foreground"),
		field.Int("error"))

	updateDuration = metric.NewCumulativeDistribution("chrome/infra/updateclient/update_duration",
		"Duration of completed Update and Install calls.",
		&types.MetricMetadata{Units: types.Seconds},
		distribution.DefaultBucketer,
		field.Bool("foreground"))
)
