// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package protocol

import (
	"encoding/xml"
	"regexp"
)

var (
	attrNameRe  = regexp.MustCompile(`^[-_a-zA-Z0-9]{1,256}$`)
	attrValueRe = regexp.MustCompile(`^[-.,;+_=a-zA-Z0-9]{0,256}$`)
	brandRe     = regexp.MustCompile(`^[a-zA-Z]{4}$`)
)

// IsValidInstallerAttribute checks an installer attribute against the
// restricted character set allowed on the wire.
func IsValidInstallerAttribute(name, value string) bool {
	return attrNameRe.MatchString(name) && attrValueRe.MatchString(value)
}

// IsValidBrand is true for empty brands and for 4 letter brand codes.
func IsValidBrand(brand string) bool {
	return brand == "" || brandRe.MatchString(brand)
}

// InstallerAttributes returns valid attributes sorted by name, silently
// dropping the invalid ones.
func InstallerAttributes(attrs map[string]string) []xml.Attr {
	valid := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if IsValidInstallerAttribute(k, v) {
			valid[k] = v
		}
	}
	return sortedAttrs(valid)
}
