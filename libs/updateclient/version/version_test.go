// Copyright 2019 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package version

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestVersion(t *testing.T) {
	t.Parallel()

	Convey("Parse", t, func() {
		for _, good := range []string{"0", "0.9", "1.0", "1.2.3.4", "1.02", "4294967295"} {
			v, err := Parse(good)
			So(err, ShouldBeNil)
			So(v.IsValid(), ShouldBeTrue)
		}
		for _, bad := range []string{"", ".", "1.", ".1", "1..2", "01.1", "1.a", "-1", "+1", " 1", "4294967296"} {
			_, err := Parse(bad)
			So(err, ShouldNotBeNil)
		}
		So(Version{}.IsValid(), ShouldBeFalse)
	})

	Convey("Compare", t, func() {
		So(MustParse("1.0").Compare(MustParse("1.0.0")), ShouldEqual, 0)
		So(MustParse("0.9").Compare(MustParse("1.0")), ShouldEqual, -1)
		So(MustParse("1.10").Compare(MustParse("1.9")), ShouldEqual, 1)
		So(MustParse("1.0.0.1").Compare(MustParse("1.0")), ShouldEqual, 1)
	})

	Convey("IsNewer", t, func() {
		So(IsNewer(MustParse("0.9"), "1.0"), ShouldBeTrue)
		So(IsNewer(MustParse("1.0"), "1.0"), ShouldBeFalse)
		So(IsNewer(MustParse("1.0"), "0.9"), ShouldBeFalse)
		So(IsNewer(MustParse("1.0"), "garbage"), ShouldBeFalse)
	})

	Convey("Text round trip", t, func() {
		var v Version
		So(v.UnmarshalText([]byte("2.3.4")), ShouldBeNil)
		b, err := v.MarshalText()
		So(err, ShouldBeNil)
		So(string(b), ShouldEqual, "2.3.4")
	})
}
