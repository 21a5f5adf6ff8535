//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package version

import (
	"fmt"
	"regexp"
	"runtime"
	"time"

	"github.com/mongoose-os/wchflash/cli/ourutil"
)

type VersionJson struct {
	BuildId        string    `json:"build_id"`
	BuildTimestamp time.Time `json:"build_timestamp"`
	BuildVersion   string    `json:"build_version"`
}

const (
	LatestVersionName = "latest"
)

var (
	regexpVersionNumber = regexp.MustCompile(`^\d+\.[0-9.]*$`)
	regexpBuildId       = regexp.MustCompile(`^(?P<ts>\d{14})/(?P<branch>[^@]+)@(?P<hash>[0-9a-f]+)(?P<dirty>\+?)$`)
)

// GetVersion returns this binary's version, or "latest" if it's not a release build.
func GetVersion() string {
	if looksLikeVersionNumber(Version) {
		return Version
	}
	return LatestVersionName
}

func looksLikeVersionNumber(s string) bool {
	return regexpVersionNumber.MatchString(s)
}

// GetVersionJson describes this build. The timestamp is BuildTimestamp
// (RFC 3339) if set, otherwise it is taken from BuildId. Build ids look like
// 20190304122332/master@79d86877 with a trailing + for dirty trees.
func GetVersionJson() *VersionJson {
	vj := &VersionJson{BuildId: BuildId, BuildVersion: GetVersion()}
	if ts, err := time.Parse(time.RFC3339, BuildTimestamp); err == nil {
		vj.BuildTimestamp = ts.UTC()
	} else if m := ourutil.FindNamedSubmatches(regexpBuildId, BuildId); m != nil {
		if ts, err := time.Parse("20060102150405", m["ts"]); err == nil {
			vj.BuildTimestamp = ts
		}
	}
	return vj
}

// IsDirtyBuild reports whether the binary was built from a modified tree.
func IsDirtyBuild() bool {
	m := ourutil.FindNamedSubmatches(regexpBuildId, BuildId)
	return m != nil && m["dirty"] != ""
}

func GetUserAgent() string {
	return fmt.Sprintf("wchflash/%s %s (%s; %s)", Version, BuildId, runtime.GOOS, runtime.GOARCH)
}
