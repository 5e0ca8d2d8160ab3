// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// zeroVersion stands in for any version string that cannot be parsed.
// Parse inconsistencies are never fatal: an unparseable version simply
// loses every comparison.
var zeroVersion = semver.New(0, 0, 0, "", "")

// ParseVersion parses a dotted version string leniently. Garbage, empty
// strings, and partial versions all yield a usable version; partial versions
// ("1.2") are zero-extended.
func ParseVersion(s string) *semver.Version {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "v"))
	if s == "" {
		return zeroVersion
	}
	v, err := semver.NewVersion(s)
	if err != nil {
		return zeroVersion
	}
	return v
}

// CompareVersions orders two dotted version strings: -1 when a < b, 0 when
// equal, +1 when a > b.
func CompareVersions(a, b string) int {
	return ParseVersion(a).Compare(ParseVersion(b))
}

// MaxIndexVersion derives the highest version advertised across an index.
// An empty index reports 0.0.0.
func MaxIndexVersion(records []RemotePluginRecord) *semver.Version {
	best := zeroVersion
	for _, r := range records {
		if v := ParseVersion(r.Version); v.GreaterThan(best) {
			best = v
		}
	}
	return best
}
