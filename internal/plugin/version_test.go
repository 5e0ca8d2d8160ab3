// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stratalab/strata/internal/plugin"
)

func TestParseVersion_Lenient(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "1.2.3", "1.2.3"},
		{"v prefix", "v2.0.1", "2.0.1"},
		{"partial", "1.2", "1.2.0"},
		{"major only", "3", "3.0.0"},
		{"whitespace", "  1.0.0  ", "1.0.0"},
		{"empty", "", "0.0.0"},
		{"garbage", "not-a-version", "0.0.0"},
		{"prerelease", "1.0.0-beta.1", "1.0.0-beta.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plugin.ParseVersion(tt.input).String())
		})
	}
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, plugin.CompareVersions("1.0.0", "1.0.1"))
	assert.Equal(t, 1, plugin.CompareVersions("2.0.0", "1.9.9"))
	assert.Equal(t, 0, plugin.CompareVersions("1.2.0", "1.2"))

	// Garbage loses to anything real and ties with other garbage.
	assert.Equal(t, -1, plugin.CompareVersions("junk", "0.0.1"))
	assert.Equal(t, 0, plugin.CompareVersions("junk", "also junk"))
}

func TestMaxIndexVersion(t *testing.T) {
	records := []plugin.RemotePluginRecord{
		{ID: "a", Version: "1.0.0"},
		{ID: "b", Version: "2.3.1"},
		{ID: "c", Version: "not parseable"},
		{ID: "d", Version: "2.3.0"},
	}
	assert.Equal(t, "2.3.1", plugin.MaxIndexVersion(records).String())
}

func TestMaxIndexVersion_Empty(t *testing.T) {
	assert.Equal(t, "0.0.0", plugin.MaxIndexVersion(nil).String())
}
