// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratalab/strata/internal/plugin"
)

func TestGenerateIndexSchema(t *testing.T) {
	data, err := plugin.GenerateIndexSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, "array", schema["type"])
	assert.Equal(t, plugin.GetSchemaID(), schema["$id"])

	items, ok := schema["items"].(map[string]any)
	require.True(t, ok)
	props, ok := items["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"id", "name", "version", "download_url", "sha256", "category", "requires"} {
		assert.Contains(t, props, field)
	}
}

func TestValidateIndex(t *testing.T) {
	valid, err := json.Marshal([]plugin.RemotePluginRecord{
		{
			ID:          "xrf-mapper",
			Name:        "XRF Mapper",
			Version:     "1.2.0",
			Category:    plugin.CategorySoftware,
			DownloadURL: "https://plugins.example.com/xrf-mapper.py",
			SHA256:      "0123456789abcdef",
		},
	})
	require.NoError(t, err)
	assert.NoError(t, plugin.ValidateIndex(valid))

	// An empty index is still a valid index.
	assert.NoError(t, plugin.ValidateIndex([]byte(`[]`)))
}

func TestValidateIndex_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty input", ""},
		{"not json", "pluginz!"},
		{"object instead of array", `{"id": "x"}`},
		{"missing required fields", `[{"id": "x"}]`},
		{"wrong field type", `[{"id": "x", "name": "X", "version": 1, "download_url": "u"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := plugin.ValidateIndex([]byte(tt.data))
			require.Error(t, err)
			assert.NotEmpty(t, plugin.FormatSchemaError(err))
		})
	}
}
