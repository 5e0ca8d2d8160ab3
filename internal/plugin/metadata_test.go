// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratalab/strata/internal/plugin"
)

func TestExtractMetadata(t *testing.T) {
	src := []byte(`
import numpy as np

PLUGIN_INFO = {
    'id': 'xrf-mapper',
    "name": "XRF Mapper",
    'version': '1.2.0',  # bump with every release
    'category': 'software',
    'requires': ['numpy', 'opencv-python'],
    'settings': {'gain': 1.5, 'channels': 4, 'auto': True, 'label': None},
}

def run():
    pass
`)

	meta, err := plugin.ExtractMetadata(src)
	require.NoError(t, err)

	assert.Equal(t, "xrf-mapper", meta["id"])
	assert.Equal(t, "XRF Mapper", meta["name"])
	assert.Equal(t, "1.2.0", meta["version"])
	assert.Equal(t, []any{"numpy", "opencv-python"}, meta["requires"])

	settings, ok := meta["settings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.5, settings["gain"])
	assert.Equal(t, float64(4), settings["channels"])
	assert.Equal(t, true, settings["auto"])
	assert.Nil(t, settings["label"])
}

func TestExtractMetadata_StringEscapes(t *testing.T) {
	src := []byte(`PLUGIN_INFO = {'description': 'It\'s a "scanner"\nline two'}`)

	meta, err := plugin.ExtractMetadata(src)
	require.NoError(t, err)
	assert.Equal(t, "It's a \"scanner\"\nline two", meta["description"])
}

func TestExtractMetadata_BracesInsideStrings(t *testing.T) {
	src := []byte(`PLUGIN_INFO = {
    'name': 'Curly {brace} plugin',  # } in a comment too
    'version': '1.0.0',
}`)

	meta, err := plugin.ExtractMetadata(src)
	require.NoError(t, err)
	assert.Equal(t, "Curly {brace} plugin", meta["name"])
}

func TestExtractMetadata_NoAssignment(t *testing.T) {
	_, err := plugin.ExtractMetadata([]byte("def run():\n    pass\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLUGIN_INFO")
}

func TestExtractMetadata_IndentedAssignmentIgnored(t *testing.T) {
	// Only a top-level assignment counts; one buried in a function does not.
	src := []byte("def setup():\n    PLUGIN_INFO = {'id': 'x'}\n")
	_, err := plugin.ExtractMetadata(src)
	require.Error(t, err)
}

func TestExtractMetadata_UnbalancedBraces(t *testing.T) {
	_, err := plugin.ExtractMetadata([]byte(`PLUGIN_INFO = {'name': 'broken'`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unbalanced")
}

func TestExtractMetadata_RejectsExpressions(t *testing.T) {
	// Anything beyond plain literals is a parse error, never evaluated.
	sources := [][]byte{
		[]byte(`PLUGIN_INFO = {'name': os.system('true')}`),
		[]byte(`PLUGIN_INFO = {'version': get_version()}`),
		[]byte(`PLUGIN_INFO = {'path': __file__}`),
	}
	for _, src := range sources {
		_, err := plugin.ExtractMetadata(src)
		assert.Error(t, err, "source %q should not parse", src)
	}
}

func TestIDFromFilename(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"XRF Mapper.py", "xrf-mapper"},
		{"simple.py", "simple"},
		{"Spectrum_Viewer (v2).py", "spectrum-viewer-v2"},
		{"already-kebab.py", "already-kebab"},
		{"  spaced  .py", "spaced"},
		{"a b.py", "a-b"},
		{"a-b.py", "a-b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, plugin.IDFromFilename(tt.input), "input %q", tt.input)
	}
}

func TestIDFromFilename_NonASCIINamesStayAddressable(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Спектр.py", "plugin-47331821"},
		{"数据分析.py", "plugin-5d8ec6f6"},
		{"!!!.py", "plugin-e84c538e"},
	}
	for _, tt := range tests {
		got := plugin.IDFromFilename(tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		// Same file always maps to the same id, different files differ.
		assert.Equal(t, got, plugin.IDFromFilename(tt.input))
	}
	assert.NotEqual(t,
		plugin.IDFromFilename("Спектр.py"),
		plugin.IDFromFilename("数据分析.py"))
}
