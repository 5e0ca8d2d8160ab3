// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stratalab/strata/internal/plugin"
)

func TestResolver_ModuleFor(t *testing.T) {
	r := plugin.NewResolver("")

	tests := []struct {
		pkg  string
		want string
	}{
		{"opencv-python", "cv2"},
		{"pillow", "PIL"},
		{"pyyaml", "yaml"},
		{"scikit-learn", "sklearn"},
		{"beautifulsoup4", "bs4"},
		{"numpy", "numpy"},
		{"anything-else", "anything-else"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.ModuleFor(tt.pkg), "package %q", tt.pkg)
	}
}

func TestResolver_CheckMissing(t *testing.T) {
	present := map[string]bool{"numpy": true, "cv2": true}
	r := plugin.NewResolver("", plugin.WithImportChecker(
		func(_ context.Context, module string) bool { return present[module] },
	))

	missing := r.CheckMissing(context.Background(),
		[]string{"numpy", "opencv-python", "pyserial", "pillow"})
	assert.Equal(t, []string{"pyserial", "pillow"}, missing)
}

func TestResolver_CheckMissing_UnusableName(t *testing.T) {
	r := plugin.NewResolver("", plugin.WithImportChecker(
		func(context.Context, string) bool { return true },
	))

	// A requirement the interpreter cannot be asked about counts as missing
	// rather than being passed to the interpreter.
	missing := r.CheckMissing(context.Background(), []string{"numpy>=1.20", "os; rm -rf /"})
	assert.Equal(t, []string{"numpy>=1.20", "os; rm -rf /"}, missing)
}

func TestResolver_CheckMissing_Empty(t *testing.T) {
	r := plugin.NewResolver("")
	assert.Nil(t, r.CheckMissing(context.Background(), nil))
}

// writeScript drops an executable stand-in for the plugin interpreter.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-interp")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700)) //nolint:gosec // test fixture must be executable
	return path
}

func drainStream(t *testing.T, stream *plugin.InstallStream) ([]string, plugin.InstallResult) {
	t.Helper()
	var lines []string
	for line := range stream.Lines {
		lines = append(lines, line)
	}
	select {
	case res := <-stream.Result:
		return lines, res
	case <-time.After(10 * time.Second):
		t.Fatal("installer result never arrived")
		return nil, plugin.InstallResult{}
	}
}

func TestDepInstaller_StreamsOutput(t *testing.T) {
	defer goleak.VerifyNone(t)

	interp := writeScript(t, `echo "Collecting numpy"
echo "warning: no cache" 1>&2
echo "Successfully installed numpy"
exit 0`)

	di := plugin.NewDepInstaller(interp)
	stream := di.Install(context.Background(), []string{"numpy"})

	lines, res := drainStream(t, stream)
	assert.Equal(t, []string{
		"Collecting numpy",
		"warning: no cache",
		"Successfully installed numpy",
	}, lines)
	assert.Equal(t, 0, res.Code)
	assert.NoError(t, res.Err)
}

func TestDepInstaller_ReportsExitCode(t *testing.T) {
	defer goleak.VerifyNone(t)

	interp := writeScript(t, `echo "ERROR: no matching distribution"
exit 3`)

	di := plugin.NewDepInstaller(interp)
	lines, res := drainStream(t, di.Install(context.Background(), []string{"no-such-pkg"}))

	assert.Equal(t, []string{"ERROR: no matching distribution"}, lines)
	assert.Equal(t, 3, res.Code)
	assert.NoError(t, res.Err)
}

func TestDepInstaller_StartFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	di := plugin.NewDepInstaller(filepath.Join(t.TempDir(), "does-not-exist"))
	lines, res := drainStream(t, di.Install(context.Background(), []string{"numpy"}))

	assert.Empty(t, lines)
	assert.Equal(t, -1, res.Code)
	require.Error(t, res.Err)
}
