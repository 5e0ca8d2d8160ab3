// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
)

func TestAssertErrorCode(t *testing.T) {
	err := oops.Code("PLUGIN_FETCH_FAILED").Errorf("all sources failed")
	AssertErrorCode(t, err, "PLUGIN_FETCH_FAILED")
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.Code("PLUGIN_FETCH_FAILED").With("source", "main").Errorf("probe failed")
	AssertErrorContext(t, err, "source", "main")
}
