// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import "github.com/samber/oops"

// Error codes group failures by the recovery policy the caller should apply:
// discovery and network errors degrade locally, security and dependency
// errors surface to the user, persistence errors leave memory authoritative.
var (
	// ErrUnknownCategory is returned when an install targets a category the
	// workbench does not know.
	ErrUnknownCategory = oops.Code("PLUGIN_UNKNOWN_CATEGORY").Errorf("unknown plugin category")

	// ErrChecksumMismatch is returned when a downloaded artifact does not
	// match its expected SHA-256 digest. The artifact is never installed.
	ErrChecksumMismatch = oops.Code("PLUGIN_CHECKSUM_MISMATCH").Errorf("artifact checksum mismatch")

	// ErrFetchInFlight is returned when a remote fetch is already running;
	// callers should treat it as a no-op, not a failure.
	ErrFetchInFlight = oops.Code("PLUGIN_FETCH_IN_FLIGHT").Errorf("remote fetch already in flight")

	// ErrNotInstalled is returned when an operation references a plugin id
	// absent from both catalogs.
	ErrNotInstalled = oops.Code("PLUGIN_NOT_INSTALLED").Errorf("plugin not installed")
)

// Error code constants used with oops for wrapped, contextual errors.
const (
	codeDiscoveryFailed  = "PLUGIN_DISCOVERY_FAILED"
	codeFetchFailed      = "PLUGIN_FETCH_FAILED"
	codeDownloadFailed   = "PLUGIN_DOWNLOAD_FAILED"
	codeDependencyFailed = "PLUGIN_DEPENDENCY_FAILED"
	codeStateSaveFailed  = "PLUGIN_STATE_SAVE_FAILED"
)
