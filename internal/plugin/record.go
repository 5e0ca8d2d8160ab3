// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

// Package plugin provides plugin catalog discovery, remote index negotiation,
// checksum-verified installation, and durable enable/ownership state.
package plugin

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Category identifies which tab/directory a plugin belongs to.
type Category string

// Plugin categories supported by the workbench.
const (
	CategoryAddOns   Category = "add-ons"
	CategorySoftware Category = "software"
	CategoryHardware Category = "hardware"
)

// Categories lists all valid categories in display order.
var Categories = []Category{CategoryAddOns, CategorySoftware, CategoryHardware}

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryAddOns, CategorySoftware, CategoryHardware:
		return true
	}
	return false
}

// PluginRecord describes one locally discovered plugin. Records are immutable
// snapshots: each rescan rebuilds the full set.
type PluginRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	Version     string   `json:"version,omitempty"`
	Category    Category `json:"category"`
	Icon        string   `json:"icon,omitempty"`
	Description string   `json:"description,omitempty"`
	Requires    []string `json:"requires,omitempty"`
	Path        string   `json:"path,omitempty"`
	Module      string   `json:"module,omitempty"`
	Broken      bool     `json:"broken,omitempty"`
}

// DisplayName returns the name, falling back to the id when absent.
func (r PluginRecord) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// RemotePluginRecord describes one plugin entry from a remote catalog index.
type RemotePluginRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description,omitempty"`
	Author      string   `json:"author,omitempty"`
	Category    Category `json:"category,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Requires    []string `json:"requires,omitempty"`
	DownloadURL string   `json:"download_url"`
	// SHA256 is the expected artifact digest, hex-encoded. When empty,
	// verification is skipped (documented weaker guarantee).
	SHA256 string `json:"sha256,omitempty"`
}

// DisplayName returns the name, falling back to the id when absent.
func (r RemotePluginRecord) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// SourceDescriptor identifies one remote catalog source. LastSuccess and
// AvgResponseTime are soft telemetry only, never correctness-critical.
type SourceDescriptor struct {
	Name     string `json:"name" koanf:"name"`
	IndexURL string `json:"index_url" koanf:"index_url"`
	BaseURL  string `json:"base_url,omitempty" koanf:"base_url"`
	// Priority breaks fetch-selection ties; lower is preferred.
	Priority int `json:"priority" koanf:"priority"`

	LastSuccess     time.Time     `json:"-" koanf:"-"`
	AvgResponseTime time.Duration `json:"-" koanf:"-"`
}

// EntryKind classifies a merged catalog entry.
type EntryKind string

// Merged entry kinds.
const (
	KindLocal  EntryKind = "local"
	KindRemote EntryKind = "remote"
	KindBoth   EntryKind = "both"
)

// MergedEntry is the per-id join of the local and remote catalogs. It is
// recomputed on every view refresh, never persisted.
type MergedEntry struct {
	ID     string
	Local  *PluginRecord
	Remote *RemotePluginRecord
	Kind   EntryKind
}

// DisplayName returns the best available display name for sorting and UI.
func (e MergedEntry) DisplayName() string {
	if e.Local != nil && e.Local.Name != "" {
		return e.Local.Name
	}
	if e.Remote != nil && e.Remote.Name != "" {
		return e.Remote.Name
	}
	return e.ID
}

// UpdateAvailable reports whether the remote side carries a strictly newer
// version than the local side.
func (e MergedEntry) UpdateAvailable() bool {
	if e.Kind != KindBoth {
		return false
	}
	return CompareVersions(e.Remote.Version, e.Local.Version) > 0
}

// IDFromFilename derives a stable plugin id from a source filename,
// e.g. "XRF Mapper.py" -> "xrf-mapper". Used for broken-record fallbacks
// and for metadata that omits an id, so the result is never empty: when no
// slug characters survive (a filename with no ASCII letters or digits), the
// id falls back to a hash of the name. Distinct filenames can still collapse
// to the same slug ("a b.py" and "a-b.py" both yield "a-b"); such files are
// treated as the same plugin.
func IDFromFilename(name string) string {
	base := name
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	base = strings.ToLower(strings.TrimSpace(base))
	var b strings.Builder
	lastHyphen := true // trim leading separators
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		sum := sha256.Sum256([]byte(base))
		return "plugin-" + hex.EncodeToString(sum[:4])
	}
	return slug
}
