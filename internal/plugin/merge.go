// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"sort"
	"strings"
)

// Merge joins the local and remote catalogs keyed by plugin id. An id present
// on both sides is KindBoth; otherwise KindLocal or KindRemote. The result is
// ordered case-insensitively by display name, falling back to id. The
// ordering is part of the view contract and must stay deterministic.
//
// Merge is a pure function: no network, no disk, identical inputs yield an
// identical ordered list.
func Merge(local []PluginRecord, remote []RemotePluginRecord) []MergedEntry {
	entries := make(map[string]*MergedEntry, len(local)+len(remote))

	for i := range local {
		rec := local[i]
		entries[rec.ID] = &MergedEntry{
			ID:    rec.ID,
			Local: &rec,
			Kind:  KindLocal,
		}
	}

	for i := range remote {
		rec := remote[i]
		if e, ok := entries[rec.ID]; ok {
			e.Remote = &rec
			e.Kind = KindBoth
			continue
		}
		entries[rec.ID] = &MergedEntry{
			ID:     rec.ID,
			Remote: &rec,
			Kind:   KindRemote,
		}
	}

	out := make([]MergedEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a := strings.ToLower(out[i].DisplayName())
		b := strings.ToLower(out[j].DisplayName())
		if a != b {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out
}
