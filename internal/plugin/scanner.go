// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// reservedPatterns name files the scanner must never treat as plugins.
var reservedPatterns = []string{
	"__*__*",  // __init__.py, __pycache__
	".*",      // hidden files
	"*.pyc",   // bytecode
	"base.py", // shared plugin scaffolding, not a plugin
	"plugins.json",
}

// indexFilename is the generated local index written next to the category
// directories.
const indexFilename = "plugins.json"

// Scanner builds the local plugin catalog by statically extracting metadata
// from plugin source files. Plugin code is never executed during discovery.
type Scanner struct {
	root     string
	reserved []glob.Glob
}

// NewScanner creates a scanner rooted at the plugins directory.
func NewScanner(root string) *Scanner {
	reserved := make([]glob.Glob, 0, len(reservedPatterns))
	for _, p := range reservedPatterns {
		reserved = append(reserved, glob.MustCompile(p))
	}
	return &Scanner{root: root, reserved: reserved}
}

// Root returns the plugins directory the scanner operates on.
func (s *Scanner) Root() string { return s.root }

// CategoryDir returns the directory holding one category's plugin files.
func (s *Scanner) CategoryDir(c Category) string {
	return filepath.Join(s.root, string(c))
}

// Scan walks every category directory and returns the full local catalog,
// creating missing category directories on the way. Files whose metadata
// cannot be parsed are kept visible as broken records so they can still be
// listed and removed. Only an unreadable directory aborts the scan.
func (s *Scanner) Scan(ctx context.Context) (map[Category][]PluginRecord, error) {
	catalog := make(map[Category][]PluginRecord, len(Categories))

	for _, cat := range Categories {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := s.CategoryDir(cat)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, oops.Code(codeDiscoveryFailed).With("dir", dir).Wrap(err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, oops.Code(codeDiscoveryFailed).With("dir", dir).Wrap(err)
		}

		var records []PluginRecord
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || s.isReserved(name) || !strings.HasSuffix(name, ".py") {
				continue
			}
			records = append(records, s.scanFile(dir, name, cat))
		}

		sortRecords(records)
		catalog[cat] = records
	}

	return catalog, nil
}

// scanFile extracts one plugin record, falling back to a broken record on
// any read or parse failure.
func (s *Scanner) scanFile(dir, name string, cat Category) PluginRecord {
	path := filepath.Join(dir, name)

	src, err := os.ReadFile(path) //nolint:gosec // path is constructed from ReadDir entries
	if err != nil {
		slog.Warn("unreadable plugin file, emitting broken record",
			"file", name,
			"error", err)
		return brokenRecord(name, path, cat)
	}

	meta, err := ExtractMetadata(src)
	if err != nil {
		slog.Warn("plugin metadata parse failed, emitting broken record",
			"file", name,
			"error", err)
		return brokenRecord(name, path, cat)
	}

	rec := recordFromMetadata(meta, name, cat)
	rec.Path = path
	if rec.Module == "" {
		rec.Module = strings.TrimSuffix(name, ".py")
	}
	return rec
}

// brokenRecord is the placeholder for a file the scanner could not parse.
// It stays visible and removable instead of disappearing silently.
func brokenRecord(name, path string, cat Category) PluginRecord {
	return PluginRecord{
		ID:       IDFromFilename(name),
		Name:     strings.TrimSuffix(name, ".py"),
		Category: cat,
		Path:     path,
		Module:   strings.TrimSuffix(name, ".py"),
		Broken:   true,
	}
}

func (s *Scanner) isReserved(name string) bool {
	for _, g := range s.reserved {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// WriteIndex publishes the generated local index atomically to
// plugins/plugins.json. Readers never observe a partially written index.
func (s *Scanner) WriteIndex(catalog map[Category][]PluginRecord) error {
	all := make([]PluginRecord, 0)
	for _, cat := range Categories {
		all = append(all, catalog[cat]...)
	}
	sortRecords(all)

	data, err := marshalIndent(all)
	if err != nil {
		return oops.Code(codeDiscoveryFailed).Wrap(err)
	}
	if err := writeFileAtomic(filepath.Join(s.root, indexFilename), data); err != nil {
		return oops.Code(codeDiscoveryFailed).Wrap(err)
	}
	return nil
}

// sortRecords orders records case-insensitively by display name with the id
// as tiebreaker, matching the merged view's display contract.
func sortRecords(records []PluginRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a := strings.ToLower(records[i].DisplayName())
		b := strings.ToLower(records[j].DisplayName())
		if a != b {
			return a < b
		}
		return records[i].ID < records[j].ID
	})
}
