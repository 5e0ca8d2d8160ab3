// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/samber/oops"
)

// State filenames inside the config directory.
const (
	enabledFilename    = "enabled_plugins.json"
	downloadedFilename = "downloaded_plugins.json"
)

// StateStore persists the enabled-plugin map and the store-installed set.
// Every write goes through write-to-temp-then-rename in the target
// directory, so a crash mid-write never corrupts the previous valid state.
// All load-modify-save cycles are serialized by one mutex so concurrent
// install completions cannot lose updates.
type StateStore struct {
	dir string

	mu               sync.Mutex
	enabled          map[string]bool
	downloaded       map[string]struct{}
	enabledLoaded    bool
	downloadedLoaded bool
}

// NewStateStore creates a state store rooted at the config directory.
func NewStateStore(dir string) *StateStore {
	return &StateStore{
		dir:        dir,
		enabled:    make(map[string]bool),
		downloaded: make(map[string]struct{}),
	}
}

// LoadEnabled returns the persisted enabled-plugin map. A missing file is an
// empty map; a corrupt file degrades to empty with a warning rather than
// failing startup.
func (s *StateStore) LoadEnabled() (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadEnabledLocked(); err != nil {
		return nil, err
	}
	return copyBoolMap(s.enabled), nil
}

// SaveEnabled overlays the caller's changes onto the last fully-loaded state
// and persists the result. Entries for plugins the caller never touched are
// preserved, so ids belonging to unvisited categories are not wiped.
// A persistence failure is returned but the in-memory state keeps the
// overlay applied; memory stays authoritative for the session.
func (s *StateStore) SaveEnabled(changes map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadEnabledLocked(); err != nil {
		return err
	}
	for id, on := range changes {
		s.enabled[id] = on
	}

	data, err := marshalIndent(s.enabled)
	if err != nil {
		return oops.Code(codeStateSaveFailed).Wrap(err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, enabledFilename), data); err != nil {
		return oops.Code(codeStateSaveFailed).With("file", enabledFilename).Wrap(err)
	}
	return nil
}

// RemoveEnabled drops the given ids from the enabled map entirely and
// persists the result. Used by uninstall, where a lingering entry would
// resurrect state for a plugin that no longer exists.
func (s *StateStore) RemoveEnabled(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadEnabledLocked(); err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.enabled, id)
	}

	data, err := marshalIndent(s.enabled)
	if err != nil {
		return oops.Code(codeStateSaveFailed).Wrap(err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, enabledFilename), data); err != nil {
		return oops.Code(codeStateSaveFailed).With("file", enabledFilename).Wrap(err)
	}
	return nil
}

// Enabled reports whether the given plugin id is enabled.
func (s *StateStore) Enabled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadEnabledLocked(); err != nil {
		return false
	}
	return s.enabled[id]
}

// LoadDownloaded returns the set of plugin ids installed from remote sources.
func (s *StateStore) LoadDownloaded() (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadDownloadedLocked(); err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(s.downloaded))
	for id := range s.downloaded {
		out[id] = struct{}{}
	}
	return out, nil
}

// IsDownloaded reports whether the plugin id was installed from a remote
// source. This gates whether uninstall may delete the backing file.
func (s *StateStore) IsDownloaded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadDownloadedLocked(); err != nil {
		return false
	}
	_, ok := s.downloaded[id]
	return ok
}

// MarkDownloaded records a store-installed plugin and persists the set.
func (s *StateStore) MarkDownloaded(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadDownloadedLocked(); err != nil {
		return err
	}
	s.downloaded[id] = struct{}{}
	return s.saveDownloadedLocked()
}

// UnmarkDownloaded removes a plugin from the store-installed set and
// persists it.
func (s *StateStore) UnmarkDownloaded(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadDownloadedLocked(); err != nil {
		return err
	}
	delete(s.downloaded, id)
	return s.saveDownloadedLocked()
}

func (s *StateStore) loadEnabledLocked() error {
	if s.enabledLoaded {
		return nil
	}
	m := make(map[string]bool)
	if err := readJSONFile(filepath.Join(s.dir, enabledFilename), &m); err != nil {
		return err
	}
	s.enabled = m
	s.enabledLoaded = true
	return nil
}

func (s *StateStore) loadDownloadedLocked() error {
	if s.downloadedLoaded {
		return nil
	}
	var ids []string
	if err := readJSONFile(filepath.Join(s.dir, downloadedFilename), &ids); err != nil {
		return err
	}
	s.downloaded = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.downloaded[id] = struct{}{}
	}
	s.downloadedLoaded = true
	return nil
}

func (s *StateStore) saveDownloadedLocked() error {
	ids := make([]string, 0, len(s.downloaded))
	for id := range s.downloaded {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := marshalIndent(ids)
	if err != nil {
		return oops.Code(codeStateSaveFailed).Wrap(err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, downloadedFilename), data); err != nil {
		return oops.Code(codeStateSaveFailed).With("file", downloadedFilename).Wrap(err)
	}
	return nil
}

// readJSONFile decodes path into v. A missing file leaves v untouched; a
// corrupt file is logged and treated as absent so one bad write can never
// brick startup.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // state paths are owned by this process
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return oops.Code(codeStateSaveFailed).With("file", path).Wrap(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		slog.Warn("state file corrupt, starting from empty state",
			"file", path,
			"error", err)
	}
	return nil
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by a single rename. Readers observe either the old or the new
// complete file, never a half-written one.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish %s: %w", filepath.Base(path), err)
	}
	return nil
}

// marshalIndent renders v as indented JSON with a trailing newline.
func marshalIndent(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return append(data, '\n'), nil
}

func copyBoolMap(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
