// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// HostCallbacks is the narrow contract the host application implements so
// the core can report catalog changes. The core only calls these; menu and
// sidebar mutation stays the host's business.
type HostCallbacks interface {
	// OnPluginsChanged fires after enable/disable apply, install, or
	// uninstall, so the host can reload its active plugin set.
	OnPluginsChanged()

	// RemoveMenuEntry fires when a plugin is disabled or uninstalled so the
	// host UI reflects the change immediately.
	RemoveMenuEntry(pluginID string, rec PluginRecord)

	// RemoveHardwareEntry fires for hardware-category plugins, which the
	// host lists separately.
	RemoveHardwareEntry(name, icon string)
}

// NopHostCallbacks is a no-op host, used when the core runs headless.
type NopHostCallbacks struct{}

func (NopHostCallbacks) OnPluginsChanged()                    {}
func (NopHostCallbacks) RemoveMenuEntry(string, PluginRecord) {}
func (NopHostCallbacks) RemoveHardwareEntry(string, string)   {}

// Manager is the explicit plugin-manager context: it owns the scanner,
// fetcher, installer, resolver, and state store, and is constructed once and
// passed by reference. There are no package-level singletons.
type Manager struct {
	scanner      *Scanner
	fetcher      *Fetcher
	installer    *Installer
	resolver     *Resolver
	depInstaller *DepInstaller
	state        *StateStore
	host         HostCallbacks

	events chan Event

	mu     sync.RWMutex
	local  map[Category][]PluginRecord
	remote *SelectionResult
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithHostCallbacks wires the host application's callback surface.
func WithHostCallbacks(h HostCallbacks) ManagerOption {
	return func(m *Manager) {
		m.host = h
	}
}

// WithProbeTimeout overrides the per-source probe timeout.
func WithProbeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.fetcher = NewFetcher(m.fetcher.Sources(), NewProber(d))
	}
}

// WithInstallerOptions passes options through to the secure installer.
func WithInstallerOptions(opts ...InstallerOption) ManagerOption {
	return func(m *Manager) {
		m.installer = NewInstaller(m.scanner, m.state, m.resolver, opts...)
	}
}

// WithResolver replaces the dependency resolver, mainly for tests.
func WithResolver(r *Resolver) ManagerOption {
	return func(m *Manager) {
		m.resolver = r
		m.installer = NewInstaller(m.scanner, m.state, m.resolver)
	}
}

// NewManager creates the plugin manager context.
func NewManager(pluginsDir, stateDir string, sources []*SourceDescriptor, interpreter string, opts ...ManagerOption) *Manager {
	m := &Manager{
		scanner:      NewScanner(pluginsDir),
		state:        NewStateStore(stateDir),
		resolver:     NewResolver(interpreter),
		depInstaller: NewDepInstaller(interpreter),
		fetcher:      NewFetcher(sources, NewProber(0)),
		host:         NopHostCallbacks{},
		events:       make(chan Event, eventBufferSize),
		local:        make(map[Category][]PluginRecord),
	}
	m.installer = NewInstaller(m.scanner, m.state, m.resolver)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Rescan rebuilds the local catalog snapshot wholesale and republishes the
// generated index. The previous snapshot is replaced, never patched.
func (m *Manager) Rescan(ctx context.Context) (map[Category][]PluginRecord, error) {
	catalog, err := m.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.scanner.WriteIndex(catalog); err != nil {
		// The in-memory catalog is still valid; index readers keep the
		// previous file.
		slog.Warn("failed to write local plugin index", "error", err)
	}

	m.mu.Lock()
	m.local = catalog
	m.mu.Unlock()
	return catalog, nil
}

// RefreshRemote races all sources on a worker goroutine and posts the result
// to the event queue. If a fetch is already in flight the call is a no-op
// and returns false.
func (m *Manager) RefreshRemote(ctx context.Context) bool {
	if m.fetcher.inFlight.Load() {
		return false
	}
	go func() {
		sel, err := m.fetcher.FetchBest(ctx)
		if err != nil {
			if errors.Is(err, ErrFetchInFlight) {
				return
			}
			m.emit(Event{Type: EventRemoteFailed, Err: err})
			return
		}
		m.mu.Lock()
		m.remote = sel
		m.mu.Unlock()
		m.emit(Event{Type: EventRemoteUpdated, Selection: sel})
	}()
	return true
}

// FetchRemote is the synchronous form of RefreshRemote, for callers that are
// not running a control loop (the CLI). Single-flight still applies.
func (m *Manager) FetchRemote(ctx context.Context) (*SelectionResult, error) {
	sel, err := m.fetcher.FetchBest(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.remote = sel
	m.mu.Unlock()
	return sel, nil
}

// Remote returns the last successful selection, or nil before any fetch.
func (m *Manager) Remote() *SelectionResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remote
}

// Local returns the current local catalog snapshot for one category.
func (m *Manager) Local(cat Category) []PluginRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.local[cat]
}

// Merged returns the joined local+remote view for one category.
func (m *Manager) Merged(cat Category) []MergedEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var remote []RemotePluginRecord
	if m.remote != nil {
		remote = m.remote.Records[cat]
	}
	return Merge(m.local[cat], remote)
}

// MergedAll returns the joined view across every category.
func (m *Manager) MergedAll() []MergedEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var local []PluginRecord
	var remote []RemotePluginRecord
	for _, cat := range Categories {
		local = append(local, m.local[cat]...)
		if m.remote != nil {
			remote = append(remote, m.remote.Records[cat]...)
		}
	}
	return Merge(local, remote)
}

// Install downloads and publishes the identified remote plugin, then checks
// its dependencies and updates state. Update is the same operation; the
// caller supplies the framing.
func (m *Manager) Install(ctx context.Context, id string) (*InstallOutcome, error) {
	m.mu.RLock()
	var rec RemotePluginRecord
	var ok bool
	if m.remote != nil {
		rec, ok = m.remote.ByID[id]
	}
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotInstalled
	}

	outcome, err := m.installer.Install(ctx, rec, func(bytes, total int64) {
		m.emit(Event{Type: EventProgress, PluginID: id, Bytes: bytes, Total: total})
	})
	if err != nil {
		m.emit(Event{Type: EventInstallFailed, PluginID: id, Err: err})
		return nil, err
	}

	// Refresh the local snapshot so the new file shows up merged.
	if _, rescanErr := m.Rescan(ctx); rescanErr != nil {
		slog.Warn("post-install rescan failed", "error", rescanErr)
	}

	m.emit(Event{Type: EventInstalled, PluginID: id})
	m.host.OnPluginsChanged()
	return outcome, nil
}

// Update replaces an already-present plugin with the remote version. It is
// the install path with different framing: the atomic rename overwrites the
// existing file, and the plugin's enabled state carries over untouched.
func (m *Manager) Update(ctx context.Context, id string) (*InstallOutcome, error) {
	if m.findLocal(id) == nil {
		return nil, ErrNotInstalled
	}
	return m.Install(ctx, id)
}

// Uninstall removes a plugin. Store-installed plugins lose their backing
// file; locally authored ones only leave the catalog and state.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	rec := m.findLocal(id)

	if err := m.installer.Uninstall(id, rec); err != nil {
		return err
	}

	if rec != nil {
		m.host.RemoveMenuEntry(id, *rec)
		if rec.Category == CategoryHardware {
			m.host.RemoveHardwareEntry(rec.DisplayName(), rec.Icon)
		}
	}

	if _, err := m.Rescan(ctx); err != nil {
		slog.Warn("post-uninstall rescan failed", "error", err)
	}

	m.emit(Event{Type: EventUninstalled, PluginID: id})
	m.host.OnPluginsChanged()
	return nil
}

// SetEnabled flips one plugin's enabled flag and persists it. Disabling
// triggers the host's removal callbacks immediately.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	if !enabled {
		if rec := m.findLocal(id); rec != nil {
			m.host.RemoveMenuEntry(id, *rec)
			if rec.Category == CategoryHardware {
				m.host.RemoveHardwareEntry(rec.DisplayName(), rec.Icon)
			}
		}
	}

	err := m.state.SaveEnabled(map[string]bool{id: enabled})
	if err != nil {
		StateSaveFailures.Inc()
		slog.Warn("failed to persist enabled state, keeping in memory",
			"plugin", id,
			"error", err)
	}
	m.host.OnPluginsChanged()
	return err
}

// ApplyEnabled overlays a batch of enabled changes. Ids the caller never
// touched keep their persisted value, so categories the user never visited
// are not wiped.
func (m *Manager) ApplyEnabled(changes map[string]bool) error {
	err := m.state.SaveEnabled(changes)
	if err != nil {
		StateSaveFailures.Inc()
		slog.Warn("failed to persist enabled state, keeping in memory", "error", err)
	}
	m.host.OnPluginsChanged()
	return err
}

// Enabled reports whether a plugin id is currently enabled.
func (m *Manager) Enabled(id string) bool {
	return m.state.Enabled(id)
}

// State exposes the durable state store.
func (m *Manager) State() *StateStore {
	return m.state
}

// CheckDependencies returns the plugin's requirements that are missing from
// the runtime. Unknown ids have no requirements.
func (m *Manager) CheckDependencies(ctx context.Context, id string) []string {
	if rec := m.findLocal(id); rec != nil {
		return m.resolver.CheckMissing(ctx, rec.Requires)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.remote != nil {
		if rec, ok := m.remote.ByID[id]; ok {
			return m.resolver.CheckMissing(ctx, rec.Requires)
		}
	}
	return nil
}

// InstallDependencies spawns the package installer for the given packages
// and returns its output stream for polling.
func (m *Manager) InstallDependencies(ctx context.Context, packages []string) *InstallStream {
	return m.depInstaller.Install(ctx, packages)
}

// findLocal looks a plugin id up in the current local snapshot.
func (m *Manager) findLocal(id string) *PluginRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, records := range m.local {
		for i := range records {
			if records[i].ID == id {
				rec := records[i]
				return &rec
			}
		}
	}
	return nil
}
