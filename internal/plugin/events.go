// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

package plugin

import "log/slog"

// eventBufferSize bounds the control-loop queue. Workers never block on the
// control loop; an overfull queue drops with a warning instead.
const eventBufferSize = 256

// EventType identifies what a queued event reports.
type EventType string

// Event types delivered to the control loop.
const (
	EventRemoteUpdated EventType = "remote_updated"
	EventRemoteFailed  EventType = "remote_failed"
	EventProgress      EventType = "progress"
	EventInstalled     EventType = "installed"
	EventInstallFailed EventType = "install_failed"
	EventUninstalled   EventType = "uninstalled"
)

// Event is one worker result marshaled onto the control loop. Workers must
// never mutate UI-bound state directly; they post events here and the
// control loop drains the queue once per tick.
type Event struct {
	Type     EventType
	PluginID string

	// Bytes/Total carry download progress; Total is -1 when unknown.
	Bytes int64
	Total int64

	// Selection is set for EventRemoteUpdated.
	Selection *SelectionResult

	// Err is set for failure events.
	Err error
}

// emit posts an event without blocking the worker. If the control loop has
// fallen this far behind, dropping a progress tick is preferable to stalling
// a download goroutine.
func (m *Manager) emit(e Event) {
	select {
	case m.events <- e:
	default:
		slog.Warn("event dropped: control queue full",
			"type", string(e.Type),
			"plugin", e.PluginID)
	}
}

// Events returns the control-loop queue. Single consumer; drain once per
// tick.
func (m *Manager) Events() <-chan Event {
	return m.events
}
