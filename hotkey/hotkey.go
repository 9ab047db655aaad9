// Package hotkey registers a global keyboard shortcut that toggles
// recording without the window being focused.
package hotkey

import (
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// DefaultChord is the shortcut that toggles recording.
var DefaultChord = []string{"ctrl", "shift", "m"}

// Manager owns the global event hook. A process can run at most one
// hook loop, so callers should create a single Manager.
type Manager struct {
	chord    []string
	onToggle func()
	onStatus func(granted bool)

	mu      sync.Mutex
	running bool
	events  chan hook.Event
}

// NewManager creates a manager that invokes onToggle when the chord is
// pressed. A nil chord uses DefaultChord.
func NewManager(chord []string, onToggle func()) *Manager {
	if len(chord) == 0 {
		chord = DefaultChord
	}
	return &Manager{chord: chord, onToggle: onToggle}
}

// SetStatusCallback registers a callback reporting whether the OS
// granted input-monitoring access. It fires once the hook loop starts.
func (m *Manager) SetStatusCallback(cb func(granted bool)) {
	m.onStatus = cb
}

// Start installs the hook and begins listening. It returns immediately;
// the event loop runs on its own goroutine until Stop.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	hook.Register(hook.KeyDown, m.chord, func(e hook.Event) {
		slog.Debug("hotkey pressed", "chord", m.chord)
		if m.onToggle != nil {
			// Run off the hook thread so a slow toggle cannot stall
			// event delivery for the whole system.
			go m.onToggle()
		}
	})

	m.events = hook.Start()
	m.running = true
	go m.process(m.events)

	if m.onStatus != nil {
		go m.onStatus(true)
	}
	return nil
}

func (m *Manager) process(events chan hook.Event) {
	<-hook.Process(events)
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// Stop uninstalls the hook. Safe to call multiple times.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	hook.End()
	m.running = false
}

// IsRunning reports whether the hook loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
