// Package destinations tracks which chat destinations are attached
// to which sessions and coordinates persistence and session-start
// notification around that lifecycle.
package destinations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind identifies which chat surface a destination belongs to.
type Kind string

const (
	KindSlack    Kind = "slack"
	KindTelegram Kind = "telegram"
)

func (k Kind) valid() bool {
	return k == KindSlack || k == KindTelegram
}

// ErrInvalidKind is returned by Attach/Detach for an unrecognized Kind.
var ErrInvalidKind = errors.New("destinations: invalid destination kind")

// ErrUnknownSession is returned by Attach when path is empty and no
// persisted config entry exists for the session either.
var ErrUnknownSession = errors.New("destinations: unknown session and no path provided")

// AttachedDestination is one chat destination attached to a session.
type AttachedDestination struct {
	Kind       Kind
	Identifier string
	AttachedAt time.Time
}

// SessionConfigEntry is one persisted session's destinations, as
// read back from Config.
type SessionConfigEntry struct {
	SessionID string
	Path      string
	Telegram  []string
	Slack     []string
}

// Config is the narrow persistence contract the manager depends on.
// It is implemented by internal/config's YAML-backed store; nothing
// here depends on the on-disk format.
type Config interface {
	Load() ([]SessionConfigEntry, error)
	Get(sessionID string) (SessionConfigEntry, bool)
	AddDestination(sessionID string, kind Kind, identifier, path string) error
	RemoveDestination(sessionID string, kind Kind, identifier string) error
}

// OnSessionStart is invoked the first time a session gains a
// destination, so the host can begin tailing its file. It is never
// called while any Manager lock is held.
type OnSessionStart func(ctx context.Context, sessionID, path string) error

// Manager manages the attach/detach lifecycle of chat destinations.
type Manager struct {
	config         Config
	onSessionStart OnSessionStart
	now            func() time.Time

	mu           sync.Mutex
	destinations map[string][]AttachedDestination
}

// New constructs a Manager backed by config, invoking onSessionStart
// the first time a session gains a destination.
func New(config Config, onSessionStart OnSessionStart) *Manager {
	return &Manager{
		config:         config,
		onSessionStart: onSessionStart,
		now:            time.Now,
		destinations:   make(map[string][]AttachedDestination),
	}
}

// Attach attaches (kind, identifier) to sessionID. Returns true if
// newly attached, false if already attached (idempotent, no-op). path
// is required only if this is the first destination for a session
// the manager doesn't already know about.
func (m *Manager) Attach(ctx context.Context, sessionID, path string, kind Kind, identifier string) (bool, error) {
	if !kind.valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	m.mu.Lock()
	if m.findDestination(sessionID, kind, identifier) != nil {
		m.mu.Unlock()
		return false, nil
	}
	isFirst := len(m.destinations[sessionID]) == 0
	resolvedPath := path
	if isFirst && resolvedPath == "" {
		entry, ok := m.config.Get(sessionID)
		if !ok || entry.Path == "" {
			m.mu.Unlock()
			return false, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		resolvedPath = entry.Path
	}
	m.mu.Unlock()

	if isFirst {
		if err := m.onSessionStart(ctx, sessionID, resolvedPath); err != nil {
			return false, fmt.Errorf("starting session watch: %w", err)
		}
	}

	m.mu.Lock()
	m.destinations[sessionID] = append(m.destinations[sessionID], AttachedDestination{
		Kind:       kind,
		Identifier: identifier,
		AttachedAt: m.now(),
	})
	m.mu.Unlock()

	if err := m.config.AddDestination(sessionID, kind, identifier, resolvedPath); err != nil {
		return false, fmt.Errorf("persisting destination: %w", err)
	}
	return true, nil
}

// Detach removes (kind, identifier) from sessionID. Returns true if
// it was attached, false if not found.
func (m *Manager) Detach(sessionID string, kind Kind, identifier string) (bool, error) {
	if !kind.valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	m.mu.Lock()
	list := m.destinations[sessionID]
	idx := -1
	for i, d := range list {
		if d.Kind == kind && d.Identifier == identifier {
			idx = i
			break
		}
	}
	if idx == -1 {
		m.mu.Unlock()
		return false, nil
	}
	m.destinations[sessionID] = append(list[:idx:idx], list[idx+1:]...)
	m.mu.Unlock()

	if err := m.config.RemoveDestination(sessionID, kind, identifier); err != nil {
		return false, fmt.Errorf("removing persisted destination: %w", err)
	}
	return true, nil
}

// GetDestinations returns a snapshot of sessionID's attached
// destinations.
func (m *Manager) GetDestinations(sessionID string) []AttachedDestination {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AttachedDestination(nil), m.destinations[sessionID]...)
}

// GetDestinationsByType returns only sessionID's destinations of the
// given kind.
func (m *Manager) GetDestinationsByType(sessionID string, kind Kind) []AttachedDestination {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AttachedDestination
	for _, d := range m.destinations[sessionID] {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// HasDestinations reports whether sessionID has any live attachment.
func (m *Manager) HasDestinations(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.destinations[sessionID]) > 0
}

// DetachByIdentifier removes (kind, identifier) from every session
// that has it attached, e.g. when a chat surface reports its user
// stopped watching entirely rather than naming one session. It
// returns the session IDs that were actually detached.
func (m *Manager) DetachByIdentifier(kind Kind, identifier string) ([]string, error) {
	m.mu.Lock()
	var sessionIDs []string
	for sessionID, list := range m.destinations {
		for _, d := range list {
			if d.Kind == kind && d.Identifier == identifier {
				sessionIDs = append(sessionIDs, sessionID)
				break
			}
		}
	}
	m.mu.Unlock()

	var detached []string
	for _, sessionID := range sessionIDs {
		ok, err := m.Detach(sessionID, kind, identifier)
		if err != nil {
			return detached, err
		}
		if ok {
			detached = append(detached, sessionID)
		}
	}
	return detached, nil
}

// RestoreFromConfig rehydrates runtime state from persisted config,
// invoking onSessionStart for every session with at least one
// destination. Called once at service startup.
func (m *Manager) RestoreFromConfig(ctx context.Context) error {
	entries, err := m.config.Load()
	if err != nil {
		return fmt.Errorf("loading destination config: %w", err)
	}

	for _, entry := range entries {
		if len(entry.Telegram) == 0 && len(entry.Slack) == 0 {
			continue
		}
		if err := m.onSessionStart(ctx, entry.SessionID, entry.Path); err != nil {
			return fmt.Errorf("restoring session %s: %w", entry.SessionID, err)
		}

		var restored []AttachedDestination
		now := m.now()
		for _, id := range entry.Telegram {
			restored = append(restored, AttachedDestination{Kind: KindTelegram, Identifier: id, AttachedAt: now})
		}
		for _, id := range entry.Slack {
			restored = append(restored, AttachedDestination{Kind: KindSlack, Identifier: id, AttachedAt: now})
		}

		m.mu.Lock()
		m.destinations[entry.SessionID] = restored
		m.mu.Unlock()
	}
	return nil
}

func (m *Manager) findDestination(sessionID string, kind Kind, identifier string) *AttachedDestination {
	for i, d := range m.destinations[sessionID] {
		if d.Kind == kind && d.Identifier == identifier {
			return &m.destinations[sessionID][i]
		}
	}
	return nil
}
