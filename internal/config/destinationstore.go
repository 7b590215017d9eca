package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sessionwatcher/watcher/internal/destinations"
)

type yamlSessionEntry struct {
	SessionID string   `yaml:"session_id"`
	Path      string   `yaml:"path"`
	Telegram  []string `yaml:"telegram,omitempty"`
	Slack     []string `yaml:"slack,omitempty"`
}

type yamlBotConfig struct {
	SlackToken    string `yaml:"slack_token,omitempty"`
	TelegramToken string `yaml:"telegram_token,omitempty"`
}

type yamlDocument struct {
	Sessions []yamlSessionEntry `yaml:"sessions"`
	Bots     yamlBotConfig      `yaml:"bots"`
}

// DestinationStore is a YAML-backed implementation of
// destinations.Config. One file holds every session's persisted
// destinations plus bot credentials; writes are atomic (tempfile +
// rename).
type DestinationStore struct {
	path string

	mu      sync.Mutex
	entries map[string]yamlSessionEntry
	bots    yamlBotConfig
}

// NewDestinationStore constructs a store backed by path, loading any
// existing content. A missing file is treated as empty.
func NewDestinationStore(path string) (*DestinationStore, error) {
	s := &DestinationStore{path: path, entries: make(map[string]yamlSessionEntry)}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DestinationStore) reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading destinations file: %w", err)
	}

	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing destinations file: %w", err)
	}
	for _, e := range doc.Sessions {
		s.entries[e.SessionID] = e
	}
	s.bots = doc.Bots
	return nil
}

// SetBotConfig persists the bot token for kind.
func (s *DestinationStore) SetBotConfig(kind destinations.Kind, token string) error {
	s.mu.Lock()
	switch kind {
	case destinations.KindSlack:
		s.bots.SlackToken = token
	case destinations.KindTelegram:
		s.bots.TelegramToken = token
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", destinations.ErrInvalidKind, kind)
	}
	s.mu.Unlock()
	return s.persist()
}

// GetBotConfig returns the persisted token for kind, if any is set.
func (s *DestinationStore) GetBotConfig(kind destinations.Kind) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case destinations.KindSlack:
		return s.bots.SlackToken, s.bots.SlackToken != ""
	case destinations.KindTelegram:
		return s.bots.TelegramToken, s.bots.TelegramToken != ""
	default:
		return "", false
	}
}

// Load returns every persisted session's destinations.
func (s *DestinationStore) Load() ([]destinations.SessionConfigEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]destinations.SessionConfigEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, toDomainEntry(e))
	}
	return out, nil
}

// Get returns one session's persisted destinations, if any.
func (s *DestinationStore) Get(sessionID string) (destinations.SessionConfigEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return destinations.SessionConfigEntry{}, false
	}
	return toDomainEntry(e), true
}

// AddDestination appends identifier to sessionID's list for kind,
// creating the session entry if needed, and persists the result.
func (s *DestinationStore) AddDestination(sessionID string, kind destinations.Kind, identifier, path string) error {
	s.mu.Lock()
	e := s.entries[sessionID]
	e.SessionID = sessionID
	if path != "" {
		e.Path = path
	}
	switch kind {
	case destinations.KindTelegram:
		if !contains(e.Telegram, identifier) {
			e.Telegram = append(e.Telegram, identifier)
		}
	case destinations.KindSlack:
		if !contains(e.Slack, identifier) {
			e.Slack = append(e.Slack, identifier)
		}
	}
	s.entries[sessionID] = e
	s.mu.Unlock()

	return s.persist()
}

// RemoveDestination removes identifier from sessionID's list for
// kind, and persists the result.
func (s *DestinationStore) RemoveDestination(sessionID string, kind destinations.Kind, identifier string) error {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if ok {
		switch kind {
		case destinations.KindTelegram:
			e.Telegram = removeString(e.Telegram, identifier)
		case destinations.KindSlack:
			e.Slack = removeString(e.Slack, identifier)
		}
		s.entries[sessionID] = e
	}
	s.mu.Unlock()

	return s.persist()
}

// persist writes the current state to disk atomically. Caller must
// not hold s.mu.
func (s *DestinationStore) persist() error {
	s.mu.Lock()
	doc := yamlDocument{Sessions: make([]yamlSessionEntry, 0, len(s.entries)), Bots: s.bots}
	for _, e := range s.entries {
		doc.Sessions = append(doc.Sessions, e)
	}
	s.mu.Unlock()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling destinations: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".destinations_*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

func toDomainEntry(e yamlSessionEntry) destinations.SessionConfigEntry {
	return destinations.SessionConfigEntry{
		SessionID: e.SessionID,
		Path:      e.Path,
		Telegram:  append([]string(nil), e.Telegram...),
		Slack:     append([]string(nil), e.Slack...),
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
