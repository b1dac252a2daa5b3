package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrNoManifest is returned by Load when no run has been recorded yet.
var ErrNoManifest = errors.New("artifact: no run manifest recorded")

// Store persists the most recent run manifest as JSON.
type Store struct {
	path  string
	now   func() time.Time
	newID func() string
}

// StoreOption customizes a Store during construction.
type StoreOption func(*Store)

// WithClock overrides the clock used for manifest timestamps.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewStore builds a store writing to path.
func NewStore(path string, opts ...StoreOption) *Store {
	store := &Store{
		path:  path,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Path returns the manifest location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Begin starts a manifest for a new run.
func (s *Store) Begin(stage, trigger, prefix string) Manifest {
	return Manifest{
		RunID:     s.newID(),
		Stage:     stage,
		Trigger:   trigger,
		Prefix:    prefix,
		StartedAt: s.now().UTC(),
	}
}

// Save stamps FinishedAt and writes the manifest, replacing the previous one.
func (s *Store) Save(m Manifest) (Manifest, error) {
	if s == nil || s.path == "" {
		return m, fmt.Errorf("artifact: store has no path")
	}
	if m.FinishedAt.IsZero() {
		m.FinishedAt = s.now().UTC()
	}
	if m.Entries == nil {
		m.Entries = []Entry{}
	}
	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return m, fmt.Errorf("artifact: encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return m, err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return m, fmt.Errorf("artifact: write manifest: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return m, fmt.Errorf("artifact: replace manifest: %w", err)
	}
	return m, nil
}

// Load reads the most recent manifest.
func (s *Store) Load() (Manifest, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, ErrNoManifest
		}
		return Manifest{}, fmt.Errorf("artifact: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("artifact: parse manifest %s: %w", s.path, err)
	}
	return m, nil
}
