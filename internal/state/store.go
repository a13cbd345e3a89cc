package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"bond-alerts/internal/bond"
)

// ErrStoreUnavailable signals the backing file exists but could not be read
// or decoded. Callers must treat this as fatal rather than as empty state:
// silently starting over would re-alert on every tracked instrument.
var ErrStoreUnavailable = errors.New("state: store unavailable")

const fileVersion = 1

// fileLayout is the on-disk shape. Unknown fields are ignored on decode so
// the file stays forward-readable when optional fields are added.
type fileLayout struct {
	Version     int               `json:"version"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Instruments bond.TrackedState `json:"instruments"`
}

// Store persists TrackedState to a single JSON file. The scheduler
// guarantees single-cycle exclusivity, so the store carries no locking.
type Store struct {
	path   string
	logger zerolog.Logger
}

// NewStore builds a file-backed state store at path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{path: path, logger: logger.With().Str("component", "state_store").Logger()}
}

// Load reads the tracked state. A missing file is the verified first-run
// marker and returns an empty state; every other failure is
// ErrStoreUnavailable.
func (s *Store) Load() (bond.TrackedState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.path).Msg("state file absent, assuming first run")
			return bond.TrackedState{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStoreUnavailable, s.path, err)
	}

	var layout fileLayout
	if err := json.Unmarshal(raw, &layout); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, s.path, err)
	}
	if layout.Instruments == nil {
		layout.Instruments = bond.TrackedState{}
	}
	return layout.Instruments, nil
}

// Save atomically replaces the state file: write to a temp file in the same
// directory, fsync, then rename over the target. A crash mid-write leaves
// the previous file intact.
func (s *Store) Save(tracked bond.TrackedState) error {
	layout := fileLayout{
		Version:     fileVersion,
		UpdatedAt:   time.Now().UTC(),
		Instruments: tracked,
	}

	raw, err := json.MarshalIndent(layout, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}

	s.logger.Debug().Int("instruments", len(tracked)).Str("path", s.path).Msg("state saved")
	return nil
}
