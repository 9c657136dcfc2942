// Package state persists the per-unit configuration blob.
//
// A blob maps each unit's stable identity to the opaque state returned by
// its Save method. Blobs are written whole; there is no partial update.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"gopkg.in/yaml.v3"
)

// FormatVersion is written into every blob file
const FormatVersion = 1

// RecentSlot is the file name of the implicit "most recent" slot
const RecentSlot = "recent.yaml"

// ErrSlotNotFound is returned when reading a blob file that does not exist
var ErrSlotNotFound = errors.New("configuration slot not found")

// Blob maps unit identity to that unit's saved state
type Blob map[string]unit.State

// IDs returns the identities stored in the blob, sorted
func (b Blob) IDs() []string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SaveAll collects the state of every unit into one blob. A unit whose Save
// fails is left out of the blob and reported in the returned error; the
// remaining units are still saved.
func SaveAll(units []unit.Unit) (Blob, error) {
	log := logger.WithComponent("state")

	blob := make(Blob, len(units))
	var errs []error
	for _, u := range units {
		s, err := u.Save()
		if err != nil {
			log.Warn().Err(err).Str("unit", u.ID()).Msg("Failed to save unit state")
			errs = append(errs, fmt.Errorf("unit %s: %w", u.ID(), err))
			continue
		}
		if s == nil {
			s = unit.State{}
		}
		blob[u.ID()] = s
	}
	return blob, errors.Join(errs...)
}

// LoadAll hands each unit its entry from blob. Units without an entry are
// not touched and entries without a unit are ignored. A unit that rejects its
// entry falls back to its defaults; those mismatches are returned but are
// not fatal.
func LoadAll(blob Blob, units []unit.Unit) []error {
	log := logger.WithComponent("state")

	var mismatches []error
	for _, u := range units {
		entry, ok := blob[u.ID()]
		if !ok {
			log.Debug().Str("unit", u.ID()).Msg("No saved state, keeping defaults")
			continue
		}
		if err := u.Load(entry); err != nil {
			log.Warn().Err(err).Str("unit", u.ID()).Msg("Saved state rejected, unit reverted to defaults")
			mismatches = append(mismatches, fmt.Errorf("unit %s: %w", u.ID(), err))
		}
	}
	return mismatches
}

type document struct {
	Version int  `yaml:"version"`
	Units   Blob `yaml:"units"`
}

// Store reads and writes blobs under a directory
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory holding the recent slot
func (s *Store) Dir() string {
	return s.dir
}

// RecentPath returns the path of the "most recent" slot
func (s *Store) RecentPath() string {
	return filepath.Join(s.dir, RecentSlot)
}

func (s *Store) resolve(path string) string {
	if path == "" {
		return s.RecentPath()
	}
	return path
}

// Write persists blob to path, or to the recent slot when path is empty
func (s *Store) Write(path string, blob Blob) error {
	path = s.resolve(path)
	log := logger.WithComponent("state")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := yaml.Marshal(document{Version: FormatVersion, Units: blob})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	log.Info().
		Str("path", path).
		Int("units", len(blob)).
		Msg("State saved")
	return nil
}

// Read loads the blob at path, or the recent slot when path is empty
func (s *Store) Read(path string) (Blob, error) {
	path = s.resolve(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, path)
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse state %s: %w", path, err)
	}
	if doc.Units == nil {
		doc.Units = Blob{}
	}
	return doc.Units, nil
}

// Persist saves every unit and writes the blob to path
func (s *Store) Persist(path string, units []unit.Unit) error {
	blob, saveErr := SaveAll(units)
	if err := s.Write(path, blob); err != nil {
		return err
	}
	return saveErr
}

// Restore reads the blob at path and loads it into units. The returned
// slice holds per-unit mismatches; the error is only set when the blob
// itself could not be read.
func (s *Store) Restore(path string, units []unit.Unit) ([]error, error) {
	blob, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	return LoadAll(blob, units), nil
}
