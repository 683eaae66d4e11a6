// Package artifacts manages the screenshot evidence the monitor produces:
// on-disk naming and retention, plus an optional archive to S3-compatible
// storage before local deletion.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Store names and sweeps screenshot files under one directory.
type Store struct {
	dir string
	log zerolog.Logger
}

func NewStore(dir string, log zerolog.Logger) *Store {
	return &Store{
		dir: dir,
		log: log.With().Str("component", "artifacts").Logger(),
	}
}

// Dir returns the screenshot directory.
func (s *Store) Dir() string { return s.dir }

// ErrorPath returns the path for a full-page screenshot taken when a cycle
// fails.
func (s *Store) ErrorPath(prefix string) string {
	return s.path(prefix, "error")
}

// SuccessPath returns the path for a screenshot documenting a completed
// operation.
func (s *Store) SuccessPath(prefix string) string {
	return s.path(prefix, "success")
}

func (s *Store) path(prefix, outcome string) string {
	name := fmt.Sprintf("%s_%s_%s.png", prefix, outcome, time.Now().Format("20060102_150405"))
	return filepath.Join(s.dir, name)
}

// Sweep deletes screenshots whose modification time is older than the
// retention window. Returns the number of files removed. Unremovable files
// are logged and skipped, never fatal.
func (s *Store) Sweep(retention time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read screenshot directory: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.log.Warn().Err(err).Str("file", entry.Name()).Msg("Could not remove stale screenshot")
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("Swept stale screenshots")
	}
	return removed, nil
}

// List returns the paths of all screenshots currently on disk, sorted by
// name (which sorts by capture time given the timestamped naming).
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot directory: %w", err)
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".png") {
			continue
		}
		out = append(out, filepath.Join(s.dir, entry.Name()))
	}
	return out, nil
}
