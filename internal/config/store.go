package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mzyy94/glasscap/internal/chunk"
	"github.com/mzyy94/glasscap/internal/postproc"
)

// Settings holds runtime-tunable capture settings.
type Settings struct {
	Rotation        int  `json:"rotation"`        // clockwise degrees: 0, 90, 180, 270
	CaptureInterval int  `json:"captureInterval"` // seconds between shots; 0 = single shot on demand
	Quality         int  `json:"quality"`         // JPEG quality for rotated photos
	Archive         bool `json:"archive"`         // save photos to the archive directory
}

// DefaultSettings returns the default capture settings.
func DefaultSettings() Settings {
	return Settings{
		Rotation:        0,
		CaptureInterval: 0,
		Quality:         postproc.DefaultQuality,
		Archive:         true,
	}
}

// Validate checks value ranges.
func (s Settings) Validate() error {
	if !postproc.Rotation(s.Rotation).Valid() {
		return fmt.Errorf("rotation %d: must be 0, 90, 180 or 270", s.Rotation)
	}
	if s.CaptureInterval < 0 || s.CaptureInterval > chunk.MaxCaptureInterval {
		return fmt.Errorf("captureInterval %d: must be between 0 and %d", s.CaptureInterval, chunk.MaxCaptureInterval)
	}
	if s.Quality < 1 || s.Quality > 100 {
		return fmt.Errorf("quality %d: must be between 1 and 100", s.Quality)
	}
	return nil
}

// ProcessorConfig converts the settings to a postproc.Config.
func (s Settings) ProcessorConfig() postproc.Config {
	return postproc.Config{Rotation: postproc.Rotation(s.Rotation), Quality: s.Quality}
}

// Store provides thread-safe settings persistence backed by a JSON file.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

// NewStore creates a Store that persists settings to dataDir/settings.json.
// If the file does not exist or is invalid, defaults are used.
func NewStore(dataDir string, defaults Settings) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	s := &Store{
		path:     filepath.Join(dataDir, "settings.json"),
		settings: defaults,
	}
	s.load()
	return s, nil
}

// NewMemoryStore creates a Store that keeps settings in memory only.
func NewMemoryStore(defaults Settings) *Store {
	return &Store{settings: defaults}
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update validates and replaces the settings, then persists them.
func (s *Store) Update(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return // missing file is fine
	}
	settings := s.settings
	if err := json.Unmarshal(data, &settings); err != nil {
		slog.Warn("invalid settings file, using defaults", "path", s.path, "err", err)
		return
	}
	if err := settings.Validate(); err != nil {
		slog.Warn("invalid settings file, using defaults", "path", s.path, "err", err)
		return
	}
	s.settings = settings
}

func (s *Store) save() error {
	if s.path == "" {
		return nil // memory-only
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
