// Package settings persists user preferences as a JSON file: cache sizing,
// display options, and the library database location. Missing files yield
// defaults so a fresh install needs no setup step.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/lindenwick/folio/core/cache"
	"github.com/lindenwick/folio/core/errors"
)

// Settings is the on-disk preference document.
type Settings struct {
	Cache     cache.Config `json:"cache"`
	Theme     string       `json:"theme"`
	FontScale float64      `json:"font_scale"`
	LibraryDB string       `json:"library_db"`
}

// Default returns the settings used when no file exists yet.
func Default() Settings {
	return Settings{
		Cache:     cache.DefaultConfig(),
		Theme:     "light",
		FontScale: 1.0,
		LibraryDB: "",
	}
}

// DefaultPath returns the conventional settings location under the user's
// config directory.
func DefaultPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", errors.NewIO("locate config directory", "", err)
	}
	return filepath.Join(base, "folio", "settings.json"), nil
}

// Load reads settings from path. A missing file returns defaults; a present
// but unreadable or malformed file is an error, so a typo never silently
// resets preferences.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Settings{}, errors.NewIO("read settings", path, err)
	}

	s := Default()
	if err := json.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.NewConfig("settings", path, "malformed settings file: "+err.Error())
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save writes settings to path, creating parent directories as needed.
func Save(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewIO("create settings directory", path, err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.NewIO("encode settings", path, err)
	}
	return writeAtomic(path, append(data, '\n'))
}

// Validate checks the tunable fields. Cache parameters are validated again
// when the cache manager is built; this catches them at load time so the
// error names the settings file.
func (s Settings) Validate() error {
	if s.Cache.RenderedMaxEntries < 1 {
		return errors.NewConfig("cache.rendered_maxsize", strconv.Itoa(s.Cache.RenderedMaxEntries), "must be at least 1")
	}
	if s.Cache.RawMaxEntries < 1 {
		return errors.NewConfig("cache.raw_maxsize", strconv.Itoa(s.Cache.RawMaxEntries), "must be at least 1")
	}
	if s.Cache.ImageBudgetMB <= 0 {
		return errors.NewConfig("cache.image_budget_mb", strconv.FormatFloat(s.Cache.ImageBudgetMB, 'g', -1, 64), "must be positive")
	}
	if s.Cache.MemoryThresholdMB <= 0 {
		return errors.NewConfig("cache.memory_threshold_mb", strconv.FormatFloat(s.Cache.MemoryThresholdMB, 'g', -1, 64), "must be positive")
	}
	if s.FontScale < 0.5 || s.FontScale > 3.0 {
		return errors.NewConfig("font_scale", strconv.FormatFloat(s.FontScale, 'g', -1, 64), "must be between 0.5 and 3.0")
	}
	switch s.Theme {
	case "light", "dark", "sepia":
	default:
		return errors.NewConfig("theme", s.Theme, "must be light, dark, or sepia")
	}
	return nil
}

// writeAtomic writes via a temp file and rename so a crash mid-write never
// leaves a truncated settings file.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*")
	if err != nil {
		return errors.NewIO("write settings", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewIO("write settings", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.NewIO("write settings", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.NewIO("write settings", path, err)
	}
	return nil
}
