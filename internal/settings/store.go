package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
)

// Store abstracts persistence of the settings document.
type Store interface {
	Load() (*Settings, error)
	Save(s *Settings) error
}

// FileStore keeps the settings in one JSON file. Writes go through a temp
// file and a rename, with the previous version copied to <path>.bak first,
// so a crash mid-write never leaves a torn file.
type FileStore struct {
	path   string
	logger *logger.Logger
}

// NewFileStore creates a store backed by the given file path. The file does
// not have to exist yet.
func NewFileStore(path string, log *logger.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: log.WithFields(zap.String("component", "settings-store")),
	}
}

// Path returns the location of the settings file.
func (st *FileStore) Path() string {
	return st.path
}

// Load reads the settings file and merges it over the defaults, so a file
// from an older build that lacks newer sections still loads. A missing file
// yields the defaults. When the file cannot be parsed the backup is tried
// before giving up.
func (st *FileStore) Load() (*Settings, error) {
	loaded := Defaults()

	data, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		return loaded, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := json.Unmarshal(data, loaded); err != nil {
		restored := Defaults()
		bak, bakErr := os.ReadFile(st.path + ".bak")
		if bakErr != nil || json.Unmarshal(bak, restored) != nil {
			return nil, fmt.Errorf("failed to parse settings file %s: %w", st.path, err)
		}
		st.logger.Warn("settings file is corrupt, loaded the backup instead",
			zap.String("path", st.path),
			zap.Error(err))
		return restored, nil
	}

	return loaded, nil
}

// Save writes the settings atomically: marshal, back up the current file,
// write a temp file next to it and rename it into place. The legacy mirror
// section is recomputed before writing.
func (st *FileStore) Save(s *Settings) error {
	s.syncLegacy()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	// Keep the previous version reachable until the rename lands.
	if prev, readErr := os.ReadFile(st.path); readErr == nil {
		if err := os.WriteFile(st.path+".bak", prev, 0o600); err != nil {
			return fmt.Errorf("failed to write settings backup: %w", err)
		}
	}

	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	return nil
}
