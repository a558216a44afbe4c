// Package syncer orchestrates manifest-driven document syncs and tracks
// their state between runs.
package syncer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const stateFileMode = 0o600

// FileMetadata records one downloaded file in the sync state.
type FileMetadata struct {
	DriveID      string    `json:"drive_id,omitempty"`
	LocalPath    string    `json:"local_path"`
	Size         int64     `json:"size"`
	MD5          string    `json:"md5,omitempty"`
	DownloadTime time.Time `json:"download_time"`
	SourceURL    string    `json:"source_url"`
}

// State is the persisted sync state. It is overwritten wholesale after
// every sync; a crash mid-sync leaves it stale but never corrupt.
type State struct {
	PageToken       string                  `json:"page_token,omitempty"`
	LastSync        *time.Time              `json:"last_sync,omitempty"`
	SpreadsheetMD5  string                  `json:"spreadsheet_md5,omitempty"`
	DownloadedFiles map[string]FileMetadata `json:"downloaded_files"`
}

// NewState returns an empty state.
func NewState() *State {
	return &State{DownloadedFiles: make(map[string]FileMetadata)}
}

// IsFirstSync reports whether no complete sync has happened yet.
func (s *State) IsFirstSync() bool {
	return s.PageToken == "" || s.LastSync == nil
}

// LoadState reads the state file at path. A missing or unreadable file
// yields a fresh state, never an error.
func LoadState(path string, logger *slog.Logger) *State {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("failed to read sync state, starting fresh", "path", path, "error", err)
		}
		return NewState()
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		logger.Warn("corrupt sync state, starting fresh", "path", path, "error", err)
		return NewState()
	}

	if state.DownloadedFiles == nil {
		state.DownloadedFiles = make(map[string]FileMetadata)
	}

	return state
}

// Save writes the state to path, refreshing the last-sync timestamp.
// The write goes through a temp file and rename so it is a single replace.
func (s *State) Save(path string) error {
	now := time.Now()
	s.LastSync = &now

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("close state: %w", err)
	}

	if err := os.Chmod(tmpName, stateFileMode); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("chmod state: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("replace state: %w", err)
	}

	return nil
}
