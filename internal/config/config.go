// Package config holds application configuration loaded from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	bytesPerKB = 1024
	bytesPerMB = 1024 * bytesPerKB
	bytesPerGB = 1024 * bytesPerMB

	// defaultMaxFileSize is the default download size limit (100 MB).
	defaultMaxFileSize = 100 * bytesPerMB

	// defaultDownloadTimeout is the default per-file download timeout.
	defaultDownloadTimeout = 60 * time.Second

	// defaultKBSyncTimeout is the default deadline for the knowledge base sync step.
	defaultKBSyncTimeout = 10 * time.Minute
)

// Config holds configuration loaded from environment variables.
type Config struct {
	// FolderURL is the Google Drive folder holding the manifest spreadsheet.
	FolderURL string
	// CredentialsPath is the path to the OAuth client credentials JSON file.
	CredentialsPath string
	// TokenPath is the path where the OAuth token is persisted.
	TokenPath string
	// DownloadDir is the directory downloaded PDFs are written to.
	DownloadDir string
	// StatePath is the path of the sync state file.
	StatePath string
	// MaxFileSize is the maximum file size to download in bytes.
	MaxFileSize int64
	// DownloadTimeout is the per-file download timeout.
	DownloadTimeout time.Duration
	// KBSyncTimeout is the deadline for the knowledge base sync step.
	KBSyncTimeout time.Duration
	// KBSyncCommand is the command run after a sync that changed files.
	// Empty means re-running this binary with "kb sync".
	KBSyncCommand string
	// RAGFlowBaseURL is the base URL of the RAGFlow server.
	RAGFlowBaseURL string
	// RAGFlowAPIKey authenticates against the RAGFlow API.
	RAGFlowAPIKey string
	// UserDataDir is the directory user session files are stored in.
	UserDataDir string
}

// globalConfig is the singleton config instance.
var globalConfig *Config

// Load loads configuration from environment variables.
// It should be called once at application startup.
func Load() error {
	globalConfig = &Config{
		FolderURL:       os.Getenv("GOOGLE_DRIVE_FOLDER_URL"),
		CredentialsPath: envOr("GOOGLE_DRIVE_CREDENTIALS_PATH", "credentials.json"),
		TokenPath:       envOr("GOOGLE_DRIVE_TOKEN_PATH", "token.json"),
		DownloadDir:     envOr("GOOGLE_DRIVE_DOWNLOAD_DIR", "downloaded_files"),
		StatePath:       envOr("GOOGLE_DRIVE_STATE_PATH", "sync_state.json"),
		MaxFileSize:     parseFileSizeEnv(os.Getenv("GOOGLE_DRIVE_MAX_FILE_SIZE"), defaultMaxFileSize),
		DownloadTimeout: parseDurationEnv(os.Getenv("GOOGLE_DRIVE_DOWNLOAD_TIMEOUT"), defaultDownloadTimeout),
		KBSyncTimeout:   parseDurationEnv(os.Getenv("KB_SYNC_TIMEOUT"), defaultKBSyncTimeout),
		KBSyncCommand:   os.Getenv("KB_SYNC_COMMAND"),
		RAGFlowBaseURL:  envOr("RAGFLOW_BASE_URL", "http://localhost:9380"),
		RAGFlowAPIKey:   os.Getenv("RAGFLOW_API_KEY"),
		UserDataDir:     envOr("USER_DATA_DIR", "user_data"),
	}

	return nil
}

// Get returns the global configuration.
// If not loaded, it loads with defaults.
func Get() *Config {
	if globalConfig == nil {
		// Load config if not already loaded (lazy initialization)
		_ = Load()
	}
	return globalConfig
}

// Reset resets the global configuration, forcing a reload on next access.
// This is primarily used for testing.
func Reset() {
	globalConfig = nil
}

// envOr returns the value of the environment variable or defaultVal when unset.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDurationEnv parses a duration from a string, returning defaultVal on error.
// Plain integers are interpreted as seconds.
func parseDurationEnv(val string, defaultVal time.Duration) time.Duration {
	if val == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// parseFileSizeEnv parses a file size from a string (e.g., "5MB", "100KB", "1GB").
// Returns defaultVal if not set or invalid.
func parseFileSizeEnv(val string, defaultVal int64) int64 {
	if val == "" || val == "0" {
		return defaultVal
	}

	// Try parsing as plain bytes
	if bytes, err := strconv.ParseInt(val, 10, 64); err == nil {
		return bytes
	}

	// Parse with unit suffix
	val = strings.ToUpper(strings.TrimSpace(val))

	units := map[string]int64{
		"B":  1,
		"KB": bytesPerKB,
		"MB": bytesPerMB,
		"GB": bytesPerGB,
	}

	for suffix, multiplier := range units {
		if numStr, found := strings.CutSuffix(val, suffix); found {
			numStr = strings.TrimSpace(numStr)
			if num, err := strconv.ParseFloat(numStr, 64); err == nil {
				return int64(num * float64(multiplier))
			}
		}
	}

	return defaultVal
}
