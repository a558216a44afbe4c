package syncer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/drive"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/manifest"
)

// ShouldRedownload decides whether a manifest entry's file must be fetched
// again. The checks run in order: local file missing, no recorded metadata,
// source URL changed, local size differs from the recorded size.
func ShouldRedownload(entry manifest.Entry, localPath string, state *State) bool {
	info, err := os.Stat(localPath)
	if err != nil {
		return true
	}

	meta, ok := state.DownloadedFiles[entry.Filename]
	if !ok {
		return true
	}

	if meta.SourceURL != entry.URL {
		return true
	}

	if meta.Size != info.Size() {
		return true
	}

	return false
}

// RecordDownload updates the state entry for a freshly downloaded file.
func RecordDownload(state *State, entry manifest.Entry, localPath string) {
	var size int64
	if info, err := os.Stat(localPath); err == nil {
		size = info.Size()
	}

	state.DownloadedFiles[entry.Filename] = FileMetadata{
		LocalPath:    localPath,
		Size:         size,
		DownloadTime: time.Now(),
		SourceURL:    entry.URL,
	}
}

// metadataAPI is the slice of the Drive client change detection needs.
type metadataAPI interface {
	GetFile(ctx context.Context, fileID string) (*drive.File, error)
}

// SpreadsheetChanged reports whether the manifest spreadsheet differs from
// the recorded checksum. No previous checksum, or any metadata fetch error,
// counts as changed.
func SpreadsheetChanged(ctx context.Context, api metadataAPI, spreadsheetID, previousMD5 string, logger *slog.Logger) bool {
	meta, err := api.GetFile(ctx, spreadsheetID)
	if err != nil {
		logger.WarnContext(ctx, "failed to check spreadsheet checksum, assuming changed",
			"spreadsheet_id", spreadsheetID, "error", err)

		return true
	}

	if previousMD5 == "" {
		return true
	}

	return meta.MD5Checksum != previousMD5
}

// CurrentSpreadsheetMD5 fetches the spreadsheet's checksum, empty on error.
func CurrentSpreadsheetMD5(ctx context.Context, api metadataAPI, spreadsheetID string, logger *slog.Logger) string {
	meta, err := api.GetFile(ctx, spreadsheetID)
	if err != nil {
		logger.WarnContext(ctx, "failed to fetch spreadsheet checksum",
			"spreadsheet_id", spreadsheetID, "error", err)

		return ""
	}

	return meta.MD5Checksum
}

// CleanOrphans deletes files recorded in state but absent from the current
// manifest, both from disk and from state. Returns the number removed.
func CleanOrphans(ctx context.Context, state *State, entries []manifest.Entry, outputDir string, logger *slog.Logger) int {
	current := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		current[e.Filename] = struct{}{}
	}

	removed := 0
	for filename := range state.DownloadedFiles {
		if _, ok := current[filename]; ok {
			continue
		}

		path := filepath.Join(outputDir, filename)
		if err := os.Remove(path); err == nil {
			logger.InfoContext(ctx, "removed orphaned file", "filename", filename)
			removed++
		} else if !os.IsNotExist(err) {
			logger.WarnContext(ctx, "failed to remove orphaned file", "filename", filename, "error", err)
		}

		delete(state.DownloadedFiles, filename)
	}

	return removed
}
