package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/download"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/drive"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/manifest"
)

// DriveAPI is the slice of the Drive client the sync manager needs.
type DriveAPI interface {
	ValidateFolder(ctx context.Context, folderID string) error
	FindSpreadsheet(ctx context.Context, folderID string) (*drive.File, error)
	GetFile(ctx context.Context, fileID string) (*drive.File, error)
	ExportCSV(ctx context.Context, fileID string) (io.ReadCloser, error)
	StartPageToken(ctx context.Context) (string, error)
	ListChanges(ctx context.Context, pageToken string) (*drive.Changes, error)
}

// FileDownloader fetches one manifest entry to a local PDF.
type FileDownloader interface {
	Download(ctx context.Context, entry manifest.Entry) download.Result
}

// KBTrigger pushes freshly synced files into the knowledge base.
// Returning nil means the ingestion succeeded.
type KBTrigger interface {
	TriggerSync(ctx context.Context) error
}

// Syncer orchestrates full and incremental document syncs.
type Syncer struct {
	drive      DriveAPI
	parser     *manifest.Parser
	downloader FileDownloader
	kb         KBTrigger
	folderURL  string
	outputDir  string
	statePath  string
	dryRun     bool
	logger     *slog.Logger
}

// Option configures the syncer.
type Option func(*Syncer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// WithKBTrigger sets the knowledge-base ingestion trigger.
// Without one, the ingestion step is skipped and reported as successful.
func WithKBTrigger(t KBTrigger) Option {
	return func(s *Syncer) {
		s.kb = t
	}
}

// WithDryRun makes Sync report decisions without downloading or writing state.
func WithDryRun(dryRun bool) Option {
	return func(s *Syncer) {
		s.dryRun = dryRun
	}
}

// New creates a syncer for the manifest folder at folderURL, writing
// documents to outputDir and tracking state at statePath.
func New(driveClient DriveAPI, downloader FileDownloader, folderURL, outputDir, statePath string, opts ...Option) *Syncer {
	s := &Syncer{
		drive:      driveClient,
		parser:     nil,
		downloader: downloader,
		folderURL:  folderURL,
		outputDir:  outputDir,
		statePath:  statePath,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.parser = manifest.NewParser(s.logger)

	return s
}

// Sync runs an incremental sync, falling back to a full sync when no prior
// state exists.
func (s *Syncer) Sync(ctx context.Context) *Results {
	results := &Results{StartTime: time.Now()}

	state := LoadState(s.statePath, s.logger)
	if state.IsFirstSync() {
		s.logger.InfoContext(ctx, "no previous sync state, performing full sync")

		return s.fullSync(ctx, state, results)
	}

	s.logger.InfoContext(ctx, "starting incremental sync", "folder_url", s.folderURL)

	sheet, ok := s.locateManifest(ctx, results)
	if !ok {
		return s.finish(results)
	}

	if !SpreadsheetChanged(ctx, s.drive, sheet.ID, state.SpreadsheetMD5, s.logger) {
		s.logger.InfoContext(ctx, "manifest unchanged, nothing to do")
		results.KBSyncOK = true

		return s.finish(results)
	}

	s.logger.InfoContext(ctx, "manifest changed, re-parsing links")

	entries, ok := s.parseManifest(ctx, sheet.ID, results)
	if !ok {
		return s.finish(results)
	}
	results.TotalLinks = len(entries)

	for _, entry := range entries {
		localPath := filepath.Join(s.outputDir, entry.Filename)

		if !ShouldRedownload(entry, localPath, state) {
			s.logger.DebugContext(ctx, "skipping unchanged file", "row", entry.Row, "filename", entry.Filename)
			continue
		}

		s.downloadEntry(ctx, entry, state, results)
	}

	results.Removed = s.cleanOrphans(ctx, state, entries)

	s.refreshCursor(ctx, state, sheet.ID)

	if !s.dryRun {
		if err := state.Save(s.statePath); err != nil {
			s.logger.ErrorContext(ctx, "failed to save sync state", "error", err)
			results.Errors = append(results.Errors, fmt.Sprintf("save state: %v", err))
		}
	}

	// The knowledge base only needs a push when something changed.
	if results.Downloaded > 0 || results.Failed > 0 || results.Removed > 0 {
		results.KBSyncOK = s.triggerKB(ctx)
	} else {
		s.logger.InfoContext(ctx, "no file changes, skipping knowledge base sync")
		results.KBSyncOK = true
	}

	return s.finish(results)
}

// fullSync downloads every manifest entry and establishes the change cursor.
func (s *Syncer) fullSync(ctx context.Context, state *State, results *Results) *Results {
	sheet, ok := s.locateManifest(ctx, results)
	if !ok {
		return s.finish(results)
	}

	entries, ok := s.parseManifest(ctx, sheet.ID, results)
	if !ok {
		return s.finish(results)
	}
	results.TotalLinks = len(entries)

	s.logger.InfoContext(ctx, "downloading documents", "count", len(entries))

	for _, entry := range entries {
		s.downloadEntry(ctx, entry, state, results)
	}

	state.SpreadsheetMD5 = CurrentSpreadsheetMD5(ctx, s.drive, sheet.ID, s.logger)

	if token, err := s.drive.StartPageToken(ctx); err == nil {
		state.PageToken = token
	} else {
		s.logger.WarnContext(ctx, "failed to get change cursor", "error", err)
	}

	if !s.dryRun {
		if err := state.Save(s.statePath); err != nil {
			s.logger.ErrorContext(ctx, "failed to save sync state", "error", err)
			results.Errors = append(results.Errors, fmt.Sprintf("save state: %v", err))
		}
	}

	results.KBSyncOK = s.triggerKB(ctx)

	return s.finish(results)
}

// locateManifest verifies the folder and finds the manifest spreadsheet.
func (s *Syncer) locateManifest(ctx context.Context, results *Results) (*drive.File, bool) {
	folderID, err := drive.ExtractFolderID(s.folderURL)
	if err != nil {
		// Assume the configured value is already a bare ID.
		folderID = s.folderURL
	}

	if err := s.drive.ValidateFolder(ctx, folderID); err != nil {
		s.logger.ErrorContext(ctx, "cannot access manifest folder", "folder_id", folderID, "error", err)
		results.Errors = append(results.Errors, err.Error())

		return nil, false
	}

	sheet, err := s.drive.FindSpreadsheet(ctx, folderID)
	if err != nil {
		s.logger.ErrorContext(ctx, "no manifest spreadsheet", "folder_id", folderID, "error", err)
		results.Errors = append(results.Errors, err.Error())

		return nil, false
	}

	s.logger.InfoContext(ctx, "found manifest spreadsheet", "name", sheet.Name, "id", sheet.ID)

	return sheet, true
}

// parseManifest exports the spreadsheet as CSV and parses its links.
func (s *Syncer) parseManifest(ctx context.Context, sheetID string, results *Results) ([]manifest.Entry, bool) {
	body, err := s.drive.ExportCSV(ctx, sheetID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to export manifest", "spreadsheet_id", sheetID, "error", err)
		results.Errors = append(results.Errors, err.Error())

		return nil, false
	}
	defer func() { _ = body.Close() }()

	parsed, err := s.parser.Parse(body)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to parse manifest", "spreadsheet_id", sheetID, "error", err)
		results.Errors = append(results.Errors, err.Error())

		return nil, false
	}

	results.Errors = append(results.Errors, parsed.Errors...)

	if len(parsed.Entries) == 0 {
		s.logger.WarnContext(ctx, "no valid links in manifest")
	} else {
		s.logger.DebugContext(ctx, "manifest parsed", "summary", manifest.Summary(parsed.Entries))
	}

	return parsed.Entries, true
}

// downloadEntry fetches one entry and records the outcome.
func (s *Syncer) downloadEntry(ctx context.Context, entry manifest.Entry, state *State, results *Results) {
	if s.dryRun {
		s.logger.InfoContext(ctx, "dry run: would download", "row", entry.Row, "filename", entry.Filename, "kind", entry.Kind)
		results.Downloaded++

		return
	}

	res := s.downloader.Download(ctx, entry)
	if res.OK() {
		results.Downloaded++
		results.DownloadedFiles = append(results.DownloadedFiles, res.Path)
		RecordDownload(state, entry, res.Path)

		return
	}

	results.Failed++
	results.FailedFiles = append(results.FailedFiles, FailedFile{URL: entry.URL, Error: res.Err.Error()})
	results.Errors = append(results.Errors, fmt.Sprintf("Row %d: %v", entry.Row, res.Err))
}

// cleanOrphans removes files dropped from the manifest.
func (s *Syncer) cleanOrphans(ctx context.Context, state *State, entries []manifest.Entry) int {
	if s.dryRun {
		return 0
	}

	return CleanOrphans(ctx, state, entries, s.outputDir, s.logger)
}

// refreshCursor advances the Drive change cursor held in state.
func (s *Syncer) refreshCursor(ctx context.Context, state *State, sheetID string) {
	state.SpreadsheetMD5 = CurrentSpreadsheetMD5(ctx, s.drive, sheetID, s.logger)

	changes, err := s.drive.ListChanges(ctx, state.PageToken)
	if err != nil {
		// Keep the old cursor; the next sync retries from the same point.
		s.logger.WarnContext(ctx, "failed to advance change cursor", "error", err)

		return
	}

	if changes.NewStartPageToken != "" {
		state.PageToken = changes.NewStartPageToken
	}
}

// triggerKB runs the knowledge-base ingestion step.
func (s *Syncer) triggerKB(ctx context.Context) bool {
	if s.kb == nil || s.dryRun {
		return true
	}

	s.logger.InfoContext(ctx, "triggering knowledge base sync")

	if err := s.kb.TriggerSync(ctx); err != nil {
		s.logger.ErrorContext(ctx, "knowledge base sync failed", "error", err)

		return false
	}

	s.logger.InfoContext(ctx, "knowledge base sync completed")

	return true
}

func (s *Syncer) finish(results *Results) *Results {
	results.EndTime = time.Now()
	s.logger.Info("sync finished",
		"links", results.TotalLinks,
		"downloaded", results.Downloaded,
		"failed", results.Failed,
		"removed", results.Removed,
		"kb_sync_ok", results.KBSyncOK,
	)

	return results
}
