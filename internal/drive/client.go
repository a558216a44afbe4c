// Package drive wraps the Google Drive v3 API for folder listing, change
// tracking and file downloads.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

const (
	// MimeFolder is the Drive mime type for folders.
	MimeFolder = "application/vnd.google-apps.folder"
	// MimeSpreadsheet is the Drive mime type for Google Sheets.
	MimeSpreadsheet = "application/vnd.google-apps.spreadsheet"
	// MimeDocument is the Drive mime type for Google Docs.
	MimeDocument = "application/vnd.google-apps.document"
	// MimePresentation is the Drive mime type for Google Slides.
	MimePresentation = "application/vnd.google-apps.presentation"
	// MimePDF is the mime type PDFs are exported as.
	MimePDF = "application/pdf"

	fileFields = "id, name, mimeType, size, md5Checksum, modifiedTime"
)

// File describes a Drive file.
type File struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	MD5Checksum  string
	ModifiedTime string
}

// Changes is the result of a change listing.
type Changes struct {
	// FileIDs are the IDs of files that changed since the previous cursor.
	FileIDs []string
	// NewStartPageToken is the cursor to persist for the next incremental sync.
	NewStartPageToken string
}

// Client is a Google Drive client.
type Client struct {
	svc    *driveapi.Service
	logger *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger     *slog.Logger
	apiOptions []option.ClientOption
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithHTTPClient sets the authenticated HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.apiOptions = append(c.apiOptions, option.WithHTTPClient(hc))
	}
}

// WithEndpoint sets a custom API endpoint (useful for testing).
func WithEndpoint(url string) ClientOption {
	return func(c *clientConfig) {
		c.apiOptions = append(c.apiOptions, option.WithEndpoint(url), option.WithoutAuthentication())
	}
}

// NewClient creates a new Drive client.
func NewClient(ctx context.Context, opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	svc, err := driveapi.NewService(ctx, cfg.apiOptions...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &Client{svc: svc, logger: cfg.logger}, nil
}

// ValidateFolder checks that the given ID refers to an accessible folder.
func (c *Client) ValidateFolder(ctx context.Context, folderID string) error {
	f, err := c.svc.Files.Get(folderID).
		Fields("id, mimeType").
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrFolderNotFound, folderID)
		}
		return fmt.Errorf("get folder: %w", err)
	}

	if f.MimeType != MimeFolder {
		return fmt.Errorf("%w: %s is %s", apperrors.ErrNotAFolder, folderID, f.MimeType)
	}

	return nil
}

// ListFolder lists the non-trashed files directly inside a folder.
func (c *Client) ListFolder(ctx context.Context, folderID string) ([]File, error) {
	var files []File
	query := fmt.Sprintf("'%s' in parents and trashed = false", folderID)

	call := c.svc.Files.List().
		Q(query).
		Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		PageSize(100)

	err := call.Pages(ctx, func(page *driveapi.FileList) error {
		for _, f := range page.Files {
			files = append(files, fromAPIFile(f))
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrFolderNotFound, folderID)
		}
		return nil, fmt.Errorf("list folder: %w", err)
	}

	c.logger.DebugContext(ctx, "listed folder", "folder_id", folderID, "files", len(files))

	return files, nil
}

// FindSpreadsheet returns the first Google Sheets file in the folder.
func (c *Client) FindSpreadsheet(ctx context.Context, folderID string) (*File, error) {
	files, err := c.ListFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if f.MimeType == MimeSpreadsheet {
			return &f, nil
		}
	}

	return nil, fmt.Errorf("%w: folder %s", apperrors.ErrNoManifest, folderID)
}

// GetFile fetches a file's metadata.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	f, err := c.svc.Files.Get(fileID).
		Fields(googleapi.Field(fileFields)).
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}

	file := fromAPIFile(f)

	return &file, nil
}

// StartPageToken returns the current change cursor for the user's Drive.
func (c *Client) StartPageToken(ctx context.Context) (string, error) {
	resp, err := c.svc.Changes.GetStartPageToken().
		SupportsAllDrives(true).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get start page token: %w", err)
	}

	return resp.StartPageToken, nil
}

// ListChanges lists file changes since the given cursor.
func (c *Client) ListChanges(ctx context.Context, pageToken string) (*Changes, error) {
	result := &Changes{}

	for pageToken != "" {
		resp, err := c.svc.Changes.List(pageToken).
			Fields("nextPageToken, newStartPageToken, changes(fileId, removed)").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			PageSize(100).
			Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("list changes: %w", err)
		}

		for _, ch := range resp.Changes {
			if ch.FileId != "" {
				result.FileIDs = append(result.FileIDs, ch.FileId)
			}
		}

		if resp.NewStartPageToken != "" {
			result.NewStartPageToken = resp.NewStartPageToken
		}
		pageToken = resp.NextPageToken
	}

	c.logger.DebugContext(ctx, "listed changes", "changed_files", len(result.FileIDs))

	return result, nil
}

// Download streams the raw content of a binary Drive file.
// The caller must close the returned reader.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.svc.Files.Get(fileID).
		SupportsAllDrives(true).
		Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}

	return resp.Body, nil
}

// ExportPDF streams a Google Workspace file exported as PDF.
// The caller must close the returned reader.
func (c *Client) ExportPDF(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.svc.Files.Export(fileID, MimePDF).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("export file %s: %w", fileID, err)
	}

	return resp.Body, nil
}

// ExportCSV streams a Google Sheets file exported as CSV (first sheet only).
// The caller must close the returned reader.
func (c *Client) ExportCSV(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.svc.Files.Export(fileID, "text/csv").Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("export spreadsheet %s: %w", fileID, err)
	}

	return resp.Body, nil
}

// IsWorkspaceFile reports whether the mime type is a Google Workspace type
// that must be exported rather than downloaded.
func IsWorkspaceFile(mimeType string) bool {
	return strings.HasPrefix(mimeType, "application/vnd.google-apps.")
}

// IsExportable reports whether a Workspace mime type can be exported to PDF.
func IsExportable(mimeType string) bool {
	switch mimeType {
	case MimeDocument, MimeSpreadsheet, MimePresentation:
		return true
	}
	return false
}

func fromAPIFile(f *driveapi.File) File {
	return File{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		Size:         f.Size,
		MD5Checksum:  f.Md5Checksum,
		ModifiedTime: f.ModifiedTime,
	}
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusForbidden
	}
	return false
}
