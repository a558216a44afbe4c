// Package download fetches manifest documents as local PDF files.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/drive"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/manifest"
)

const (
	bytesPerMB = 1024 * 1024

	// defaultMaxFileSize caps direct downloads (100MB).
	defaultMaxFileSize = 100 * bytesPerMB

	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	// failedConversionsDir holds the sidecar notes for failed webpage conversions.
	failedConversionsDir = "failed_conversions"

	outputDirMode = 0o750
)

// DriveAPI is the subset of the Drive client the downloader needs.
type DriveAPI interface {
	GetFile(ctx context.Context, fileID string) (*drive.File, error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	ExportPDF(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// PageConverter renders a web page into a PDF file.
type PageConverter interface {
	WebpageToPDF(ctx context.Context, url, path string) error
}

// Result is the outcome of one download attempt.
type Result struct {
	Entry manifest.Entry
	// Path is the local file written, set on success.
	Path string
	// Err is the failure, nil on success.
	Err error
}

// OK reports whether the download succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Downloader dispatches manifest entries to the right fetch strategy.
type Downloader struct {
	drive       DriveAPI
	converter   PageConverter
	httpClient  *http.Client
	outputDir   string
	maxFileSize int64
	userAgent   string
	logger      *slog.Logger
}

// Option configures the downloader.
type Option func(*Downloader)

// WithHTTPClient sets the client used for direct PDF downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.httpClient = c
	}
}

// WithMaxFileSize caps direct downloads at the given byte size.
func WithMaxFileSize(size int64) Option {
	return func(d *Downloader) {
		if size > 0 {
			d.maxFileSize = size
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) {
		d.logger = l
	}
}

// NewDownloader creates a downloader writing files under outputDir.
func NewDownloader(driveClient DriveAPI, converter PageConverter, outputDir string, opts ...Option) *Downloader {
	d := &Downloader{
		drive:       driveClient,
		converter:   converter,
		httpClient:  http.DefaultClient,
		outputDir:   outputDir,
		maxFileSize: defaultMaxFileSize,
		userAgent:   defaultUserAgent,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Download fetches one manifest entry to a local PDF.
// Failures are reported in the Result, never as a panic or process abort.
func (d *Downloader) Download(ctx context.Context, entry manifest.Entry) Result {
	path := filepath.Join(d.outputDir, entry.Filename)

	var err error
	switch entry.Kind {
	case manifest.KindGoogleDoc, manifest.KindGoogleSheet, manifest.KindGoogleSlides:
		err = d.downloadNative(ctx, entry.URL, path)
	case manifest.KindPDF:
		err = d.downloadPDF(ctx, entry.URL, path)
	case manifest.KindWebpage:
		err = d.downloadWebpage(ctx, entry.URL, path)
	default:
		err = fmt.Errorf("%w: row %d: %s", apperrors.ErrInvalidURL, entry.Row, entry.URL)
	}

	if err == nil {
		err = VerifyPDF(path)
	}
	if err == nil {
		validateStructure(path, d.logger)

		d.logger.InfoContext(ctx, "document downloaded",
			"filename", entry.Filename, "kind", entry.Kind, "row", entry.Row)

		return Result{Entry: entry, Path: path}
	}

	d.logger.WarnContext(ctx, "document download failed",
		"filename", entry.Filename, "kind", entry.Kind, "row", entry.Row, "error", err)

	return Result{Entry: entry, Err: err}
}

// downloadNative fetches a Google Workspace document, exporting it as PDF
// when it is a native type and downloading the blob otherwise.
func (d *Downloader) downloadNative(ctx context.Context, url, path string) error {
	fileID, err := drive.ExtractFileID(url)
	if err != nil {
		return err
	}

	meta, err := d.drive.GetFile(ctx, fileID)
	if err != nil {
		return err
	}

	var body io.ReadCloser
	if drive.IsWorkspaceFile(meta.MimeType) {
		if !drive.IsExportable(meta.MimeType) {
			return fmt.Errorf("%w: %s", apperrors.ErrNotExportable, meta.MimeType)
		}
		body, err = d.drive.ExportPDF(ctx, fileID)
	} else {
		body, err = d.drive.Download(ctx, fileID)
	}
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	_, err = d.writeStream(path, body, 0)

	return err
}

// downloadPDF streams a direct PDF link to disk with a size cap.
// Drive-hosted links go through the Drive API instead of plain HTTP.
func (d *Downloader) downloadPDF(ctx context.Context, url, path string) error {
	if strings.Contains(strings.ToLower(url), "drive.google.com") {
		fileID, err := drive.ExtractFileID(url)
		if err != nil {
			return err
		}

		body, err := d.drive.Download(ctx, fileID)
		if err != nil {
			return err
		}
		defer func() { _ = body.Close() }()

		_, err = d.writeStream(path, body, 0)

		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download pdf: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			d.logger.WarnContext(ctx, "failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewHTTPError(resp.StatusCode, "download failed")
	}

	// Content-Length check first, LimitReader as the safety net during
	// streaming (a server might send more than advertised).
	if resp.ContentLength > d.maxFileSize {
		return fmt.Errorf("%w: %d bytes", apperrors.ErrFileTooLarge, resp.ContentLength)
	}

	written, err := d.writeStream(path, io.LimitReader(resp.Body, d.maxFileSize+1), d.maxFileSize)
	if err != nil {
		return err
	}

	d.logger.DebugContext(ctx, "streamed pdf", "url", url, "path", path, "bytes", written)

	return nil
}

// downloadWebpage converts a web page to PDF, writing a sidecar note when
// every conversion backend fails so the failure can be followed up manually.
func (d *Downloader) downloadWebpage(ctx context.Context, url, path string) error {
	if err := d.converter.WebpageToPDF(ctx, url, path); err != nil {
		d.writeFailureNote(ctx, url, path)

		return err
	}

	return nil
}

// writeStream streams r into a file at path. When maxSize > 0 and the
// stream exceeds it, the partial file is removed and ErrFileTooLarge returned.
func (d *Downloader) writeStream(path string, r io.Reader, maxSize int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), outputDirMode); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}

	written, err := io.Copy(f, r)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)

		return written, fmt.Errorf("write file: %w", err)
	}

	if maxSize > 0 && written > maxSize {
		_ = os.Remove(path)

		return written, fmt.Errorf("%w: read %d bytes", apperrors.ErrFileTooLarge, written)
	}

	return written, nil
}

// writeFailureNote records a failed webpage conversion for manual follow-up.
func (d *Downloader) writeFailureNote(ctx context.Context, url, intendedPath string) {
	dir := filepath.Join(d.outputDir, failedConversionsDir)
	if err := os.MkdirAll(dir, outputDirMode); err != nil {
		d.logger.WarnContext(ctx, "failed to create failure notes dir", "error", err)

		return
	}

	stem := strings.TrimSuffix(filepath.Base(intendedPath), filepath.Ext(intendedPath))
	notePath := filepath.Join(dir, stem+"_failure.txt")
	note := fmt.Sprintf("URL: %s\nIntended file: %s\nAll conversion backends failed.\n", url, intendedPath)

	if err := os.WriteFile(notePath, []byte(note), 0o600); err != nil {
		d.logger.WarnContext(ctx, "failed to write failure note", "path", notePath, "error", err)
	}
}
