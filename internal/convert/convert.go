// Package convert renders web pages to PDF through interchangeable backends.
package convert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

// Backend names accepted by NewConverter.
const (
	BackendChrome      = "chrome"
	BackendWKHTMLToPDF = "wkhtmltopdf"
)

// Backend renders the page at a URL into PDF bytes.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// Available reports whether the backend can run on this host.
	Available() bool
	// Render writes the page at url as a PDF to w.
	Render(ctx context.Context, url string, w io.Writer) error
}

// Converter tries an ordered list of backends until one succeeds.
type Converter struct {
	backends []Backend
	logger   *slog.Logger
}

// Option configures the converter.
type Option func(*Converter)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = l
	}
}

// WithBackends replaces the backend attempt order (useful for testing).
func WithBackends(backends ...Backend) Option {
	return func(c *Converter) {
		c.backends = backends
	}
}

// NewConverter creates a converter whose attempt order is the named primary
// backend, then the other one, then the primary once more as a last resort.
// Known primary names are "chrome" and "wkhtmltopdf".
func NewConverter(primary string, opts ...Option) *Converter {
	chrome := NewChromeBackend()
	wk := NewWKHTMLBackend()

	var order []Backend
	if primary == wk.Name() {
		order = []Backend{wk, chrome, wk}
	} else {
		order = []Backend{chrome, wk, chrome}
	}

	c := &Converter{
		backends: order,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WebpageToPDF renders the page at url into a PDF file at path.
// Each backend in order gets one attempt; the first success wins.
func (c *Converter) WebpageToPDF(ctx context.Context, url, path string) error {
	available := false

	for _, b := range c.backends {
		if !b.Available() {
			continue
		}
		available = true

		c.logger.DebugContext(ctx, "trying conversion backend", "backend", b.Name(), "url", url)

		if err := c.renderToFile(ctx, b, url, path); err != nil {
			c.logger.WarnContext(ctx, "conversion backend failed",
				"backend", b.Name(), "url", url, "error", err)
			continue
		}

		c.logger.InfoContext(ctx, "webpage converted", "backend", b.Name(), "url", url, "path", path)

		return nil
	}

	if !available {
		return apperrors.ErrNoBackend
	}

	return fmt.Errorf("%w: %s", apperrors.ErrConversionFailed, url)
}

// renderToFile renders into a temp file and renames it into place so a
// failed attempt never leaves a partial PDF behind.
func (c *Converter) renderToFile(ctx context.Context, b Backend, url, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".convert-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := b.Render(ctx, url, tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("rename into place: %w", err)
	}

	return nil
}
