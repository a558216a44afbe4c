package convert

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	wkhtmltopdf "github.com/SebastiaanKlippert/go-wkhtmltopdf"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

const (
	fetchTimeout = 30 * time.Second

	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// WKHTMLBackend renders pages with the wkhtmltopdf binary. It fetches the
// HTML itself and cleans it before rendering, since wkhtmltopdf does not
// execute JavaScript well enough to rely on the live page.
type WKHTMLBackend struct {
	httpClient *http.Client
	userAgent  string
}

// NewWKHTMLBackend creates the wkhtmltopdf backend.
func NewWKHTMLBackend() *WKHTMLBackend {
	return &WKHTMLBackend{
		httpClient: &http.Client{Timeout: fetchTimeout},
		userAgent:  defaultUserAgent,
	}
}

// Name implements Backend.
func (b *WKHTMLBackend) Name() string { return BackendWKHTMLToPDF }

// Available reports whether the wkhtmltopdf binary is on PATH.
func (b *WKHTMLBackend) Available() bool {
	_, err := exec.LookPath("wkhtmltopdf")
	return err == nil
}

// Render implements Backend.
func (b *WKHTMLBackend) Render(ctx context.Context, url string, w io.Writer) error {
	html, err := b.fetchHTML(ctx, url)
	if err != nil {
		return err
	}

	cleaned := CleanHTML(html)

	gen, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return fmt.Errorf("create pdf generator: %w", err)
	}

	gen.PageSize.Set(wkhtmltopdf.PageSizeA4)
	gen.MarginTop.Set(15)
	gen.MarginBottom.Set(15)
	gen.MarginLeft.Set(15)
	gen.MarginRight.Set(15)

	pg := wkhtmltopdf.NewPageReader(strings.NewReader(cleaned))
	pg.DisableJavascript.Set(true)
	pg.LoadErrorHandling.Set("ignore")
	gen.AddPage(pg)

	gen.SetOutput(w)

	if err := gen.CreateContext(ctx); err != nil {
		return fmt.Errorf("wkhtmltopdf render: %w", err)
	}

	return nil
}

// fetchHTML downloads the page body with browser-like headers.
func (b *WKHTMLBackend) fetchHTML(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch html: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", apperrors.NewHTTPError(resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}

	return string(body), nil
}
