package convert

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const chromeRenderTimeout = 60 * time.Second

// A4 paper in inches, 1.5cm margins.
const (
	paperWidthInches  = 8.27
	paperHeightInches = 11.69
	marginInches      = 0.59
)

// chromeBinaries are the executables probed for headless rendering.
var chromeBinaries = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"}

// stripPageChrome removes navigation, ads and consent banners before printing.
const stripPageChrome = `(() => {
	const selectors = [
		'header', 'footer', 'nav', 'aside',
		'[role="banner"]', '[role="navigation"]', '[role="complementary"]', '[role="contentinfo"]',
		'.header', '.footer', '.nav', '.navigation', '.navbar', '.sidebar', '.side-bar',
		'.menu', '.ad', '.advertisement', '.ads', '.banner',
		'.cookie', '.cookie-banner', '.cookie-consent', '.cookie-notice',
		'.consent', '.gdpr', '.privacy-notice', '.privacy-banner',
		'.social', '.social-share', '.social-sharing', '.share', '.sharing',
		'.subscribe', '.newsletter', '.signup', '.sign-up',
		'.comment', '.comments', '.related', '.recommended',
		'.breadcrumb', '.breadcrumbs', '.pagination',
		'.masthead', '.site-header', '.site-footer',
		'.top-bar', '.bottom-bar',
		'#header', '#footer', '#nav', '#navigation', '#sidebar',
		'#cookie-banner', '#cookie-notice', '#consent-banner'
	];
	for (const sel of selectors) {
		try {
			document.querySelectorAll(sel).forEach(el => el.remove());
		} catch (e) {}
	}
	document.querySelectorAll('script, iframe, noscript').forEach(el => el.remove());
})()`

// printCSS keeps headings attached to their content across page breaks.
const printCSS = `
h1, h2, h3, h4, h5, h6 { page-break-after: avoid; break-after: avoid; }
p, li, table, figure { page-break-inside: avoid; orphans: 3; widows: 3; }
body { font-size: 11pt; line-height: 1.5; }
`

// ChromeBackend renders pages with a headless Chrome via the DevTools protocol.
type ChromeBackend struct{}

// NewChromeBackend creates the headless-Chrome backend.
func NewChromeBackend() *ChromeBackend {
	return &ChromeBackend{}
}

// Name implements Backend.
func (b *ChromeBackend) Name() string { return BackendChrome }

// Available reports whether a Chrome or Chromium binary is on PATH.
func (b *ChromeBackend) Available() bool {
	for _, bin := range chromeBinaries {
		if _, err := exec.LookPath(bin); err == nil {
			return true
		}
	}
	return false
}

// Render implements Backend. The page is loaded in a fresh browser, page
// chrome is stripped, and the result is printed to PDF with print media CSS.
func (b *ChromeBackend) Render(ctx context.Context, url string, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, chromeRenderTimeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var pdf []byte

	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(stripPageChrome, nil),
		chromedp.ActionFunc(func(ctx context.Context) error {
			script := fmt.Sprintf(
				`(() => { const s = document.createElement('style'); s.textContent = %q; document.head.appendChild(s); })()`,
				printCSS)
			return chromedp.Evaluate(script, nil).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPaperWidth(paperWidthInches).
				WithPaperHeight(paperHeightInches).
				WithMarginTop(marginInches).
				WithMarginBottom(marginInches).
				WithMarginLeft(marginInches).
				WithMarginRight(marginInches).
				WithPrintBackground(false).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("chrome render: %w", err)
	}

	if _, err := w.Write(pdf); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}

	return nil
}
