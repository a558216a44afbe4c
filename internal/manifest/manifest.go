// Package manifest parses the document manifest spreadsheet and classifies
// the links it holds.
package manifest

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Kind classifies a manifest link by how its content must be fetched.
type Kind string

const (
	// KindGoogleDoc is a Google Docs document, exported to PDF.
	KindGoogleDoc Kind = "google_doc"
	// KindGoogleSheet is a Google Sheets spreadsheet, exported to PDF.
	KindGoogleSheet Kind = "google_sheet"
	// KindGoogleSlides is a Google Slides presentation, exported to PDF.
	KindGoogleSlides Kind = "google_slide"
	// KindPDF is a direct link to a PDF, downloaded as-is.
	KindPDF Kind = "pdf"
	// KindWebpage is a regular web page, converted to PDF.
	KindWebpage Kind = "webpage"
	// KindUnknown is a link no strategy can handle.
	KindUnknown Kind = "unknown"
)

// Entry is one usable row of the manifest spreadsheet.
type Entry struct {
	// Row is the 1-based spreadsheet row the entry came from.
	Row int
	// URL is the source link.
	URL string
	// Title is the document title from the first column, may be empty.
	Title string
	// Kind is the link classification.
	Kind Kind
	// Filename is the sanitized local filename the document is stored under.
	Filename string
}

// ParseResult holds the usable entries and the per-row errors of one parse.
type ParseResult struct {
	Entries []Entry
	// Errors records skipped rows (invalid URLs). They never abort a parse.
	Errors []string
}

// invalidFilenameChars are replaced when deriving local filenames.
var invalidFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]+`)

// Classify determines how a link's content must be fetched.
// Rules are checked in order and the first match wins.
func Classify(rawURL string) Kind {
	lower := strings.ToLower(strings.TrimSpace(rawURL))

	switch {
	case strings.Contains(lower, "docs.google.com/document"):
		return KindGoogleDoc
	case strings.Contains(lower, "docs.google.com/spreadsheets"):
		return KindGoogleSheet
	case strings.Contains(lower, "docs.google.com/presentation"):
		return KindGoogleSlides
	case strings.Contains(lower, "drive.google.com/file"):
		// Could be any Drive file; a nested document path still means a doc.
		if strings.Contains(lower, "/document/") {
			return KindGoogleDoc
		}
		if strings.HasSuffix(lower, ".pdf") {
			return KindPDF
		}
		return KindUnknown
	case strings.HasSuffix(lower, ".pdf"):
		return KindPDF
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return KindWebpage
	default:
		return KindUnknown
	}
}

// IsValidURL reports whether the URL has an http(s) scheme and a host.
func IsValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// SanitizeFilename derives a safe local filename from the URL's last path
// segment, falling back to a row-based name when the URL yields nothing usable.
func SanitizeFilename(rawURL string, row int) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		segments := strings.Split(u.Path, "/")
		name := segments[len(segments)-1]
		name = invalidFilenameChars.ReplaceAllString(name, "_")

		if name != "" && !strings.HasPrefix(name, ".") {
			if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
				name += ".pdf"
			}
			return name
		}
	}

	return fmt.Sprintf("document_row_%d.pdf", row)
}

// Parser parses manifest spreadsheets exported as CSV.
type Parser struct {
	// ColumnIndex is the 0-based column holding the links.
	ColumnIndex int
	// SkipHeader skips the first row when set.
	SkipHeader bool
	Logger     *slog.Logger
}

// NewParser creates a parser with the default layout: links in the second
// column, header row skipped.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{ColumnIndex: 1, SkipHeader: true, Logger: logger}
}

// Parse reads CSV rows and extracts one Entry per valid link.
// Rows with missing or empty cells are skipped silently; rows with invalid
// URLs are skipped and recorded as errors.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	result := &ParseResult{}

	start := 0
	if p.SkipHeader && len(rows) > 0 {
		start = 1
	}

	for i := start; i < len(rows); i++ {
		rowNum := i + 1
		row := rows[i]

		if len(row) <= p.ColumnIndex {
			continue
		}

		rawURL := strings.TrimSpace(row[p.ColumnIndex])
		if rawURL == "" {
			continue
		}

		if !IsValidURL(rawURL) {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: invalid URL %q", rowNum, rawURL))
			continue
		}

		kind := Classify(rawURL)
		if kind == KindUnknown {
			p.Logger.Warn("unknown link type", "row", rowNum, "url", rawURL)
		}

		title := ""
		if len(row) > 0 {
			title = strings.TrimSpace(row[0])
		}

		result.Entries = append(result.Entries, Entry{
			Row:      rowNum,
			URL:      rawURL,
			Title:    title,
			Kind:     kind,
			Filename: SanitizeFilename(rawURL, rowNum),
		})
	}

	if len(result.Errors) > 0 {
		p.Logger.Warn("manifest parsed with errors", "entries", len(result.Entries), "errors", len(result.Errors))
	} else {
		p.Logger.Debug("manifest parsed", "entries", len(result.Entries))
	}

	return result, nil
}

// Summary renders a per-kind breakdown of parsed entries.
func Summary(entries []Entry) string {
	if len(entries) == 0 {
		return "No links found"
	}

	counts := make(map[Kind]int)
	for _, e := range entries {
		counts[e.Kind]++
	}

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var b strings.Builder
	fmt.Fprintf(&b, "Total Links: %d\n", len(entries))
	b.WriteString("Breakdown by type:")
	for _, k := range kinds {
		fmt.Fprintf(&b, "\n  - %s: %d", k, counts[Kind(k)])
	}

	return b.String()
}
