package manifest

import (
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want Kind
	}{
		{"google doc", "https://docs.google.com/document/d/abc/edit", KindGoogleDoc},
		{"google sheet", "https://docs.google.com/spreadsheets/d/abc/edit", KindGoogleSheet},
		{"google slides", "https://docs.google.com/presentation/d/abc/edit", KindGoogleSlides},
		{"drive pdf file", "https://drive.google.com/file/d/abc/paper.pdf", KindPDF},
		{"drive non-pdf file", "https://drive.google.com/file/d/abc/view", KindUnknown},
		{"direct pdf", "https://example.org/paper.pdf", KindPDF},
		{"uppercase pdf", "https://example.org/PAPER.PDF", KindPDF},
		{"webpage", "https://www.rcsb.org/docs/tools", KindWebpage},
		{"plain http", "http://example.org/page", KindWebpage},
		{"no scheme", "ftp://example.org/file", KindUnknown},
		{"garbage", "not a url", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.url); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		row  int
		want string
	}{
		{"pdf keeps name", "https://example.org/docs/paper.pdf", 3, "paper.pdf"},
		{"non-pdf gains extension", "https://example.org/docs/report", 3, "report.pdf"},
		{"unsafe chars replaced", `https://example.org/a:b*c.pdf`, 3, "a_b_c.pdf"},
		{"query stripped", "https://example.org/paper.pdf?download=1", 3, "paper.pdf"},
		{"empty path falls back", "https://example.org", 7, "document_row_7.pdf"},
		{"trailing slash falls back", "https://example.org/dir/", 5, "document_row_5.pdf"},
		{"dotfile falls back", "https://example.org/.hidden", 9, "document_row_9.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeFilename(tt.url, tt.row); got != tt.want {
				t.Errorf("SanitizeFilename(%q, %d) = %q, want %q", tt.url, tt.row, got, tt.want)
			}
		})
	}
}

func TestSanitizeFilenameAlwaysPDF(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://example.org/a/b/c",
		"https://docs.google.com/document/d/abc/edit",
		"https://example.org/file.txt",
		"https://example.org",
	}
	for _, u := range urls {
		name := SanitizeFilename(u, 1)
		if name == "" || !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			t.Errorf("SanitizeFilename(%q) = %q, want non-empty .pdf name", u, name)
		}
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	csvData := strings.Join([]string{
		"Title,URL,Notes",
		"Doc One,https://docs.google.com/document/d/abc/edit,note",
		"PDF Paper,https://example.org/paper.pdf,",
		"Bad Row,not-a-url,",
		",,",
		"Short Row",
		"Web Page,https://www.rcsb.org/docs,",
	}, "\n")

	p := NewParser(nil)
	result, err := p.Parse(strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(result.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(result.Entries))
	}
	if len(result.Errors) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(result.Errors), result.Errors)
	}

	first := result.Entries[0]
	if first.Kind != KindGoogleDoc {
		t.Errorf("first entry kind = %v, want %v", first.Kind, KindGoogleDoc)
	}
	if first.Row != 2 {
		t.Errorf("first entry row = %d, want 2", first.Row)
	}
	if first.Title != "Doc One" {
		t.Errorf("first entry title = %q", first.Title)
	}
	if !strings.HasSuffix(first.Filename, ".pdf") {
		t.Errorf("first entry filename %q does not end in .pdf", first.Filename)
	}

	second := result.Entries[1]
	if second.Kind != KindPDF || second.Filename != "paper.pdf" {
		t.Errorf("second entry = %+v, want pdf kind with paper.pdf", second)
	}

	if !strings.Contains(result.Errors[0], "row 4") {
		t.Errorf("error should reference row 4: %s", result.Errors[0])
	}
}

func TestParseNoHeader(t *testing.T) {
	t.Parallel()

	p := NewParser(nil)
	p.SkipHeader = false

	result, err := p.Parse(strings.NewReader("Doc,https://example.org/a.pdf\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(result.Entries))
	}
	if result.Entries[0].Row != 1 {
		t.Errorf("row = %d, want 1", result.Entries[0].Row)
	}
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()

	p := NewParser(nil)
	result, err := p.Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(result.Entries) != 0 || len(result.Errors) != 0 {
		t.Errorf("empty input should yield nothing, got %+v", result)
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Kind: KindPDF},
		{Kind: KindPDF},
		{Kind: KindWebpage},
		{Kind: KindGoogleDoc},
	}

	got := Summary(entries)
	want := "Total Links: 4\nBreakdown by type:\n  - google_doc: 1\n  - pdf: 2\n  - webpage: 1"
	if got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}

	if got := Summary(nil); got != "No links found" {
		t.Errorf("Summary(nil) = %q", got)
	}
}
