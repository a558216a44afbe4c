package syncer

import (
	"fmt"
	"strings"
	"time"
)

// FailedFile records one failed download.
type FailedFile struct {
	URL   string
	Error string
}

// Results is the report of one sync run.
type Results struct {
	StartTime  time.Time
	EndTime    time.Time
	TotalLinks int
	Downloaded int
	Failed     int
	Removed    int
	KBSyncOK   bool
	Errors     []string
	// DownloadedFiles are the local paths written this run.
	DownloadedFiles []string
	// FailedFiles pairs source URLs with their failure.
	FailedFiles []FailedFile
}

// OK reports whether the run succeeded: no failed downloads and a passing
// knowledge-base sync. Errors holds non-fatal issues (like skipped manifest
// rows) that belong in the report but never fail the run.
func (r *Results) OK() bool {
	return r.Failed == 0 && r.KBSyncOK
}

// Summary renders a human-readable report.
func (r *Results) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Sync completed in %s\n", r.EndTime.Sub(r.StartTime).Round(time.Millisecond))
	fmt.Fprintf(&b, "  Links:      %d\n", r.TotalLinks)
	fmt.Fprintf(&b, "  Downloaded: %d\n", r.Downloaded)
	fmt.Fprintf(&b, "  Failed:     %d\n", r.Failed)
	if r.Removed > 0 {
		fmt.Fprintf(&b, "  Removed:    %d\n", r.Removed)
	}
	fmt.Fprintf(&b, "  KB sync:    %s\n", okString(r.KBSyncOK))

	if len(r.Errors) > 0 {
		b.WriteString("Errors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}

	return b.String()
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
