package download

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

// pdfMagic is the required file prefix of every PDF.
var pdfMagic = []byte("%PDF")

// VerifyPDF checks the magic bytes of the file at path. On failure the file
// is removed so a broken download never survives to the next sync.
func VerifyPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for verification: %w", err)
	}

	header := make([]byte, len(pdfMagic))
	_, readErr := f.Read(header)
	_ = f.Close()

	if readErr != nil || !bytes.Equal(header, pdfMagic) {
		_ = os.Remove(path)

		return fmt.Errorf("%w: %s", apperrors.ErrNotPDF, path)
	}

	return nil
}

// validateStructure runs a structural PDF check. Failures are advisory:
// many real-world PDFs are sloppy but still usable, so this only logs.
func validateStructure(path string, logger *slog.Logger) {
	if err := api.ValidateFile(path, nil); err != nil {
		logger.Warn("PDF structure validation failed", "path", path, "error", err)
	}
}
