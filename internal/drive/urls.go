package drive

import (
	"regexp"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

// folderIDPatterns match the Drive folder URL shapes users paste in.
var folderIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
}

// fileIDPatterns match the Drive and Docs URL shapes that carry a file ID.
var fileIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/document/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/presentation/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
}

// ExtractFolderID extracts the folder ID from a Drive folder URL.
// A bare ID (no slashes) is returned as-is.
func ExtractFolderID(folderURL string) (string, error) {
	for _, re := range folderIDPatterns {
		if m := re.FindStringSubmatch(folderURL); m != nil {
			return m[1], nil
		}
	}
	if regexp.MustCompile(`^[a-zA-Z0-9_-]+$`).MatchString(folderURL) {
		return folderURL, nil
	}
	return "", apperrors.ErrNoDriveID
}

// ExtractFileID extracts the file ID from a Drive, Docs, Sheets or Slides URL.
func ExtractFileID(fileURL string) (string, error) {
	for _, re := range fileIDPatterns {
		if m := re.FindStringSubmatch(fileURL); m != nil {
			return m[1], nil
		}
	}
	return "", apperrors.ErrNoDriveID
}
