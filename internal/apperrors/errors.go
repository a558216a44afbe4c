// Package apperrors provides common static errors used throughout the application.
package apperrors

import (
	"errors"
	"fmt"
)

// HTTPError represents an HTTP error with a status code.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(statusCode int, body string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Body: body}
}

// Common static errors used throughout the application.
var (
	// ErrAuthentication is returned when OAuth credentials are missing or cannot be refreshed.
	ErrAuthentication = errors.New("authentication failed (run 'rcsb-chatbot auth' to set up credentials)")

	// ErrFolderNotFound is returned when the Drive folder does not exist or is not accessible.
	ErrFolderNotFound = errors.New("folder not found or not accessible")

	// ErrNotAFolder is returned when the given Drive ID does not refer to a folder.
	ErrNotAFolder = errors.New("not a folder")

	// ErrNoManifest is returned when no spreadsheet is found in the manifest folder.
	ErrNoManifest = errors.New("no spreadsheet found in folder")

	// ErrInvalidURL is returned when a manifest cell does not hold a usable http(s) URL.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrNoDriveID is returned when no file ID can be extracted from a Drive URL.
	ErrNoDriveID = errors.New("could not extract file ID from URL")

	// ErrNotExportable is returned for workspace files that cannot be exported to PDF.
	ErrNotExportable = errors.New("file type cannot be exported to PDF")

	// ErrFileTooLarge is returned when a download exceeds the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")

	// ErrNotPDF is returned when a downloaded file fails the PDF magic byte check.
	ErrNotPDF = errors.New("downloaded file is not a PDF")

	// ErrConversionFailed is returned when every webpage-to-PDF backend has been exhausted.
	ErrConversionFailed = errors.New("all PDF conversion backends failed")

	// ErrNoBackend is returned when no webpage-to-PDF backend is available at all.
	ErrNoBackend = errors.New("no PDF conversion backend available")

	// ErrMaxRetriesExceeded is returned when the maximum number of API retries is exceeded.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrAPIKeyRequired is returned when the RAGFlow API key is missing.
	ErrAPIKeyRequired = errors.New("RAGFlow API key required (set RAGFLOW_API_KEY)")

	// ErrFolderURLRequired is returned when the manifest folder URL is missing.
	ErrFolderURLRequired = errors.New("manifest folder URL required (set GOOGLE_DRIVE_FOLDER_URL)")

	// ErrAssistantNotFound is returned when the configured chat assistant does not exist.
	ErrAssistantNotFound = errors.New("chat assistant not found")

	// ErrChatNotFound is returned when a chat ID is unknown for the given user.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound is returned when a message UUID is unknown within a chat.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDatasetNotFound is returned when the knowledge base dataset does not exist.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrKBSyncTimeout is returned when the knowledge base sync subprocess exceeds its deadline.
	ErrKBSyncTimeout = errors.New("knowledge base sync timed out")

	// ErrUserIDRequired is returned when a chat command is invoked without a user ID.
	ErrUserIDRequired = errors.New("user ID required")

	// ErrSyncIncomplete is returned when a sync run finished with failures.
	ErrSyncIncomplete = errors.New("sync completed with failures")

	// ErrQuestionRequired is returned when chat send is invoked without a question.
	ErrQuestionRequired = errors.New("question required")

	// ErrChatIDRequired is returned when a chat command is invoked without a chat ID.
	ErrChatIDRequired = errors.New("chat ID required")
)
