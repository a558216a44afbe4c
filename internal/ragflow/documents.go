package ragflow

import (
	"context"
	"fmt"
	"net/http"
)

// Document is a file stored in a dataset.
type Document struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Size       int64   `json:"size,omitempty"`
	Run        string  `json:"run,omitempty"` // Parse status: UNSTART, RUNNING, DONE, FAIL
	ChunkCount int     `json:"chunk_count,omitempty"`
	TokenCount int     `json:"token_count,omitempty"`
	Progress   float64 `json:"progress,omitempty"`
}

// Parse run states reported in Document.Run.
const (
	RunUnstarted = "UNSTART"
	RunRunning   = "RUNNING"
	RunDone      = "DONE"
	RunFailed    = "FAIL"
)

// documentPage is the paged document listing payload.
type documentPage struct {
	Docs  []Document `json:"docs"`
	Total int        `json:"total"`
}

// ListDocuments returns every document in a dataset.
func (c *Client) ListDocuments(ctx context.Context, datasetID string) ([]Document, error) {
	var all []Document
	page := 1
	const pageSize = 100

	for {
		var result documentPage
		path := fmt.Sprintf("/datasets/%s/documents?page=%d&page_size=%d", datasetID, page, pageSize)
		if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}

		all = append(all, result.Docs...)
		if len(all) >= result.Total || len(result.Docs) == 0 {
			return all, nil
		}
		page++
	}
}

// UploadDocuments uploads files (name to content) into a dataset.
func (c *Client) UploadDocuments(ctx context.Context, datasetID string, files map[string][]byte) ([]Document, error) {
	var docs []Document
	path := fmt.Sprintf("/datasets/%s/documents", datasetID)
	if err := c.upload(ctx, path, files, &docs); err != nil {
		return nil, fmt.Errorf("upload documents: %w", err)
	}

	return docs, nil
}

// DeleteDocuments deletes documents from a dataset by ID.
func (c *Client) DeleteDocuments(ctx context.Context, datasetID string, ids ...string) error {
	path := fmt.Sprintf("/datasets/%s/documents", datasetID)
	body := map[string][]string{"ids": ids}
	if err := c.do(ctx, http.MethodDelete, path, body, nil); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}

	return nil
}

// ParseDocuments starts asynchronous parsing of the given documents.
func (c *Client) ParseDocuments(ctx context.Context, datasetID string, documentIDs ...string) error {
	path := fmt.Sprintf("/datasets/%s/chunks", datasetID)
	body := map[string][]string{"document_ids": documentIDs}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("parse documents: %w", err)
	}

	return nil
}
