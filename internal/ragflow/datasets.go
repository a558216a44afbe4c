package ragflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

// RaptorConfig enables recursive abstractive clustering during parsing.
type RaptorConfig struct {
	UseRaptor bool `json:"use_raptor"`
}

// ParserConfig controls how documents are chunked.
type ParserConfig struct {
	ChunkTokenNum   int           `json:"chunk_token_num,omitempty"`
	LayoutRecognize string        `json:"layout_recognize,omitempty"`
	Raptor          *RaptorConfig `json:"raptor,omitempty"`
}

// Dataset is a RAGFlow knowledge-base dataset.
type Dataset struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	EmbeddingModel string        `json:"embedding_model,omitempty"`
	ChunkMethod    string        `json:"chunk_method,omitempty"`
	ParserConfig   *ParserConfig `json:"parser_config,omitempty"`
	DocumentCount  int           `json:"document_count,omitempty"`
	ChunkCount     int           `json:"chunk_count,omitempty"`
}

// CreateDatasetRequest is the body for dataset creation.
type CreateDatasetRequest struct {
	Name           string        `json:"name"`
	Description    string        `json:"description,omitempty"`
	EmbeddingModel string        `json:"embedding_model,omitempty"`
	ChunkMethod    string        `json:"chunk_method,omitempty"`
	ParserConfig   *ParserConfig `json:"parser_config,omitempty"`
}

// ListDatasets returns all datasets visible to the API key.
func (c *Client) ListDatasets(ctx context.Context) ([]Dataset, error) {
	var datasets []Dataset
	if err := c.do(ctx, http.MethodGet, "/datasets", nil, &datasets); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	return datasets, nil
}

// FindDataset returns the dataset with the given name.
func (c *Client) FindDataset(ctx context.Context, name string) (*Dataset, error) {
	var datasets []Dataset
	path := "/datasets?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &datasets); err != nil {
		return nil, fmt.Errorf("find dataset: %w", err)
	}

	for _, ds := range datasets {
		if ds.Name == name {
			found := ds

			return &found, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", apperrors.ErrDatasetNotFound, name)
}

// CreateDataset creates a new dataset.
func (c *Client) CreateDataset(ctx context.Context, req CreateDatasetRequest) (*Dataset, error) {
	var ds Dataset
	if err := c.do(ctx, http.MethodPost, "/datasets", req, &ds); err != nil {
		return nil, fmt.Errorf("create dataset: %w", err)
	}

	return &ds, nil
}

// DeleteDatasets deletes the datasets with the given IDs.
func (c *Client) DeleteDatasets(ctx context.Context, ids ...string) error {
	body := map[string][]string{"ids": ids}
	if err := c.do(ctx, http.MethodDelete, "/datasets", body, nil); err != nil {
		return fmt.Errorf("delete datasets: %w", err)
	}

	return nil
}
