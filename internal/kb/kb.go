// Package kb initializes and incrementally syncs the RAGFlow knowledge base
// from the local document directory.
package kb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/ragflow"
)

const (
	// DatasetName is the knowledge base dataset on the RAGFlow server.
	DatasetName = "rcsb_pdb_knowledge_base"

	// DefaultEmbeddingModel balances retrieval quality against cost for
	// scientific text.
	DefaultEmbeddingModel = "text-embedding-3-large@OpenAI"

	// DefaultChunkMethod is tuned for papers and technical documents.
	DefaultChunkMethod = "paper"

	defaultChunkTokens = 512

	defaultPollInterval   = 10 * time.Second
	defaultProcessTimeout = 5 * time.Minute
)

// API is the slice of the RAGFlow client the knowledge base needs.
type API interface {
	FindDataset(ctx context.Context, name string) (*ragflow.Dataset, error)
	CreateDataset(ctx context.Context, req ragflow.CreateDatasetRequest) (*ragflow.Dataset, error)
	DeleteDatasets(ctx context.Context, ids ...string) error
	ListDocuments(ctx context.Context, datasetID string) ([]ragflow.Document, error)
	UploadDocuments(ctx context.Context, datasetID string, files map[string][]byte) ([]ragflow.Document, error)
	DeleteDocuments(ctx context.Context, datasetID string, ids ...string) error
	ParseDocuments(ctx context.Context, datasetID string, documentIDs ...string) error
}

// Metrics summarizes the dataset after processing.
type Metrics struct {
	Documents   int
	Succeeded   int
	Failed      int
	Chunks      int
	Tokens      int
	SuccessRate float64
}

// SyncStats reports one incremental sync.
type SyncStats struct {
	New       int
	Updated   int
	Deleted   int
	Unchanged int
}

// Changed reports whether the sync touched the dataset.
func (s *SyncStats) Changed() bool {
	return s.New > 0 || s.Updated > 0 || s.Deleted > 0
}

// Initializer manages the knowledge base dataset.
type Initializer struct {
	api            API
	docsDir        string
	logger         *slog.Logger
	pollInterval   time.Duration
	processTimeout time.Duration
}

// Option configures the initializer.
type Option func(*Initializer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Initializer) {
		i.logger = l
	}
}

// WithPollInterval overrides the processing poll interval (useful for testing).
func WithPollInterval(d time.Duration) Option {
	return func(i *Initializer) {
		i.pollInterval = d
	}
}

// WithProcessTimeout overrides the processing wait deadline.
func WithProcessTimeout(d time.Duration) Option {
	return func(i *Initializer) {
		i.processTimeout = d
	}
}

// New creates an initializer reading documents from docsDir.
func New(api API, docsDir string, opts ...Option) *Initializer {
	i := &Initializer{
		api:            api,
		docsDir:        docsDir,
		logger:         slog.Default(),
		pollInterval:   defaultPollInterval,
		processTimeout: defaultProcessTimeout,
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

// datasetConfig is the creation request for the RCSB PDB dataset.
func datasetConfig() ragflow.CreateDatasetRequest {
	return ragflow.CreateDatasetRequest{
		Name:           DatasetName,
		Description:    "RCSB PDB documentation and publications for the chatbot",
		EmbeddingModel: DefaultEmbeddingModel,
		ChunkMethod:    DefaultChunkMethod,
		ParserConfig: &ragflow.ParserConfig{
			ChunkTokenNum:   defaultChunkTokens,
			LayoutRecognize: "DeepDOC",
			Raptor:          &ragflow.RaptorConfig{UseRaptor: true},
		},
	}
}

// Initialize creates (or with force, recreates) the dataset, uploads every
// local document and parses them, returning processing metrics.
func (i *Initializer) Initialize(ctx context.Context, force bool) (*Metrics, error) {
	existing, err := i.api.FindDataset(ctx, DatasetName)
	if err == nil {
		if !force {
			i.logger.InfoContext(ctx, "dataset already exists", "dataset_id", existing.ID)

			return i.metrics(ctx, existing.ID)
		}

		i.logger.InfoContext(ctx, "recreating dataset", "dataset_id", existing.ID)
		if err := i.api.DeleteDatasets(ctx, existing.ID); err != nil {
			return nil, err
		}
	}

	dataset, err := i.api.CreateDataset(ctx, datasetConfig())
	if err != nil {
		return nil, err
	}

	i.logger.InfoContext(ctx, "created dataset", "dataset_id", dataset.ID, "name", dataset.Name)

	files, err := i.localFiles()
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		i.logger.WarnContext(ctx, "no documents to upload", "dir", i.docsDir)

		return i.metrics(ctx, dataset.ID)
	}

	docs, err := i.uploadFiles(ctx, dataset.ID, files)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}

	if err := i.api.ParseDocuments(ctx, dataset.ID, ids...); err != nil {
		return nil, err
	}

	i.waitForProcessing(ctx, dataset.ID, ids)

	return i.metrics(ctx, dataset.ID)
}

// Sync incrementally reconciles the dataset with the local documents.
// New files are uploaded; files whose size changed, whose parse failed, or
// which finished with zero chunks are replaced; documents with no local
// counterpart are deleted. Only changed documents are re-parsed.
func (i *Initializer) Sync(ctx context.Context) (*SyncStats, error) {
	dataset, err := i.api.FindDataset(ctx, DatasetName)
	if err != nil {
		// No dataset yet: a full initialization counts everything as new.
		i.logger.InfoContext(ctx, "dataset missing, initializing")
		metrics, initErr := i.Initialize(ctx, false)
		if initErr != nil {
			return nil, initErr
		}

		return &SyncStats{New: metrics.Documents}, nil
	}

	local, err := i.localFileSizes()
	if err != nil {
		return nil, err
	}

	remote, err := i.listByName(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	stats := &SyncStats{}
	var toUpload []string
	var toDelete []string

	for name, size := range local {
		doc, ok := remote[name]
		switch {
		case !ok:
			stats.New++
			toUpload = append(toUpload, name)
			i.logger.InfoContext(ctx, "new document", "name", name)
		case doc.Size != size:
			stats.Updated++
			toUpload = append(toUpload, name)
			toDelete = append(toDelete, doc.ID)
			i.logger.InfoContext(ctx, "updated document", "name", name, "old_size", doc.Size, "new_size", size)
		case doc.Run == ragflow.RunFailed:
			stats.Updated++
			toUpload = append(toUpload, name)
			toDelete = append(toDelete, doc.ID)
			i.logger.InfoContext(ctx, "retrying failed document", "name", name)
		case doc.Run == ragflow.RunDone && doc.ChunkCount == 0:
			stats.Updated++
			toUpload = append(toUpload, name)
			toDelete = append(toDelete, doc.ID)
			i.logger.InfoContext(ctx, "retrying document with no chunks", "name", name)
		default:
			stats.Unchanged++
		}
	}

	for name, doc := range remote {
		if _, ok := local[name]; !ok {
			stats.Deleted++
			toDelete = append(toDelete, doc.ID)
			i.logger.InfoContext(ctx, "deleting document", "name", name)
		}
	}

	if !stats.Changed() {
		i.logger.InfoContext(ctx, "knowledge base up to date", "documents", stats.Unchanged)

		return stats, nil
	}

	if len(toDelete) > 0 {
		if err := i.api.DeleteDocuments(ctx, dataset.ID, toDelete...); err != nil {
			return nil, err
		}
	}

	if len(toUpload) > 0 {
		files := make(map[string][]byte, len(toUpload))
		for _, name := range toUpload {
			data, err := os.ReadFile(filepath.Join(i.docsDir, name))
			if err != nil {
				i.logger.WarnContext(ctx, "failed to read document", "name", name, "error", err)
				continue
			}
			files[name] = data
		}

		docs, err := i.uploadFiles(ctx, dataset.ID, files)
		if err != nil {
			return nil, err
		}

		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}

		if err := i.api.ParseDocuments(ctx, dataset.ID, ids...); err != nil {
			return nil, err
		}

		i.waitForProcessing(ctx, dataset.ID, ids)
	}

	i.logger.InfoContext(ctx, "knowledge base sync complete",
		"new", stats.New, "updated", stats.Updated, "deleted", stats.Deleted, "unchanged", stats.Unchanged)

	return stats, nil
}

// TriggerSync lets the initializer serve as an in-process sync trigger.
func (i *Initializer) TriggerSync(ctx context.Context) error {
	_, err := i.Sync(ctx)

	return err
}

// localFiles reads every ingestable document in the docs directory.
func (i *Initializer) localFiles() (map[string][]byte, error) {
	names, err := i.localFileSizes()
	if err != nil {
		return nil, err
	}

	files := make(map[string][]byte, len(names))
	for name := range names {
		data, err := os.ReadFile(filepath.Join(i.docsDir, name))
		if err != nil {
			i.logger.Warn("failed to read document", "name", name, "error", err)
			continue
		}
		files[name] = data
	}

	return files, nil
}

// localFileSizes lists ingestable documents (*.pdf, *.txt) with their sizes.
func (i *Initializer) localFileSizes() (map[string]int64, error) {
	entries, err := os.ReadDir(i.docsDir)
	if err != nil {
		return nil, fmt.Errorf("read docs dir: %w", err)
	}

	sizes := make(map[string]int64)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".pdf" && ext != ".txt" {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		sizes[e.Name()] = info.Size()
	}

	return sizes, nil
}

// listByName indexes the dataset's documents by display name.
func (i *Initializer) listByName(ctx context.Context, datasetID string) (map[string]ragflow.Document, error) {
	docs, err := i.api.ListDocuments(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]ragflow.Document, len(docs))
	for _, d := range docs {
		byName[d.Name] = d
	}

	return byName, nil
}

// uploadFiles uploads documents in one batch.
func (i *Initializer) uploadFiles(ctx context.Context, datasetID string, files map[string][]byte) ([]ragflow.Document, error) {
	docs, err := i.api.UploadDocuments(ctx, datasetID, files)
	if err != nil {
		return nil, err
	}

	i.logger.InfoContext(ctx, "uploaded documents", "count", len(docs))

	return docs, nil
}

// waitForProcessing polls until the given documents finish parsing or the
// deadline passes. Processing failures are logged, not returned: partial
// ingestion is still useful and shows up in the metrics.
func (i *Initializer) waitForProcessing(ctx context.Context, datasetID string, ids []string) {
	watch := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		watch[id] = struct{}{}
	}

	deadline := time.Now().Add(i.processTimeout)

	for len(watch) > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(i.pollInterval):
		}

		docs, err := i.api.ListDocuments(ctx, datasetID)
		if err != nil {
			i.logger.WarnContext(ctx, "failed to poll processing", "error", err)
			continue
		}

		for _, doc := range docs {
			if _, ok := watch[doc.ID]; !ok {
				continue
			}

			switch {
			case doc.Run == ragflow.RunDone && doc.ChunkCount > 0:
				i.logger.InfoContext(ctx, "document processed", "name", doc.Name, "chunks", doc.ChunkCount)
				delete(watch, doc.ID)
			case doc.Run == ragflow.RunDone:
				i.logger.WarnContext(ctx, "document done but produced no chunks", "name", doc.Name)
				delete(watch, doc.ID)
			case doc.Run == ragflow.RunFailed:
				i.logger.WarnContext(ctx, "document processing failed", "name", doc.Name)
				delete(watch, doc.ID)
			}
		}
	}

	if len(watch) > 0 {
		i.logger.WarnContext(ctx, "processing wait timed out", "pending", len(watch))
	}
}

// metrics summarizes the dataset's processing state.
func (i *Initializer) metrics(ctx context.Context, datasetID string) (*Metrics, error) {
	docs, err := i.api.ListDocuments(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	m := &Metrics{Documents: len(docs)}
	for _, d := range docs {
		m.Chunks += d.ChunkCount
		m.Tokens += d.TokenCount

		if d.Run == ragflow.RunDone && d.ChunkCount > 0 {
			m.Succeeded++
		} else if d.Run == ragflow.RunFailed || (d.Run == ragflow.RunDone && d.ChunkCount == 0) {
			m.Failed++
		}
	}

	if m.Documents > 0 {
		m.SuccessRate = float64(m.Succeeded) / float64(m.Documents)
	}

	return m, nil
}
