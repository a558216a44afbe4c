package kb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/ragflow"
)

// fakeAPI is an in-memory RAGFlow server.
type fakeAPI struct {
	dataset   *ragflow.Dataset
	docs      map[string]ragflow.Document // by ID
	nextID    int
	created   int
	deleted   int
	parsedIDs []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{docs: make(map[string]ragflow.Document)}
}

func (f *fakeAPI) FindDataset(_ context.Context, name string) (*ragflow.Dataset, error) {
	if f.dataset != nil && f.dataset.Name == name {
		return f.dataset, nil
	}
	return nil, apperrors.ErrDatasetNotFound
}

func (f *fakeAPI) CreateDataset(_ context.Context, req ragflow.CreateDatasetRequest) (*ragflow.Dataset, error) {
	f.created++
	f.dataset = &ragflow.Dataset{ID: "ds1", Name: req.Name}
	return f.dataset, nil
}

func (f *fakeAPI) DeleteDatasets(_ context.Context, ids ...string) error {
	f.deleted += len(ids)
	f.dataset = nil
	f.docs = make(map[string]ragflow.Document)
	return nil
}

func (f *fakeAPI) ListDocuments(_ context.Context, _ string) ([]ragflow.Document, error) {
	out := make([]ragflow.Document, 0, len(f.docs))
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeAPI) UploadDocuments(_ context.Context, _ string, files map[string][]byte) ([]ragflow.Document, error) {
	var out []ragflow.Document
	for name, content := range files {
		f.nextID++
		doc := ragflow.Document{
			ID:   fmt.Sprintf("doc%d", f.nextID),
			Name: name,
			Size: int64(len(content)),
			Run:  ragflow.RunUnstarted,
		}
		f.docs[doc.ID] = doc
		out = append(out, doc)
	}
	return out, nil
}

func (f *fakeAPI) DeleteDocuments(_ context.Context, _ string, ids ...string) error {
	for _, id := range ids {
		delete(f.docs, id)
	}
	return nil
}

func (f *fakeAPI) ParseDocuments(_ context.Context, _ string, documentIDs ...string) error {
	f.parsedIDs = append(f.parsedIDs, documentIDs...)
	// Parsing completes instantly in the fake.
	for _, id := range documentIDs {
		doc := f.docs[id]
		doc.Run = ragflow.RunDone
		doc.ChunkCount = 5
		f.docs[id] = doc
	}
	return nil
}

func newTestInitializer(t *testing.T, api API) (*Initializer, string) {
	t.Helper()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	i := New(api, dir,
		WithLogger(logger),
		WithPollInterval(time.Millisecond),
		WithProcessTimeout(100*time.Millisecond),
	)

	return i, dir
}

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestInitializeCreatesAndUploads(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	init, dir := newTestInitializer(t, api)
	writeDoc(t, dir, "a.pdf", "%PDF-1.4 aaa")
	writeDoc(t, dir, "notes.txt", "plain text")
	writeDoc(t, dir, "ignore.docx", "not ingestable")

	metrics, err := init.Initialize(context.Background(), false)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if api.created != 1 {
		t.Errorf("datasets created = %d, want 1", api.created)
	}
	if metrics.Documents != 2 {
		t.Errorf("documents = %d, want 2 (docx skipped)", metrics.Documents)
	}
	if metrics.Succeeded != 2 || metrics.Failed != 0 {
		t.Errorf("succeeded=%d failed=%d, want 2/0", metrics.Succeeded, metrics.Failed)
	}
	if len(api.parsedIDs) != 2 {
		t.Errorf("parsed %d documents, want 2", len(api.parsedIDs))
	}
}

func TestInitializeExistingWithoutForce(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.dataset = &ragflow.Dataset{ID: "ds-old", Name: DatasetName}

	init, dir := newTestInitializer(t, api)
	writeDoc(t, dir, "a.pdf", "%PDF-1.4")

	if _, err := init.Initialize(context.Background(), false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if api.created != 0 || api.deleted != 0 {
		t.Errorf("existing dataset should be left alone (created=%d deleted=%d)", api.created, api.deleted)
	}
}

func TestInitializeForceRecreates(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.dataset = &ragflow.Dataset{ID: "ds-old", Name: DatasetName}

	init, dir := newTestInitializer(t, api)
	writeDoc(t, dir, "a.pdf", "%PDF-1.4")

	if _, err := init.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if api.deleted != 1 || api.created != 1 {
		t.Errorf("force should delete then recreate (deleted=%d created=%d)", api.deleted, api.created)
	}
}

func TestSyncNoChanges(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	init, dir := newTestInitializer(t, api)
	writeDoc(t, dir, "a.pdf", "%PDF-1.4 aaa")

	if _, err := init.Initialize(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	parsedBefore := len(api.parsedIDs)

	stats, err := init.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Changed() {
		t.Errorf("no-op sync reported changes: %+v", stats)
	}
	if stats.Unchanged != 1 {
		t.Errorf("unchanged = %d, want 1", stats.Unchanged)
	}
	if len(api.parsedIDs) != parsedBefore {
		t.Error("no-op sync must not re-parse")
	}
}

func TestSyncUploadsNewAndDeletesMissing(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	init, dir := newTestInitializer(t, api)
	writeDoc(t, dir, "old.pdf", "%PDF-1.4 old")

	if _, err := init.Initialize(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	// old.pdf removed locally, new.pdf added.
	if err := os.Remove(filepath.Join(dir, "old.pdf")); err != nil {
		t.Fatal(err)
	}
	writeDoc(t, dir, "new.pdf", "%PDF-1.4 new")

	stats, err := init.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.New != 1 || stats.Deleted != 1 {
		t.Errorf("stats = %+v, want 1 new / 1 deleted", stats)
	}

	docs, _ := api.ListDocuments(context.Background(), "ds1")
	if len(docs) != 1 || docs[0].Name != "new.pdf" {
		t.Errorf("dataset should hold exactly new.pdf, got %+v", docs)
	}
}

func TestSyncReplacesChangedSize(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	init, dir := newTestInitializer(t, api)
	writeDoc(t, dir, "a.pdf", "%PDF-1.4 v1")

	if _, err := init.Initialize(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	writeDoc(t, dir, "a.pdf", "%PDF-1.4 version two, longer")

	stats, err := init.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Updated != 1 {
		t.Errorf("updated = %d, want 1", stats.Updated)
	}
}

func TestSyncRetriesFailedDocuments(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	init, dir := newTestInitializer(t, api)
	writeDoc(t, dir, "a.pdf", "%PDF-1.4 aaa")

	if _, err := init.Initialize(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	// Mark the remote document as failed without changing the local file.
	for id, doc := range api.docs {
		doc.Run = ragflow.RunFailed
		doc.ChunkCount = 0
		api.docs[id] = doc
	}

	stats, err := init.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Updated != 1 {
		t.Errorf("updated = %d, want 1 (failed doc retried)", stats.Updated)
	}
}

func TestSyncRetriesZeroChunkDocuments(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	init, dir := newTestInitializer(t, api)
	writeDoc(t, dir, "a.pdf", "%PDF-1.4 aaa")

	if _, err := init.Initialize(context.Background(), false); err != nil {
		t.Fatal(err)
	}

	for id, doc := range api.docs {
		doc.Run = ragflow.RunDone
		doc.ChunkCount = 0
		api.docs[id] = doc
	}

	stats, err := init.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Updated != 1 {
		t.Errorf("updated = %d, want 1 (zero-chunk doc retried)", stats.Updated)
	}
}

func TestSyncInitializesMissingDataset(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	init, dir := newTestInitializer(t, api)
	writeDoc(t, dir, "a.pdf", "%PDF-1.4")
	writeDoc(t, dir, "b.pdf", "%PDF-1.4")

	stats, err := init.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.New != 2 {
		t.Errorf("new = %d, want 2", stats.New)
	}
	if api.created != 1 {
		t.Errorf("dataset should have been created")
	}
}
