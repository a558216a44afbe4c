package ragflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewClient("test-key", WithBaseURL(srv.URL), WithLogger(logger))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	return c, srv
}

func writeEnvelope(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": data})
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(""); !errors.Is(err, apperrors.ErrAPIKeyRequired) {
		t.Fatalf("expected ErrAPIKeyRequired, got %v", err)
	}
}

func TestListDatasets(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/datasets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		writeEnvelope(w, []Dataset{{ID: "ds1", Name: "rcsb_pdb_knowledge_base", DocumentCount: 3}})
	}))

	datasets, err := c.ListDatasets(context.Background())
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	if len(datasets) != 1 || datasets[0].Name != "rcsb_pdb_knowledge_base" {
		t.Errorf("unexpected datasets: %+v", datasets)
	}
}

func TestFindDatasetNotFound(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, []Dataset{})
	}))

	_, err := c.FindDataset(context.Background(), "missing")
	if !errors.Is(err, apperrors.ErrDatasetNotFound) {
		t.Fatalf("expected ErrDatasetNotFound, got %v", err)
	}
}

func TestCreateDataset(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}

		var req CreateDatasetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ChunkMethod != "paper" {
			t.Errorf("chunk_method = %q, want paper", req.ChunkMethod)
		}
		if req.ParserConfig == nil || req.ParserConfig.ChunkTokenNum != 512 {
			t.Errorf("parser config = %+v", req.ParserConfig)
		}

		writeEnvelope(w, Dataset{ID: "ds-new", Name: req.Name})
	}))

	ds, err := c.CreateDataset(context.Background(), CreateDatasetRequest{
		Name:           "rcsb_pdb_knowledge_base",
		EmbeddingModel: "text-embedding-3-large@OpenAI",
		ChunkMethod:    "paper",
		ParserConfig: &ParserConfig{
			ChunkTokenNum: 512,
			Raptor:        &RaptorConfig{UseRaptor: true},
		},
	})
	if err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	if ds.ID != "ds-new" {
		t.Errorf("dataset id = %q", ds.ID)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 102, "message": "dataset name exists"})
	}))

	_, err := c.CreateDataset(context.Background(), CreateDatasetRequest{Name: "dup"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != 102 || !strings.Contains(apiErr.Message, "exists") {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestRateLimitRetry(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeEnvelope(w, []Dataset{})
	}))

	if _, err := c.ListDatasets(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestHTTPErrorSurfaced(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))

	_, err := c.ListDatasets(context.Background())

	var httpErr *apperrors.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 HTTPError, got %v", err)
	}
}

func TestListDocumentsPagination(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			writeEnvelope(w, documentPage{Docs: []Document{{ID: "d1"}, {ID: "d2"}}, Total: 3})
		case "2":
			writeEnvelope(w, documentPage{Docs: []Document{{ID: "d3"}}, Total: 3})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))

	docs, err := c.ListDocuments(context.Background(), "ds1")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 3 {
		t.Errorf("got %d documents, want 3", len(docs))
	}
}

func TestUploadDocuments(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		files := r.MultipartForm.File["file"]
		if len(files) != 2 {
			t.Errorf("got %d files, want 2", len(files))
		}
		writeEnvelope(w, []Document{{ID: "d1", Name: "a.pdf"}, {ID: "d2", Name: "b.pdf"}})
	}))

	docs, err := c.UploadDocuments(context.Background(), "ds1", map[string][]byte{
		"a.pdf": []byte("%PDF-1.4 a"),
		"b.pdf": []byte("%PDF-1.4 b"),
	})
	if err != nil {
		t.Fatalf("UploadDocuments: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("got %d docs, want 2", len(docs))
	}
}

func TestConverse(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chats/chat1/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != false {
			t.Error("completions must be non-streaming")
		}
		if body["session_id"] != "sess1" {
			t.Errorf("session_id = %v", body["session_id"])
		}

		writeEnvelope(w, Answer{
			Answer:    "The PDB stores 3D structures.",
			SessionID: "sess1",
		})
	}))

	answer, err := c.Converse(context.Background(), "chat1", "sess1", "What is the PDB?")
	if err != nil {
		t.Fatalf("Converse: %v", err)
	}
	if !strings.Contains(answer.Answer, "3D structures") {
		t.Errorf("unexpected answer: %q", answer.Answer)
	}
}

func TestFindChat(t *testing.T) {
	t.Parallel()

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeEnvelope(w, []Chat{{ID: "chat1", Name: "rcsb_assistant"}})
	}))

	chat, err := c.FindChat(context.Background(), "rcsb_assistant")
	if err != nil {
		t.Fatalf("FindChat: %v", err)
	}
	if chat.ID != "chat1" {
		t.Errorf("chat id = %q", chat.ID)
	}

	if _, err := c.FindChat(context.Background(), "other"); !errors.Is(err, apperrors.ErrAssistantNotFound) {
		t.Errorf("expected ErrAssistantNotFound, got %v", err)
	}
}
