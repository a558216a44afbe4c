package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/ragflow"
)

type fakeAssistant struct {
	sessions    int
	deleted     []string
	converseErr error
}

func (f *fakeAssistant) CreateSession(_ context.Context, _, name string) (*ragflow.Session, error) {
	f.sessions++

	return &ragflow.Session{ID: fmt.Sprintf("rf-session-%d", f.sessions), Name: name}, nil
}

func (f *fakeAssistant) DeleteSessions(_ context.Context, _ string, ids ...string) error {
	f.deleted = append(f.deleted, ids...)

	return nil
}

func (f *fakeAssistant) Converse(_ context.Context, _, sessionID, question string) (*ragflow.Answer, error) {
	if f.converseErr != nil {
		return nil, f.converseErr
	}

	answer := &ragflow.Answer{Answer: "reply to: " + question, SessionID: sessionID}
	answer.Reference.Chunks = []ragflow.Reference{
		{DocumentName: "paper.pdf", Content: "cited text", Similarity: 0.9},
	}

	return answer, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeAssistant) {
	t.Helper()

	assistant := &fakeAssistant{}

	return NewManager(assistant, "assistant-1", t.TempDir()), assistant
}

func TestCreateChatPersists(t *testing.T) {
	t.Parallel()

	m, assistant := newTestManager(t)

	chat, err := m.CreateChat(context.Background(), "alice", "PDB questions")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	if chat.ChatID == "" {
		t.Error("chat ID should not be empty")
	}
	if chat.RAGFlowSessionID != "rf-session-1" {
		t.Errorf("RAGFlowSessionID = %q, want rf-session-1", chat.RAGFlowSessionID)
	}
	if assistant.sessions != 1 {
		t.Errorf("backing sessions created = %d, want 1", assistant.sessions)
	}

	path := filepath.Join(m.dataDir, "user_alice_sessions.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("session file not written: %v", err)
	}

	var stored UserSession
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("session file is not valid JSON: %v", err)
	}
	if stored.TotalChats != 1 {
		t.Errorf("total_chats = %d, want 1", stored.TotalChats)
	}
	if stored.UserID != "alice" {
		t.Errorf("user_id = %q, want alice", stored.UserID)
	}
}

func TestSendMessageStoresExchange(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	ctx := context.Background()

	chat, err := m.CreateChat(ctx, "bob", "first chat")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	reply, err := m.SendMessage(ctx, "bob", chat.ChatID, "what is a ribosome?")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if reply.Role != "assistant" {
		t.Errorf("reply role = %q, want assistant", reply.Role)
	}
	if reply.Content != "reply to: what is a ribosome?" {
		t.Errorf("unexpected reply content %q", reply.Content)
	}
	if reply.MessageID == "" {
		t.Error("assistant message should have an ID")
	}
	if len(reply.References) != 1 || reply.References[0].DocumentName != "paper.pdf" {
		t.Errorf("references = %+v, want one chunk from paper.pdf", reply.References)
	}

	stored, err := m.GetChat("bob", chat.ChatID)
	if err != nil {
		t.Fatalf("GetChat() error = %v", err)
	}
	if stored.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2 (user + assistant)", stored.MessageCount)
	}
	if stored.Messages[0].Role != "user" || stored.Messages[1].Role != "assistant" {
		t.Errorf("roles = %q, %q; want user then assistant",
			stored.Messages[0].Role, stored.Messages[1].Role)
	}
	if stored.Messages[0].MessageID == stored.Messages[1].MessageID {
		t.Error("user and assistant messages must have distinct IDs")
	}
}

func TestSendMessageConverseFailure(t *testing.T) {
	t.Parallel()

	m, assistant := newTestManager(t)
	ctx := context.Background()

	chat, err := m.CreateChat(ctx, "bob", "chat")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	assistant.converseErr = errors.New("backend down")

	if _, err := m.SendMessage(ctx, "bob", chat.ChatID, "hello"); err == nil {
		t.Fatal("expected error when assistant fails")
	}

	stored, err := m.GetChat("bob", chat.ChatID)
	if err != nil {
		t.Fatalf("GetChat() error = %v", err)
	}
	if stored.MessageCount != 0 {
		t.Errorf("failed exchange must not be stored, got %d messages", stored.MessageCount)
	}
}

func TestChatNotFound(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)

	if _, err := m.GetChat("alice", "no-such-chat"); !errors.Is(err, apperrors.ErrChatNotFound) {
		t.Errorf("GetChat() error = %v, want ErrChatNotFound", err)
	}
	if err := m.DeleteChat(context.Background(), "alice", "no-such-chat"); !errors.Is(err, apperrors.ErrChatNotFound) {
		t.Errorf("DeleteChat() error = %v, want ErrChatNotFound", err)
	}
}

func TestDeleteChatRemovesBackingSession(t *testing.T) {
	t.Parallel()

	m, assistant := newTestManager(t)
	ctx := context.Background()

	chat, err := m.CreateChat(ctx, "alice", "short lived")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	if err := m.DeleteChat(ctx, "alice", chat.ChatID); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}

	if len(m.ListChats("alice")) != 0 {
		t.Error("chat should be gone after delete")
	}
	if len(assistant.deleted) != 1 || assistant.deleted[0] != chat.RAGFlowSessionID {
		t.Errorf("deleted backing sessions = %v, want [%s]", assistant.deleted, chat.RAGFlowSessionID)
	}
}

func TestFeedbackLifecycle(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	ctx := context.Background()

	chat, err := m.CreateChat(ctx, "carol", "feedback chat")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	reply, err := m.SendMessage(ctx, "carol", chat.ChatID, "q1")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if _, err := m.GetFeedback("carol", chat.ChatID, reply.MessageID); err != nil {
		t.Fatalf("GetFeedback() before rating error = %v", err)
	}

	fb := Feedback{
		Rating:     RatingThumbsDown,
		Categories: []string{"inaccurate", "incomplete"},
		Comment:    "missing the resolution",
	}
	if err := m.AddFeedback("carol", chat.ChatID, reply.MessageID, fb); err != nil {
		t.Fatalf("AddFeedback() error = %v", err)
	}

	got, err := m.GetFeedback("carol", chat.ChatID, reply.MessageID)
	if err != nil {
		t.Fatalf("GetFeedback() error = %v", err)
	}
	if got == nil {
		t.Fatal("feedback should be set")
	}
	if got.Rating != RatingThumbsDown {
		t.Errorf("rating = %q, want %q", got.Rating, RatingThumbsDown)
	}
	if got.Timestamp.IsZero() {
		t.Error("feedback timestamp should be filled in automatically")
	}

	// Updating replaces the previous feedback.
	if err := m.AddFeedback("carol", chat.ChatID, reply.MessageID, Feedback{Rating: RatingThumbsUp}); err != nil {
		t.Fatalf("AddFeedback() update error = %v", err)
	}
	got, err = m.GetFeedback("carol", chat.ChatID, reply.MessageID)
	if err != nil {
		t.Fatalf("GetFeedback() after update error = %v", err)
	}
	if got.Rating != RatingThumbsUp {
		t.Errorf("updated rating = %q, want %q", got.Rating, RatingThumbsUp)
	}

	if err := m.AddFeedback("carol", chat.ChatID, "bogus-id", fb); !errors.Is(err, apperrors.ErrMessageNotFound) {
		t.Errorf("AddFeedback() with unknown message = %v, want ErrMessageNotFound", err)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	ctx := context.Background()

	chat, err := m.CreateChat(ctx, "dave", "summary chat")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	r1, _ := m.SendMessage(ctx, "dave", chat.ChatID, "q1")
	r2, _ := m.SendMessage(ctx, "dave", chat.ChatID, "q2")
	if _, err := m.SendMessage(ctx, "dave", chat.ChatID, "q3"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	mustAdd := func(id string, fb Feedback) {
		t.Helper()
		if err := m.AddFeedback("dave", chat.ChatID, id, fb); err != nil {
			t.Fatalf("AddFeedback() error = %v", err)
		}
	}
	mustAdd(r1.MessageID, Feedback{Rating: RatingThumbsUp, Categories: []string{"helpful"}})
	mustAdd(r2.MessageID, Feedback{Rating: RatingThumbsDown, Categories: []string{"inaccurate", "helpful"}})

	summary, err := m.Summarize("dave", chat.ChatID)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if summary.TotalMessages != 6 {
		t.Errorf("total messages = %d, want 6", summary.TotalMessages)
	}
	if summary.MessagesWithFeedback != 2 {
		t.Errorf("messages with feedback = %d, want 2", summary.MessagesWithFeedback)
	}
	if summary.Positive != 1 || summary.Negative != 1 {
		t.Errorf("positive/negative = %d/%d, want 1/1", summary.Positive, summary.Negative)
	}
	if summary.CategoryCounts["helpful"] != 2 {
		t.Errorf("helpful count = %d, want 2", summary.CategoryCounts["helpful"])
	}
	if len(summary.MostCommonCategories) == 0 || summary.MostCommonCategories[0].Category != "helpful" {
		t.Errorf("most common categories = %+v, want helpful first", summary.MostCommonCategories)
	}
	want := float64(2) / float64(6)
	if summary.FeedbackRate != want {
		t.Errorf("feedback rate = %v, want %v", summary.FeedbackRate, want)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	ctx := context.Background()

	chat, err := m.CreateChat(ctx, "erin", "export chat")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	reply, err := m.SendMessage(ctx, "erin", chat.ChatID, "q1")
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if err := m.AddFeedback("erin", chat.ChatID, reply.MessageID, Feedback{Rating: RatingThumbsUp}); err != nil {
		t.Fatalf("AddFeedback() error = %v", err)
	}

	data, err := m.Export("erin", chat.ChatID)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	var export ChatExport
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if export.ChatID != chat.ChatID {
		t.Errorf("exported chat_id = %q, want %q", export.ChatID, chat.ChatID)
	}
	if export.FeedbackSummary == nil || export.FeedbackSummary.Positive != 1 {
		t.Errorf("feedback summary = %+v, want one positive", export.FeedbackSummary)
	}
	if len(export.Messages) != 2 {
		t.Errorf("exported messages = %d, want 2", len(export.Messages))
	}
}

func TestClearMessages(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	ctx := context.Background()

	chat, err := m.CreateChat(ctx, "frank", "to clear")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, err := m.SendMessage(ctx, "frank", chat.ChatID, "q1"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	if err := m.ClearMessages("frank", chat.ChatID); err != nil {
		t.Fatalf("ClearMessages() error = %v", err)
	}

	stored, err := m.GetChat("frank", chat.ChatID)
	if err != nil {
		t.Fatalf("GetChat() error = %v", err)
	}
	if stored.MessageCount != 0 || len(stored.Messages) != 0 {
		t.Errorf("chat should be empty after clear, got %d messages", stored.MessageCount)
	}
}

func TestListUsers(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateChat(ctx, "alice", "a"); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, err := m.CreateChat(ctx, "bob", "b"); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(m.dataDir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	users := m.ListUsers()
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("ListUsers() = %v, want [alice bob]", users)
	}
}

func TestDeleteUser(t *testing.T) {
	t.Parallel()

	m, assistant := newTestManager(t)
	ctx := context.Background()

	if _, err := m.CreateChat(ctx, "gone", "c1"); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, err := m.CreateChat(ctx, "gone", "c2"); err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}

	if err := m.DeleteUser(ctx, "gone"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}

	if len(assistant.deleted) != 2 {
		t.Errorf("backing sessions deleted = %d, want 2", len(assistant.deleted))
	}
	if _, err := os.Stat(filepath.Join(m.dataDir, "user_gone_sessions.json")); !os.IsNotExist(err) {
		t.Error("session file should be removed")
	}
	if len(m.ListUsers()) != 0 {
		t.Errorf("ListUsers() = %v, want empty", m.ListUsers())
	}
}

func TestCorruptSessionFileStartsFresh(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t)

	path := filepath.Join(m.dataDir, "user_henry_sessions.json")
	if err := os.MkdirAll(m.dataDir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	session := m.GetSession("henry")
	if session.UserID != "henry" {
		t.Errorf("user_id = %q, want henry", session.UserID)
	}
	if len(session.Chats) != 0 {
		t.Errorf("fresh session should have no chats, got %d", len(session.Chats))
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Parallel()

	assistant := &fakeAssistant{}
	dir := t.TempDir()
	ctx := context.Background()

	m1 := NewManager(assistant, "assistant-1", dir)
	chat, err := m1.CreateChat(ctx, "ivy", "persisted")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, err := m1.SendMessage(ctx, "ivy", chat.ChatID, "q1"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	// A fresh manager reloads the same state from disk.
	m2 := NewManager(assistant, "assistant-1", dir)
	stored, err := m2.GetChat("ivy", chat.ChatID)
	if err != nil {
		t.Fatalf("GetChat() from fresh manager error = %v", err)
	}
	if stored.Title != "persisted" || stored.MessageCount != 2 {
		t.Errorf("reloaded chat = %q/%d messages, want persisted/2", stored.Title, stored.MessageCount)
	}
}
