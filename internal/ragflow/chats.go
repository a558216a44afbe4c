package ragflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
)

// Chat is a RAGFlow chat assistant bound to one or more datasets.
type Chat struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	DatasetIDs []string `json:"dataset_ids,omitempty"`
}

// Session is one conversation thread under a chat assistant.
type Session struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	ChatID string `json:"chat_id,omitempty"`
}

// Reference is one retrieved chunk cited by an answer.
type Reference struct {
	DocumentID   string  `json:"document_id,omitempty"`
	DocumentName string  `json:"document_name,omitempty"`
	Content      string  `json:"content,omitempty"`
	Similarity   float64 `json:"similarity,omitempty"`
}

// Answer is a completed (non-streaming) assistant reply.
type Answer struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id,omitempty"`
	Reference struct {
		Chunks []Reference `json:"chunks,omitempty"`
	} `json:"reference"`
}

// ListChats returns all chat assistants, optionally filtered by name.
func (c *Client) ListChats(ctx context.Context, name string) ([]Chat, error) {
	path := "/chats"
	if name != "" {
		path += "?name=" + url.QueryEscape(name)
	}

	var chats []Chat
	if err := c.do(ctx, http.MethodGet, path, nil, &chats); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	return chats, nil
}

// FindChat returns the chat assistant with the given name.
func (c *Client) FindChat(ctx context.Context, name string) (*Chat, error) {
	chats, err := c.ListChats(ctx, name)
	if err != nil {
		return nil, err
	}

	for _, chat := range chats {
		if chat.Name == name {
			found := chat

			return &found, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", apperrors.ErrAssistantNotFound, name)
}

// CreateChat creates a chat assistant over the given datasets.
func (c *Client) CreateChat(ctx context.Context, name string, datasetIDs []string) (*Chat, error) {
	body := map[string]any{"name": name, "dataset_ids": datasetIDs}

	var chat Chat
	if err := c.do(ctx, http.MethodPost, "/chats", body, &chat); err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	return &chat, nil
}

// UpdateChat updates the datasets a chat assistant answers from.
func (c *Client) UpdateChat(ctx context.Context, chatID string, datasetIDs []string) error {
	body := map[string]any{"dataset_ids": datasetIDs}
	if err := c.do(ctx, http.MethodPut, "/chats/"+chatID, body, nil); err != nil {
		return fmt.Errorf("update chat: %w", err)
	}

	return nil
}

// CreateSession opens a new conversation under a chat assistant.
func (c *Client) CreateSession(ctx context.Context, chatID, name string) (*Session, error) {
	body := map[string]string{"name": name}

	var session Session
	path := fmt.Sprintf("/chats/%s/sessions", chatID)
	if err := c.do(ctx, http.MethodPost, path, body, &session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &session, nil
}

// ListSessions lists the conversations under a chat assistant.
func (c *Client) ListSessions(ctx context.Context, chatID string) ([]Session, error) {
	var sessions []Session
	path := fmt.Sprintf("/chats/%s/sessions", chatID)
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	return sessions, nil
}

// DeleteSessions deletes conversations under a chat assistant.
func (c *Client) DeleteSessions(ctx context.Context, chatID string, ids ...string) error {
	path := fmt.Sprintf("/chats/%s/sessions", chatID)
	body := map[string][]string{"ids": ids}
	if err := c.do(ctx, http.MethodDelete, path, body, nil); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}

	return nil
}

// Converse sends a question and waits for the complete answer.
func (c *Client) Converse(ctx context.Context, chatID, sessionID, question string) (*Answer, error) {
	body := map[string]any{
		"question": question,
		"stream":   false,
	}
	if sessionID != "" {
		body["session_id"] = sessionID
	}

	var answer Answer
	path := fmt.Sprintf("/chats/%s/completions", chatID)
	if err := c.do(ctx, http.MethodPost, path, body, &answer); err != nil {
		return nil, fmt.Errorf("converse: %w", err)
	}

	return &answer, nil
}
