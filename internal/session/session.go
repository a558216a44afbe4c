// Package session stores per-user chat sessions, messages and feedback as
// JSON files, with RAGFlow sessions backing each chat.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcsb/rcsb-pdb-chatbot/internal/apperrors"
	"github.com/rcsb/rcsb-pdb-chatbot/internal/ragflow"
)

const (
	dataFileMode = 0o600
	dataDirMode  = 0o750
)

// Feedback ratings.
const (
	RatingThumbsUp   = "thumbs-up"
	RatingThumbsDown = "thumbs-down"
)

// Feedback is a user's verdict on one assistant message.
type Feedback struct {
	Rating     string    `json:"rating"`
	Categories []string  `json:"categories,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	Timestamp  time.Time `json:"feedback_timestamp"`
}

// Message is one stored chat message.
type Message struct {
	Role       string              `json:"role"` // "user" or "assistant"
	Content    string              `json:"content"`
	Timestamp  time.Time           `json:"timestamp"`
	MessageID  string              `json:"message_id"`
	References []ragflow.Reference `json:"references,omitempty"`
	Feedback   *Feedback           `json:"feedback,omitempty"`
}

// Chat is one conversation belonging to a user.
type Chat struct {
	ChatID           string     `json:"chat_id"`
	Title            string     `json:"title"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	MessageCount     int        `json:"message_count"`
	RAGFlowSessionID string     `json:"ragflow_session_id"`
	Messages         []*Message `json:"messages"`
}

// UserSession is a user's container of chats.
type UserSession struct {
	UserID      string    `json:"user_id"`
	SessionName string    `json:"session_name"`
	CreatedAt   time.Time `json:"created_at"`
	Chats       []*Chat   `json:"chats"`
	TotalChats  int       `json:"total_chats"`
}

// Assistant is the slice of the RAGFlow client the manager needs.
type Assistant interface {
	CreateSession(ctx context.Context, chatID, name string) (*ragflow.Session, error)
	DeleteSessions(ctx context.Context, chatID string, ids ...string) error
	Converse(ctx context.Context, chatID, sessionID, question string) (*ragflow.Answer, error)
}

// userFilePattern extracts the user ID from session filenames.
var userFilePattern = regexp.MustCompile(`^user_(.+)_sessions\.json$`)

// Manager persists user sessions and relays messages to an assistant.
type Manager struct {
	assistant   Assistant
	assistantID string
	dataDir     string
	logger      *slog.Logger

	mu    sync.Mutex
	cache map[string]*UserSession
}

// Option configures the manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a session manager storing user data under dataDir.
// assistantID names the RAGFlow chat assistant new sessions belong to.
func NewManager(assistant Assistant, assistantID, dataDir string, opts ...Option) *Manager {
	m := &Manager{
		assistant:   assistant,
		assistantID: assistantID,
		dataDir:     dataDir,
		logger:      slog.Default(),
		cache:       make(map[string]*UserSession),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// userFile returns the path of a user's session file.
func (m *Manager) userFile(userID string) string {
	return filepath.Join(m.dataDir, fmt.Sprintf("user_%s_sessions.json", userID))
}

// GetSession returns the user's session, loading or creating it as needed.
func (m *Manager) GetSession(userID string) *UserSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.loadLocked(userID)
}

// loadLocked loads a user session into the cache. Missing or corrupt files
// yield a fresh session. Caller holds the mutex.
func (m *Manager) loadLocked(userID string) *UserSession {
	if s, ok := m.cache[userID]; ok {
		return s
	}

	session := &UserSession{
		UserID:      userID,
		SessionName: fmt.Sprintf("%s's session", userID),
		CreatedAt:   time.Now(),
	}

	data, err := os.ReadFile(m.userFile(userID))
	if err == nil {
		if unmarshalErr := json.Unmarshal(data, session); unmarshalErr != nil {
			m.logger.Warn("corrupt user session file, starting fresh",
				"user_id", userID, "error", unmarshalErr)
			session = &UserSession{
				UserID:      userID,
				SessionName: fmt.Sprintf("%s's session", userID),
				CreatedAt:   time.Now(),
			}
		}
	}

	m.cache[userID] = session

	return session
}

// saveLocked writes a user session to disk. Caller holds the mutex.
func (m *Manager) saveLocked(session *UserSession) error {
	if err := os.MkdirAll(m.dataDir, dataDirMode); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	session.TotalChats = len(session.Chats)

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := os.WriteFile(m.userFile(session.UserID), data, dataFileMode); err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	return nil
}

// CreateChat opens a new chat for the user, backed by a fresh RAGFlow session.
func (m *Manager) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	rfSession, err := m.assistant.CreateSession(ctx, m.assistantID, fmt.Sprintf("%s: %s", userID, title))
	if err != nil {
		return nil, fmt.Errorf("create backing session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.loadLocked(userID)

	now := time.Now()
	chat := &Chat{
		ChatID:           uuid.NewString(),
		Title:            title,
		CreatedAt:        now,
		UpdatedAt:        now,
		RAGFlowSessionID: rfSession.ID,
	}
	session.Chats = append(session.Chats, chat)

	if err := m.saveLocked(session); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "created chat", "user_id", userID, "chat_id", chat.ChatID, "title", title)

	return chat, nil
}

// ListChats returns the user's chats, newest first.
func (m *Manager) ListChats(userID string) []*Chat {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.loadLocked(userID)

	chats := make([]*Chat, len(session.Chats))
	copy(chats, session.Chats)
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})

	return chats
}

// GetChat returns one chat by ID.
func (m *Manager) GetChat(userID, chatID string) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.findChatLocked(userID, chatID)
}

func (m *Manager) findChatLocked(userID, chatID string) (*Chat, error) {
	session := m.loadLocked(userID)
	for _, chat := range session.Chats {
		if chat.ChatID == chatID {
			return chat, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", apperrors.ErrChatNotFound, chatID)
}

// DeleteChat removes a chat and its backing RAGFlow session.
func (m *Manager) DeleteChat(ctx context.Context, userID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.loadLocked(userID)

	idx := -1
	var backing string
	for i, chat := range session.Chats {
		if chat.ChatID == chatID {
			idx = i
			backing = chat.RAGFlowSessionID
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s", apperrors.ErrChatNotFound, chatID)
	}

	session.Chats = append(session.Chats[:idx], session.Chats[idx+1:]...)

	if err := m.saveLocked(session); err != nil {
		return err
	}

	// Best effort: a dangling remote session is harmless.
	if backing != "" && m.assistant != nil {
		if err := m.assistant.DeleteSessions(ctx, m.assistantID, backing); err != nil {
			m.logger.WarnContext(ctx, "failed to delete backing session",
				"session_id", backing, "error", err)
		}
	}

	return nil
}

// ClearMessages removes all messages from a chat, keeping the chat itself.
func (m *Manager) ClearMessages(userID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, err := m.findChatLocked(userID, chatID)
	if err != nil {
		return err
	}

	chat.Messages = nil
	chat.MessageCount = 0
	chat.UpdatedAt = time.Now()

	return m.saveLocked(m.loadLocked(userID))
}

// SendMessage relays a question to the assistant and stores the exchange.
// The returned message is the assistant's reply.
func (m *Manager) SendMessage(ctx context.Context, userID, chatID, content string) (*Message, error) {
	m.mu.Lock()
	chat, err := m.findChatLocked(userID, chatID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	answer, err := m.assistant.Converse(ctx, m.assistantID, chat.RAGFlowSessionID, content)
	if err != nil {
		return nil, fmt.Errorf("converse: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	userMsg := &Message{
		Role:      "user",
		Content:   content,
		Timestamp: now,
		MessageID: uuid.NewString(),
	}
	assistantMsg := &Message{
		Role:       "assistant",
		Content:    answer.Answer,
		Timestamp:  now,
		MessageID:  uuid.NewString(),
		References: answer.Reference.Chunks,
	}

	chat.Messages = append(chat.Messages, userMsg, assistantMsg)
	chat.MessageCount = len(chat.Messages)
	chat.UpdatedAt = now

	if err := m.saveLocked(m.loadLocked(userID)); err != nil {
		return nil, err
	}

	return assistantMsg, nil
}

// AddFeedback attaches feedback to a message by UUID. Calling it again for
// the same message replaces the previous feedback.
func (m *Manager) AddFeedback(userID, chatID, messageID string, fb Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, err := m.findChatLocked(userID, chatID)
	if err != nil {
		return err
	}

	for _, msg := range chat.Messages {
		if msg.MessageID == messageID {
			if fb.Timestamp.IsZero() {
				fb.Timestamp = time.Now()
			}
			msg.Feedback = &fb

			return m.saveLocked(m.loadLocked(userID))
		}
	}

	return fmt.Errorf("%w: %s", apperrors.ErrMessageNotFound, messageID)
}

// GetFeedback returns a message's feedback, nil when none was given.
func (m *Manager) GetFeedback(userID, chatID, messageID string) (*Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, err := m.findChatLocked(userID, chatID)
	if err != nil {
		return nil, err
	}

	for _, msg := range chat.Messages {
		if msg.MessageID == messageID {
			return msg.Feedback, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", apperrors.ErrMessageNotFound, messageID)
}

// FeedbackSummary aggregates the feedback given in one chat.
type FeedbackSummary struct {
	TotalMessages        int             `json:"total_messages"`
	MessagesWithFeedback int             `json:"messages_with_feedback"`
	FeedbackRate         float64         `json:"feedback_rate"`
	Positive             int             `json:"positive_feedback"`
	Negative             int             `json:"negative_feedback"`
	CategoryCounts       map[string]int  `json:"category_counts"`
	MostCommonCategories []CategoryCount `json:"most_common_categories"`
}

// CategoryCount is one feedback category with its tally.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Summarize computes the feedback summary for a chat.
func (m *Manager) Summarize(userID, chatID string) (*FeedbackSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, err := m.findChatLocked(userID, chatID)
	if err != nil {
		return nil, err
	}

	summary := &FeedbackSummary{
		TotalMessages:  len(chat.Messages),
		CategoryCounts: make(map[string]int),
	}

	for _, msg := range chat.Messages {
		if msg.Feedback == nil {
			continue
		}
		summary.MessagesWithFeedback++

		switch msg.Feedback.Rating {
		case RatingThumbsUp:
			summary.Positive++
		case RatingThumbsDown:
			summary.Negative++
		}

		for _, cat := range msg.Feedback.Categories {
			summary.CategoryCounts[cat]++
		}
	}

	if summary.TotalMessages > 0 {
		summary.FeedbackRate = float64(summary.MessagesWithFeedback) / float64(summary.TotalMessages)
	}

	for cat, count := range summary.CategoryCounts {
		summary.MostCommonCategories = append(summary.MostCommonCategories, CategoryCount{Category: cat, Count: count})
	}
	sort.Slice(summary.MostCommonCategories, func(i, j int) bool {
		a, b := summary.MostCommonCategories[i], summary.MostCommonCategories[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Category < b.Category
	})
	if len(summary.MostCommonCategories) > 5 {
		summary.MostCommonCategories = summary.MostCommonCategories[:5]
	}

	return summary, nil
}

// ChatExport is the JSON export of one chat including feedback.
type ChatExport struct {
	UserID          string           `json:"user_id"`
	ChatID          string           `json:"chat_id"`
	Title           string           `json:"title"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	MessageCount    int              `json:"message_count"`
	Messages        []*Message       `json:"messages"`
	FeedbackSummary *FeedbackSummary `json:"feedback_summary"`
}

// Export renders a chat with its feedback as indented JSON.
func (m *Manager) Export(userID, chatID string) ([]byte, error) {
	summary, err := m.Summarize(userID, chatID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	chat, err := m.findChatLocked(userID, chatID)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	export := ChatExport{
		UserID:          userID,
		ChatID:          chat.ChatID,
		Title:           chat.Title,
		CreatedAt:       chat.CreatedAt,
		UpdatedAt:       chat.UpdatedAt,
		MessageCount:    chat.MessageCount,
		Messages:        chat.Messages,
		FeedbackSummary: summary,
	}

	return json.MarshalIndent(export, "", "  ")
}

// ListUsers scans the data directory for known users.
func (m *Manager) ListUsers() []string {
	entries, err := os.ReadDir(m.dataDir)
	if err != nil {
		return nil
	}

	var users []string
	for _, e := range entries {
		if match := userFilePattern.FindStringSubmatch(e.Name()); match != nil {
			users = append(users, match[1])
		}
	}
	sort.Strings(users)

	return users
}

// DeleteUser removes a user's session file and backing RAGFlow sessions.
func (m *Manager) DeleteUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session := m.loadLocked(userID)

	var backing []string
	for _, chat := range session.Chats {
		if chat.RAGFlowSessionID != "" {
			backing = append(backing, chat.RAGFlowSessionID)
		}
	}
	if len(backing) > 0 && m.assistant != nil {
		if err := m.assistant.DeleteSessions(ctx, m.assistantID, backing...); err != nil {
			m.logger.WarnContext(ctx, "failed to delete backing sessions",
				"user_id", userID, "error", err)
		}
	}

	delete(m.cache, userID)

	if err := os.Remove(m.userFile(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session file: %w", err)
	}

	return nil
}
