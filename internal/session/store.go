// Package session maintains per-user rolling chat history used as LLM context.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Role values for chat messages, matching the chat-completions wire format.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single entry in a user's conversation history.
type ChatMessage struct {
	Role    string
	Content string
	At      int64 // epoch seconds
}

// Store holds conversation history per user. A user's history expires as a
// whole once their last message is older than the session window; expiry is
// enforced by a lazily triggered sweep, not per append.
type Store struct {
	mu         sync.Mutex
	window     time.Duration
	initial    []ChatMessage
	chats      map[string][]ChatMessage
	chatTokens map[string]int
	lastSweep  time.Time
	now        func() time.Time
}

// NewStore creates a session store with the given expiry window. The initial
// messages seed every new user session (e.g. a system prompt).
func NewStore(window time.Duration, initial []ChatMessage) *Store {
	return &Store{
		window:     window,
		initial:    initial,
		chats:      make(map[string][]ChatMessage),
		chatTokens: make(map[string]int),
		lastSweep:  time.Now(),
		now:        time.Now,
	}
}

// SetClock overrides the store's time source for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.lastSweep = now()
}

func (s *Store) initLocked(user string) {
	if _, ok := s.chats[user]; !ok {
		s.chats[user] = append([]ChatMessage(nil), s.initial...)
		s.chatTokens[user] = 0
	}
}

// AddUserMessage appends a user message to the user's history.
func (s *Store) AddUserMessage(user, content string) {
	s.add(user, RoleUser, content, 0)
}

// AddAssistantMessage appends an assistant reply and records the total token
// usage reported by the provider for the conversation so far.
func (s *Store) AddAssistantMessage(user, content string, totalTokens int) {
	s.add(user, RoleAssistant, content, totalTokens)
}

func (s *Store) add(user, role, content string, totalTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initLocked(user)
	if totalTokens > 0 {
		s.chatTokens[user] = totalTokens
	}
	msg := ChatMessage{Role: role, Content: content, At: s.now().Unix()}
	s.chats[user] = append(s.chats[user], msg)
	slog.Info("chat appended", "user_id", user, "role", role, "history_len", len(s.chats[user]))
}

// Messages returns the user's conversation history in order, seeded with the
// initial messages when the user has none yet. The returned slice is a copy.
func (s *Store) Messages(user string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, ok := s.chats[user]
	if !ok {
		msgs = s.initial
	}
	return append([]ChatMessage(nil), msgs...)
}

// TokenCount returns the last known total token usage for the user's session.
func (s *Store) TokenCount(user string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chatTokens[user]
}

// ClearSession drops the user's history and token count. Used when the
// provider rejects the conversation for exceeding its context window.
func (s *Store) ClearSession(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chats[user]; !ok {
		return
	}
	slog.Info("session cleared", "user_id", user, "tokens", s.chatTokens[user], "messages", len(s.chats[user]))
	s.chats[user] = nil
	s.chatTokens[user] = 0
}

// SweepExpired clears every session whose last message is older than the
// window. The sweep itself only runs once per window; calls in between are
// no-ops, which amortizes the cost across requests. forceAll clears every
// session regardless of recency.
func (s *Store) SweepExpired(forceAll bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !forceAll && now.Sub(s.lastSweep) < s.window {
		return
	}
	s.lastSweep = now

	cleared := 0
	for user, msgs := range s.chats {
		if len(msgs) == 0 {
			continue
		}
		expired := now.Sub(time.Unix(msgs[len(msgs)-1].At, 0)) > s.window
		if forceAll || expired {
			slog.Info("session expired", "user_id", user, "tokens", s.chatTokens[user], "messages", len(msgs))
			s.chats[user] = nil
			s.chatTokens[user] = 0
			cleared++
		}
	}
	slog.Info("session sweep finished", "cleared", cleared)
}
