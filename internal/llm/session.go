package llm

import (
	"context"
	"fmt"
	"sync"

	"quill/internal/logging"
)

// DefaultHistoryLimit caps retained messages per session when no limit is
// configured. The system message is held separately and never evicted.
const DefaultHistoryLimit = 40

// Session is the mutable conversational state owned by one thread:
// an ordered message history, a mutable system message, and a history cap.
type Session struct {
	mu            sync.Mutex
	client        Completer
	systemMessage string
	messages      []Message
	historyLimit  int
}

// NewSession creates a session over the given backend client.
func NewSession(client Completer, systemMessage string, historyLimit int) *Session {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Session{
		client:        client,
		systemMessage: systemMessage,
		historyLimit:  historyLimit,
	}
}

// Chat submits a prompt, appends the human message and the assistant
// response to history, and returns the response text. On backend failure
// the history is left untouched.
func (s *Session) Chat(ctx context.Context, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "session.Chat")
	defer timer.Stop()

	// Snapshot under lock, call the backend outside it so a slow round
	// trip does not block history reads from other callers.
	s.mu.Lock()
	client := s.client
	system := s.systemMessage
	outbound := make([]Message, len(s.messages), len(s.messages)+1)
	copy(outbound, s.messages)
	outbound = append(outbound, Message{Role: RoleHuman, Text: prompt})
	s.mu.Unlock()

	response, err := client.CompleteChat(ctx, system, outbound)
	if err != nil {
		return "", fmt.Errorf("chat call failed: %w", err)
	}

	s.mu.Lock()
	s.messages = append(s.messages,
		Message{Role: RoleHuman, Text: prompt},
		Message{Role: RoleAssistant, Text: response},
	)
	s.evictLocked()
	s.mu.Unlock()

	return response, nil
}

// evictLocked drops oldest messages beyond the history limit.
// Caller holds s.mu.
func (s *Session) evictLocked() {
	if len(s.messages) <= s.historyLimit {
		return
	}
	excess := len(s.messages) - s.historyLimit
	s.messages = append([]Message(nil), s.messages[excess:]...)
	logging.SessionDebug("Evicted %d oldest messages (limit %d)", excess, s.historyLimit)
}

// History returns a copy of the message sequence.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// SetHistory replaces the message sequence. The history cap applies.
func (s *Session) SetHistory(messages []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]Message, len(messages))
	copy(s.messages, messages)
	s.evictLocked()
}

// Reset clears the message history. The system message is retained.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// SetSystemMessage replaces the persona/context preamble without touching
// the message history.
func (s *Session) SetSystemMessage(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemMessage = text
}

// SystemMessage returns the current system message.
func (s *Session) SystemMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemMessage
}
