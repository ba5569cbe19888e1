// Package mocklogger provides a slog handler that records what was logged,
// for assertions in tests.
package mocklogger

import (
	"context"
	"log/slog"
	"sync"
)

// MockHandler is a slog.Handler that captures every record it handles.
type MockHandler struct {
	mu             sync.Mutex
	LoggedMessages []string
	LoggedLevels   []slog.Level
}

// Enabled implements slog.Handler.
func (h *MockHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// Handle implements slog.Handler.
func (h *MockHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LoggedMessages = append(h.LoggedMessages, r.Message)
	h.LoggedLevels = append(h.LoggedLevels, r.Level)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *MockHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler.
func (h *MockHandler) WithGroup(_ string) slog.Handler {
	return h
}

// Messages returns a copy of the captured messages.
func (h *MockHandler) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.LoggedMessages...)
}

// MessagesAt returns the captured messages logged at the given level.
func (h *MockHandler) MessagesAt(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for i, msg := range h.LoggedMessages {
		if h.LoggedLevels[i] == level {
			out = append(out, msg)
		}
	}
	return out
}

// NewMockLogger creates a logger backed by a fresh MockHandler and returns
// both.
func NewMockLogger() (*slog.Logger, *MockHandler) {
	handler := &MockHandler{}
	return slog.New(handler), handler
}
