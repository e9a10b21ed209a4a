// Package logger provides the node's structured zap logger and a thread-safe
// in-memory feed of recent activity for the dashboard status stream.
package logger

import (
	"sync"
	"time"
)

// Message represents a single feed entry
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Level     string    `json:"level"` // info, warning, error
}

// Feed keeps the most recent activity messages
type Feed struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
}

// NewFeed creates a feed holding at most maxSize messages
func NewFeed(maxSize int) *Feed {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Feed{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
	}
}

// Log adds a new message to the feed
func (f *Feed) Log(level, text string) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.messages = append(f.messages, Message{
		Timestamp: time.Now(),
		Text:      text,
		Level:     level,
	})

	// Keep only the last maxSize messages
	if len(f.messages) > f.maxSize {
		f.messages = f.messages[len(f.messages)-f.maxSize:]
	}
}

func (f *Feed) Info(text string) {
	f.Log("info", text)
}

func (f *Feed) Warning(text string) {
	f.Log("warning", text)
}

func (f *Feed) Error(text string) {
	f.Log("error", text)
}

// GetRecent returns the most recent n messages (newest first)
func (f *Feed) GetRecent(n int) []Message {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n > len(f.messages) || n < 0 {
		n = len(f.messages)
	}

	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = f.messages[len(f.messages)-1-i]
	}
	return result
}

// Since returns messages newer than t (oldest first)
func (f *Feed) Since(t time.Time) []Message {
	f.mu.RLock()
	defer f.mu.RUnlock()

	i := len(f.messages)
	for i > 0 && f.messages[i-1].Timestamp.After(t) {
		i--
	}
	out := make([]Message, len(f.messages)-i)
	copy(out, f.messages[i:])
	return out
}
