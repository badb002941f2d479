package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// DefaultTitle is used when a chat is started without a title.
const DefaultTitle = "New chat"

// ErrSessionNotFound is returned when a session id names no row.
var ErrSessionNotFound = errors.New("session not found")

// Message represents a single chat message
type Message struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	Role      string    `json:"role"` // user, assistant, or any passthrough label
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session represents a chat session
type Session struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
}

// SearchHit is one message matched by SearchMessages.
type SearchHit struct {
	SessionID int64     `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}

// ProfileEntry is one key/value pair of the user profile.
type ProfileEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StoreError wraps a storage failure with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func joinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			clean = append(clean, tag)
		}
	}
	return strings.Join(clean, ",")
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
