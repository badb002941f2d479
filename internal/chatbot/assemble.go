package chatbot

import (
	"crypto/sha256"
	"fmt"

	"yo/internal/backend"
	"yo/internal/session"
)

// DefaultSystemPrompt is sent ahead of the history to remote providers
// when the session has no prompt of its own.
const DefaultSystemPrompt = "You are a helpful AI assistant."

// AssembleContext turns stored messages into provider turns, oldest first.
// Remote providers get a leading system turn. The whole history is sent;
// nothing is truncated.
func AssembleContext(kind backend.Kind, sess *session.Session, history []session.Message) []backend.Turn {
	turns := make([]backend.Turn, 0, len(history)+1)

	if kind == backend.KindRemoteStreaming {
		prompt := DefaultSystemPrompt
		if sess != nil && sess.SystemPrompt != "" {
			prompt = sess.SystemPrompt
		}
		turns = append(turns, backend.Turn{Role: session.RoleSystem, Content: prompt})
	}

	for _, msg := range history {
		turns = append(turns, backend.Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

// contextDigest fingerprints the assembled turns for tracing.
func contextDigest(turns []backend.Turn) string {
	h := sha256.New()
	for _, turn := range turns {
		h.Write([]byte(turn.Role))
		h.Write([]byte(turn.Content))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
