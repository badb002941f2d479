package ui

import (
	"fmt"
	"strings"

	"yo/internal/session"

	"github.com/charmbracelet/glamour"
)

const wordWrap = 80

// Renderer renders markdown for the terminal.
type Renderer struct {
	renderer *glamour.TermRenderer
}

// NewRenderer creates a Renderer. With plain set, output carries no ANSI
// styling, for pipes and tests.
func NewRenderer(plain bool) (*Renderer, error) {
	style := glamour.WithAutoStyle()
	if plain {
		style = glamour.WithStylePath("notty")
	}
	renderer, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(wordWrap),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &Renderer{renderer: renderer}, nil
}

// Render renders markdown, returning the input unchanged if rendering fails.
func (r *Renderer) Render(markdown string) string {
	if r == nil || r.renderer == nil || strings.TrimSpace(markdown) == "" {
		return markdown
	}
	out, err := r.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}

// Transcript formats a chat for view-chat. Assistant messages are rendered
// as markdown; everything else is printed verbatim.
func (r *Renderer) Transcript(sess *session.Session, messages []session.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Chat %d: %s\n", sess.ID, sess.Title)
	if len(messages) == 0 {
		sb.WriteString("\n(no messages)\n")
		return sb.String()
	}

	for _, msg := range messages {
		fmt.Fprintf(&sb, "\n[%s] %s\n", formatTime(msg.CreatedAt), msg.Role)
		if msg.Role == session.RoleAssistant {
			sb.WriteString(strings.TrimRight(r.Render(msg.Content), "\n"))
		} else {
			sb.WriteString(msg.Content)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
