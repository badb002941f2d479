// Package ui renders yo's terminal output and reads interactive input.
package ui

import (
	"fmt"
	"strings"
	"time"

	"yo/internal/session"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const (
	currentMark  = "✔"
	previewWidth = 60
	timeLayout   = "2006-01-02 15:04"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// ChatsTable lists chats, marking the current one.
func ChatsTable(chats []session.Session, currentID int64, hasCurrent bool) string {
	t := newTable("", "ID", "Title", "Tags", "Created", "Updated")
	for _, c := range chats {
		mark := ""
		if hasCurrent && c.ID == currentID {
			mark = currentMark
		}
		t.Row(
			mark,
			fmt.Sprint(c.ID),
			c.Title,
			strings.Join(c.Tags, ", "),
			formatTime(c.CreatedAt),
			formatTime(c.UpdatedAt),
		)
	}
	return t.Render()
}

// ModelsTable lists models for one backend, marking the active model.
func ModelsTable(backend string, models []string, active string) string {
	t := newTable("Backend", "Model", "Active")
	for _, m := range models {
		mark := ""
		if m == active {
			mark = currentMark
		}
		t.Row(backend, m, mark)
	}
	return t.Render()
}

// SearchTable lists search hits with a one-line preview of each message.
func SearchTable(hits []session.SearchHit) string {
	t := newTable("Chat", "Time", "Role", "Message")
	for _, h := range hits {
		t.Row(fmt.Sprint(h.SessionID), formatTime(h.CreatedAt), h.Role, Preview(h.Content, previewWidth))
	}
	return t.Render()
}

// ProfileTable lists profile entries.
func ProfileTable(entries []session.ProfileEntry) string {
	t := newTable("Key", "Value")
	for _, e := range entries {
		t.Row(e.Key, e.Value)
	}
	return t.Render()
}

// Preview collapses whitespace and shortens s to at most width runes.
func Preview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(timeLayout)
}
