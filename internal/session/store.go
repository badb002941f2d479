package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists chat sessions, their messages and the user profile in
// SQLite. It is opened fresh for every CLI invocation.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (creating if needed) the chat database at dbPath.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	createChatsTable := `
	CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		system_prompt TEXT,
		tags TEXT
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		role TEXT,
		content TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(chat_id) REFERENCES chats(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);`

	createProfileTable := `
	CREATE TABLE IF NOT EXISTS user_profile (
		key TEXT PRIMARY KEY,
		value TEXT
	);`

	for _, stmt := range []string{createChatsTable, createMessagesTable, createProfileTable} {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateSession starts a new chat and returns its id.
func (s *Store) CreateSession(ctx context.Context, title string) (int64, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chats (title, created_at, updated_at) VALUES (?, ?, ?)",
		title, now, now,
	)
	if err != nil {
		return 0, storeErr("create session", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storeErr("create session", err)
	}

	s.logger.Info("created session", "session_id", id, "title", title)
	return id, nil
}

// GetSession loads one session. A missing id yields ErrSessionNotFound.
func (s *Store) GetSession(ctx context.Context, id int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, created_at, updated_at, system_prompt, tags FROM chats WHERE id = ?",
		id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, storeErr("get session", err)
	}
	return sess, nil
}

// ListSessions returns every session, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, created_at, updated_at, system_prompt, tags FROM chats ORDER BY id",
	)
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("list sessions", err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list sessions", err)
	}
	return sessions, nil
}

// RenameSession changes a session title.
func (s *Store) RenameSession(ctx context.Context, id int64, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	return s.updateSession(ctx, "rename session", id, "title = ?", title)
}

// SetTags replaces the tags of a session.
func (s *Store) SetTags(ctx context.Context, id int64, tags []string) error {
	return s.updateSession(ctx, "set tags", id, "tags = ?", joinTags(tags))
}

// SetSystemPrompt sets the instruction sent ahead of the history to
// remote providers. An empty prompt restores the default.
func (s *Store) SetSystemPrompt(ctx context.Context, id int64, prompt string) error {
	var value any
	if prompt = strings.TrimSpace(prompt); prompt != "" {
		value = prompt
	}
	return s.updateSession(ctx, "set system prompt", id, "system_prompt = ?", value)
}

func (s *Store) updateSession(ctx context.Context, op string, id int64, set string, value any) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chats SET "+set+", updated_at = ? WHERE id = ?",
		value, time.Now().UTC(), id,
	)
	if err != nil {
		return storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	return nil
}

// AppendMessage adds a message to the end of a session.
func (s *Store) AppendMessage(ctx context.Context, sessionID int64, role, content string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("append message", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM chats WHERE id = ?", sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", sessionID, ErrSessionNotFound)
	}
	if err != nil {
		return nil, storeErr("append message", err)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO messages (chat_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		sessionID, role, content, now,
	)
	if err != nil {
		return nil, storeErr("append message", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, storeErr("append message", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", now, sessionID); err != nil {
		return nil, storeErr("append message", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("append message", err)
	}

	s.logger.Debug("appended message", "session_id", sessionID, "message_id", id, "role", role, "length", len(content))
	return &Message{ID: id, SessionID: sessionID, Role: role, Content: content, CreatedAt: now}, nil
}

// GetMessages returns a session's messages in the order they were appended.
func (s *Store) GetMessages(ctx context.Context, sessionID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_id, role, content, created_at FROM messages WHERE chat_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, storeErr("get messages", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var role, content sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &content, &msg.CreatedAt); err != nil {
			return nil, storeErr("get messages", err)
		}
		msg.Role, msg.Content = role.String, content.String
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("get messages", err)
	}
	return messages, nil
}

// ClearMessages deletes every message of a session but keeps the session.
func (s *Store) ClearMessages(ctx context.Context, sessionID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", sessionID)
	if err != nil {
		return 0, storeErr("clear messages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("clear messages", err)
	}
	s.logger.Info("cleared messages", "session_id", sessionID, "count", n)
	return n, nil
}

// DeleteSession removes a session together with all of its messages.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete session", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", id); err != nil {
		return storeErr("delete session", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return storeErr("delete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("delete session", err)
	}
	if n == 0 {
		return fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	if err := tx.Commit(); err != nil {
		return storeErr("delete session", err)
	}

	s.logger.Info("deleted session", "session_id", id)
	return nil
}

// DeleteAllSessions removes every session and message.
func (s *Store) DeleteAllSessions(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("delete all sessions", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{"DELETE FROM messages", "DELETE FROM chats"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storeErr("delete all sessions", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("delete all sessions", err)
	}

	s.logger.Info("deleted all sessions")
	return nil
}

// SearchMessages finds messages whose content contains substring,
// case-insensitively for ASCII. LIKE wildcards in substring match literally.
func (s *Store) SearchMessages(ctx context.Context, substring string) ([]SearchHit, error) {
	pattern := "%" + escapeLike(substring) + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, created_at, role, content FROM messages
		 WHERE content LIKE ? ESCAPE '\'
		 ORDER BY chat_id, id`,
		pattern,
	)
	if err != nil {
		return nil, storeErr("search messages", err)
	}
	defer rows.Close()

	hits := []SearchHit{}
	for rows.Next() {
		var hit SearchHit
		var role, content sql.NullString
		if err := rows.Scan(&hit.SessionID, &hit.CreatedAt, &role, &content); err != nil {
			return nil, storeErr("search messages", err)
		}
		hit.Role, hit.Content = role.String, content.String
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search messages", err)
	}
	return hits, nil
}

// UpsertProfile sets a profile key, overwriting any previous value.
func (s *Store) UpsertProfile(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_profile (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return storeErr("upsert profile", err)
	}
	return nil
}

// GetProfile returns the value for key, with ok=false when unset.
func (s *Store) GetProfile(ctx context.Context, key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM user_profile WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storeErr("get profile", err)
	}
	return value.String, true, nil
}

// ListProfile returns every profile entry ordered by key.
func (s *Store) ListProfile(ctx context.Context) ([]ProfileEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM user_profile ORDER BY key")
	if err != nil {
		return nil, storeErr("list profile", err)
	}
	defer rows.Close()

	entries := []ProfileEntry{}
	for rows.Next() {
		var entry ProfileEntry
		var value sql.NullString
		if err := rows.Scan(&entry.Key, &value); err != nil {
			return nil, storeErr("list profile", err)
		}
		entry.Value = value.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list profile", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var title, systemPrompt, tags sql.NullString
	if err := row.Scan(&sess.ID, &title, &sess.CreatedAt, &sess.UpdatedAt, &systemPrompt, &tags); err != nil {
		return nil, err
	}
	sess.Title = title.String
	sess.SystemPrompt = systemPrompt.String
	sess.Tags = splitTags(tags.String)
	return &sess, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
