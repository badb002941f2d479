package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"yo/internal/backend"
	"yo/internal/config"
	"yo/internal/session"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNoCurrentSession is returned when no chat is selected.
	ErrNoCurrentSession = errors.New("no active chat. run `yo new-chat` to start one")
	// ErrEmptyQuestion is returned when Ask is called without text.
	ErrEmptyQuestion = errors.New("yo what?")
	// ErrEmptyChat is returned when summarizing a chat with no messages.
	ErrEmptyChat = errors.New("chat has no messages")
)

// DanglingPointerError reports a current-chat pointer naming a chat that
// no longer exists. It matches ErrNoCurrentSession with errors.Is.
type DanglingPointerError struct {
	ID int64
}

func (e *DanglingPointerError) Error() string {
	return fmt.Sprintf("current chat %d no longer exists. run `yo new-chat` or `yo switch-chat <id>`", e.ID)
}

func (e *DanglingPointerError) Is(target error) bool {
	return target == ErrNoCurrentSession
}

// Store is the subset of the session store the driver needs.
type Store interface {
	CreateSession(ctx context.Context, title string) (int64, error)
	GetSession(ctx context.Context, id int64) (*session.Session, error)
	ListSessions(ctx context.Context) ([]session.Session, error)
	GetMessages(ctx context.Context, sessionID int64) ([]session.Message, error)
	AppendMessage(ctx context.Context, sessionID int64, role, content string) (*session.Message, error)
	ClearMessages(ctx context.Context, sessionID int64) (int64, error)
	DeleteSession(ctx context.Context, id int64) error
	DeleteAllSessions(ctx context.Context) error
	SearchMessages(ctx context.Context, substring string) ([]session.SearchHit, error)
	UpsertProfile(ctx context.Context, key, value string) error
	GetProfile(ctx context.Context, key string) (string, bool, error)
	ListProfile(ctx context.Context) ([]session.ProfileEntry, error)
	RenameSession(ctx context.Context, id int64, title string) error
	SetTags(ctx context.Context, id int64, tags []string) error
	SetSystemPrompt(ctx context.Context, id int64, prompt string) error
}

// ChatBot drives conversations: it resolves the current chat, assembles
// context, dispatches to a provider and records the exchange.
type ChatBot struct {
	store   Store
	pointer config.Pointer
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New creates a ChatBot. A nil logger or tracer falls back to the globals.
func New(store Store, pointer config.Pointer, logger *slog.Logger, tracer trace.Tracer) *ChatBot {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer("yo")
	}
	return &ChatBot{
		store:   store,
		pointer: pointer,
		logger:  logger.With("component", "chatbot"),
		tracer:  tracer,
	}
}

// Reply is the outcome of a successful Ask.
type Reply struct {
	SessionID    int64
	InvocationID string
	Content      string
}

// Ask sends question to p within the current chat. The user message is
// stored right before dispatch, so a failed provider call leaves it in
// place without an assistant reply.
func (cb *ChatBot) Ask(ctx context.Context, p backend.Provider, question string) (*Reply, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	invocationID := uuid.NewString()
	logger := cb.logger.With("invocation_id", invocationID, "provider", p.Name(), "model", p.Model())

	ctx, span := cb.tracer.Start(ctx, "ask", trace.WithAttributes(
		attribute.String("yo.invocation_id", invocationID),
		attribute.String("yo.provider", p.Name()),
		attribute.String("yo.provider_kind", p.Kind().String()),
		attribute.String("yo.model", p.Model()),
	))
	defer span.End()

	fail := func(err error) (*Reply, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sess, err := cb.resolveSession(ctx)
	if err != nil {
		logger.Warn("no chat to ask in", "error", err)
		return fail(err)
	}
	span.SetAttributes(attribute.Int64("yo.session_id", sess.ID))
	logger = logger.With("session_id", sess.ID)

	history, err := cb.store.GetMessages(ctx, sess.ID)
	if err != nil {
		logger.Error("failed to load history", "error", err)
		return fail(err)
	}
	turns := AssembleContext(p.Kind(), sess, history)
	span.SetAttributes(
		attribute.Int("yo.context_turns", len(turns)),
		attribute.String("yo.context_digest", contextDigest(turns)),
	)

	if _, err := cb.store.AppendMessage(ctx, sess.ID, session.RoleUser, question); err != nil {
		logger.Error("failed to save user message", "error", err)
		return fail(err)
	}

	logger.Info("dispatching question", "history", len(history), "length", len(question))
	answer, err := p.Respond(ctx, turns, question)
	if err != nil {
		logger.Error("provider call failed", "error", err)
		return fail(fmt.Errorf("failed to get response: %w", err))
	}

	reply := &Reply{SessionID: sess.ID, InvocationID: invocationID, Content: answer}
	if _, err := cb.store.AppendMessage(ctx, sess.ID, session.RoleAssistant, answer); err != nil {
		logger.Error("failed to save assistant message", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return reply, err
	}

	logger.Info("exchange saved", "reply_length", len(answer))
	return reply, nil
}

// resolveSession loads the chat named by the pointer.
func (cb *ChatBot) resolveSession(ctx context.Context) (*session.Session, error) {
	id, ok, err := cb.pointer.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load current chat: %w", err)
	}
	if !ok {
		return nil, ErrNoCurrentSession
	}

	sess, err := cb.store.GetSession(ctx, id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, &DanglingPointerError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// NewChat creates a chat and makes it current.
func (cb *ChatBot) NewChat(ctx context.Context, title string) (int64, error) {
	id, err := cb.store.CreateSession(ctx, title)
	if err != nil {
		return 0, err
	}
	if err := cb.pointer.Save(id); err != nil {
		// Undo the create.
		if derr := cb.store.DeleteSession(ctx, id); derr != nil {
			cb.logger.Error("failed to remove chat after pointer error", "session_id", id, "error", derr)
		}
		return 0, fmt.Errorf("failed to save current chat: %w", err)
	}
	cb.logger.Info("started new chat", "session_id", id)
	return id, nil
}

// SwitchChat makes an existing chat current.
func (cb *ChatBot) SwitchChat(ctx context.Context, id int64) (*session.Session, error) {
	sess, err := cb.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := cb.pointer.Save(id); err != nil {
		return nil, fmt.Errorf("failed to save current chat: %w", err)
	}
	cb.logger.Info("switched chat", "session_id", id)
	return sess, nil
}

// CurrentID returns the pointer value without checking that the chat exists.
func (cb *ChatBot) CurrentID() (int64, bool, error) {
	return cb.pointer.Load()
}

// CurrentChat returns the current chat.
func (cb *ChatBot) CurrentChat(ctx context.Context) (*session.Session, error) {
	return cb.resolveSession(ctx)
}

// ListChats returns every chat, oldest first.
func (cb *ChatBot) ListChats(ctx context.Context) ([]session.Session, error) {
	return cb.store.ListSessions(ctx)
}

// ViewChat returns the current chat and its messages.
func (cb *ChatBot) ViewChat(ctx context.Context) (*session.Session, []session.Message, error) {
	sess, err := cb.resolveSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	messages, err := cb.store.GetMessages(ctx, sess.ID)
	if err != nil {
		return nil, nil, err
	}
	return sess, messages, nil
}

// ClearHistory deletes the messages of the current chat and returns how
// many were removed.
func (cb *ChatBot) ClearHistory(ctx context.Context) (int64, error) {
	sess, err := cb.resolveSession(ctx)
	if err != nil {
		return 0, err
	}
	return cb.store.ClearMessages(ctx, sess.ID)
}

// DeleteChat deletes a chat. If it was current the pointer is cleared and
// cleared is true.
func (cb *ChatBot) DeleteChat(ctx context.Context, id int64) (cleared bool, err error) {
	if err := cb.store.DeleteSession(ctx, id); err != nil {
		return false, err
	}

	current, ok, err := cb.pointer.Load()
	if err != nil {
		return false, fmt.Errorf("failed to load current chat: %w", err)
	}
	if ok && current == id {
		if err := cb.pointer.Clear(); err != nil {
			return false, fmt.Errorf("failed to clear current chat: %w", err)
		}
		cleared = true
	}
	cb.logger.Info("deleted chat", "session_id", id, "was_current", cleared)
	return cleared, nil
}

// ClearAllChats deletes every chat and clears the pointer.
func (cb *ChatBot) ClearAllChats(ctx context.Context) error {
	if err := cb.store.DeleteAllSessions(ctx); err != nil {
		return err
	}
	if err := cb.pointer.Clear(); err != nil {
		return fmt.Errorf("failed to clear current chat: %w", err)
	}
	cb.logger.Info("deleted all chats")
	return nil
}

// Search finds messages containing keyword across all chats.
func (cb *ChatBot) Search(ctx context.Context, keyword string) ([]session.SearchHit, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, fmt.Errorf("search keyword must not be empty")
	}
	return cb.store.SearchMessages(ctx, keyword)
}

// SetProfile stores a "key=value" profile entry.
func (cb *ChatBot) SetProfile(ctx context.Context, entry string) (key, value string, err error) {
	key, value, ok := strings.Cut(entry, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid profile entry %q, expected key=value", entry)
	}
	if err := cb.store.UpsertProfile(ctx, key, value); err != nil {
		return "", "", err
	}
	return key, value, nil
}

// Profile returns every profile entry.
func (cb *ChatBot) Profile(ctx context.Context) ([]session.ProfileEntry, error) {
	return cb.store.ListProfile(ctx)
}

// ProfileValue returns one profile entry, with ok=false when the key is unset.
func (cb *ChatBot) ProfileValue(ctx context.Context, key string) (value string, ok bool, err error) {
	return cb.store.GetProfile(ctx, strings.TrimSpace(key))
}

// RenameChat changes a chat's title.
func (cb *ChatBot) RenameChat(ctx context.Context, id int64, title string) error {
	return cb.store.RenameSession(ctx, id, title)
}

// TagChat replaces a chat's tags.
func (cb *ChatBot) TagChat(ctx context.Context, id int64, tags []string) error {
	return cb.store.SetTags(ctx, id, tags)
}

// SetSystemPrompt sets the instruction remote providers receive for a chat.
func (cb *ChatBot) SetSystemPrompt(ctx context.Context, id int64, prompt string) error {
	return cb.store.SetSystemPrompt(ctx, id, prompt)
}

const summaryInstruction = "Summarize the following conversation in a few sentences:\n\n"

// Summarize asks p for a summary of chat id. Nothing is stored; p should
// be built without an output writer so the reply is only returned.
func (cb *ChatBot) Summarize(ctx context.Context, p backend.Provider, id int64) (string, error) {
	ctx, span := cb.tracer.Start(ctx, "summarize", trace.WithAttributes(
		attribute.Int64("yo.session_id", id),
		attribute.String("yo.provider", p.Name()),
	))
	defer span.End()

	sess, err := cb.store.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	messages, err := cb.store.GetMessages(ctx, id)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return "", ErrEmptyChat
	}

	var sb strings.Builder
	sb.WriteString(summaryInstruction)
	for _, msg := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", msg.Role, msg.Content)
	}

	summary, err := p.Respond(ctx, AssembleContext(p.Kind(), sess, nil), sb.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to summarize chat %d: %w", id, err)
	}
	cb.logger.Info("summarized chat", "session_id", id, "messages", len(messages))
	return summary, nil
}
