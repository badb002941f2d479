package chatbot

import (
	"testing"

	"yo/internal/backend"
	"yo/internal/session"

	"github.com/stretchr/testify/assert"
)

func TestAssembleContextRemote(t *testing.T) {
	history := []session.Message{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant, Content: "hello"},
	}

	turns := AssembleContext(backend.KindRemoteStreaming, &session.Session{}, history)
	assert.Equal(t, []backend.Turn{
		{Role: "system", Content: DefaultSystemPrompt},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}, turns)

	turns = AssembleContext(backend.KindRemoteStreaming, &session.Session{SystemPrompt: "Be brief."}, nil)
	assert.Equal(t, []backend.Turn{{Role: "system", Content: "Be brief."}}, turns)
}

func TestAssembleContextLocal(t *testing.T) {
	assert.Empty(t, AssembleContext(backend.KindLocalProcess, &session.Session{SystemPrompt: "ignored"}, nil))

	history := []session.Message{
		{Role: session.RoleUser, Content: "a"},
		{Role: "tool", Content: "b"},
	}
	turns := AssembleContext(backend.KindLocalProcess, nil, history)
	assert.Equal(t, "user: a\ntool: b\nuser: c", backend.Transcript(turns, "c"))
}

func TestContextDigest(t *testing.T) {
	a := []backend.Turn{{Role: "user", Content: "hi"}}
	b := []backend.Turn{{Role: "user", Content: "hi!"}}

	assert.Len(t, contextDigest(a), 64)
	assert.Equal(t, contextDigest(a), contextDigest(a))
	assert.NotEqual(t, contextDigest(a), contextDigest(b))
}
