package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"yo/internal/backend"
	"yo/internal/chatbot"
	"yo/internal/config"
	"yo/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

// env isolates one test in its own config directory.
type env struct {
	t   *testing.T
	dir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("YO_CONFIG_DIR", dir)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("YO_LOG_LEVEL", "")
	return &env{t: t, dir: dir}
}

func (e *env) writeConfig(cfg *config.Config) {
	e.t.Helper()
	require.NoError(e.t, config.SaveFile(cfg, filepath.Join(e.dir, "config.toml")))
}

func (e *env) loadConfig() *config.Config {
	e.t.Helper()
	cfg, err := config.LoadFile(filepath.Join(e.dir, "config.toml"))
	require.NoError(e.t, err)
	return cfg
}

func (e *env) run(stdin string, args ...string) result {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func sseDelta(content string) string {
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
}

// fakeOpenAI answers every chat completion with the given deltas.
func fakeOpenAI(t *testing.T, deltas ...string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, d := range deltas {
			fmt.Fprint(w, sseDelta(d))
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)
	return server
}

func openAIConfig(baseURL string) *config.Config {
	return &config.Config{
		Source:        config.BackendOpenAI,
		Model:         "gpt-4",
		OpenAIAPIKey:  "sk-test",
		OpenAIBaseURL: baseURL,
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"config missing", config.ErrConfigMissing, 1},
		{"no current chat", chatbot.ErrNoCurrentSession, 1},
		{"dangling pointer", &chatbot.DanglingPointerError{ID: 7}, 1},
		{"provider error", fmt.Errorf("failed to get response: %w", &backend.ProviderError{Kind: backend.RemoteRejected, Provider: "openai", Status: 401}), 0},
		{"store error", &session.StoreError{Op: "append message", Err: errors.New("disk I/O error")}, 0},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestBareInvocation(t *testing.T) {
	e := newEnv(t)
	res := e.run("")
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "yo what?\n", res.stdout)
}

func TestAskWithoutConfig(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "ask", "hello")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "yo setup")

	res = e.run("", "hello", "there")
	assert.Equal(t, 1, res.code, "a bare question behaves like ask")
}

func TestAskWithoutChat(t *testing.T) {
	e := newEnv(t)
	e.writeConfig(openAIConfig(fakeOpenAI(t, "unused").URL))

	res := e.run("", "ask", "hello")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "yo new-chat")
}

func TestConversationFlow(t *testing.T) {
	e := newEnv(t)
	e.writeConfig(openAIConfig(fakeOpenAI(t, "Hello", " world").URL))

	res := e.run("", "new-chat", "demo")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Started new chat 1: demo\n", res.stdout)

	cfg := e.loadConfig()
	require.NotNil(t, cfg.CurrentChatID)
	assert.Equal(t, int64(1), *cfg.CurrentChatID)

	res = e.run("", "ask", "say", "hello")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Hello world\n", res.stdout)

	res = e.run("", "a", "again")
	require.Equal(t, 0, res.code, res.stderr)

	res = e.run("", "view-chat")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Chat 1: demo")
	assert.Contains(t, res.stdout, "say hello")
	assert.Contains(t, res.stdout, "again")
	assert.Contains(t, res.stdout, "Hello world")

	res = e.run("", "list-chats")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "demo")
	assert.Contains(t, res.stdout, "✔")

	res = e.run("", "search", "again")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "again")

	res = e.run("", "clear-history")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "4 messages")
}

func TestProviderFailureExitsZero(t *testing.T) {
	e := newEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)
	e.writeConfig(openAIConfig(server.URL))

	require.Equal(t, 0, e.run("", "new-chat").code)

	res := e.run("", "ask", "hello")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stderr, "401")

	// The question is kept even though no answer arrived.
	res = e.run("", "view-chat")
	require.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, "hello")
}

func TestDeleteCurrentChat(t *testing.T) {
	e := newEnv(t)
	e.writeConfig(openAIConfig(fakeOpenAI(t, "ok").URL))

	require.Equal(t, 0, e.run("", "new-chat", "first").code)
	require.Equal(t, 0, e.run("", "new-chat", "second").code)

	res := e.run("", "switch-chat", "1")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Switched to chat 1: first")

	res = e.run("", "delete-chat", "1")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "That was the current chat")

	res = e.run("", "ask", "hello")
	assert.Equal(t, 1, res.code)

	res = e.run("", "switch-chat", "1")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "no chat with id 1")

	res = e.run("", "switch-chat", "abc")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "invalid chat id")
}

func TestClearAllChatsConfirmation(t *testing.T) {
	e := newEnv(t)
	e.writeConfig(openAIConfig(fakeOpenAI(t, "ok").URL))
	require.Equal(t, 0, e.run("", "new-chat", "keep").code)

	res := e.run("n\n", "clear-all-chats")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Aborted.")
	assert.Contains(t, e.run("", "list-chats").stdout, "keep")

	res = e.run("", "clear-all-chats", "--yes")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, e.run("", "list-chats").stdout, "No chats yet")
}

func TestProfileCommands(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "set-profile", "name=Ada")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Profile updated: name = Ada\n", res.stdout)

	res = e.run("", "profile")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Ada")

	res = e.run("", "profile", "name")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Ada\n", res.stdout)

	res = e.run("", "profile", "shell")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, `profile key "shell" is not set`)

	res = e.run("", "set-profile", "novalue")
	assert.Equal(t, 1, res.code)
}

func TestSetupOpenAI(t *testing.T) {
	e := newEnv(t)

	res := e.run("2\nsk-abc\n", "setup")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "✅ setup complete")
	assert.Contains(t, res.stdout, filepath.Join(e.dir, "config.toml"))

	cfg := e.loadConfig()
	assert.Equal(t, config.BackendOpenAI, cfg.Source)
	assert.Equal(t, config.DefaultOpenAIModel, cfg.Model)
	assert.Equal(t, "sk-abc", cfg.OpenAIAPIKey)

	res = e.run("7\n", "setup")
	assert.Equal(t, 1, res.code)
}

func TestSetupKeepsCurrentChat(t *testing.T) {
	e := newEnv(t)
	id := int64(3)
	cfg := openAIConfig("")
	cfg.CurrentChatID = &id
	e.writeConfig(cfg)

	require.Equal(t, 0, e.run("2\nsk-new\n", "setup").code)

	cfg = e.loadConfig()
	require.NotNil(t, cfg.CurrentChatID)
	assert.Equal(t, int64(3), *cfg.CurrentChatID)
	assert.Equal(t, "sk-new", cfg.OpenAIAPIKey)
}

func TestConfigPath(t *testing.T) {
	e := newEnv(t)
	res := e.run("", "config")
	require.Equal(t, 0, res.code)
	assert.Equal(t, filepath.Join(e.dir, "config.toml")+"\n", res.stdout)
}

func TestCurrentShowsMaskedKey(t *testing.T) {
	e := newEnv(t)
	cfg := openAIConfig("")
	cfg.OpenAIAPIKey = "sk-1234567890abcdef"
	e.writeConfig(cfg)

	res := e.run("", "current")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Backend: openai")
	assert.Contains(t, res.stdout, "Model:   gpt-4")
	assert.Contains(t, res.stdout, "sk-1234****")
	assert.NotContains(t, res.stdout, "abcdef")
	assert.Contains(t, res.stdout, "Chat:    none")
}

func TestGptVerifiesModel(t *testing.T) {
	e := newEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[
			{"id":"gpt-4o","object":"model","created":1,"owned_by":"openai"},
			{"id":"gpt-4","object":"model","created":1,"owned_by":"openai"},
			{"id":"whisper-1","object":"model","created":1,"owned_by":"openai"}]}`)
	}))
	t.Cleanup(server.Close)
	e.writeConfig(openAIConfig(server.URL))

	res := e.run("", "gpt", "gpt-5-turbo")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Model 'gpt-5-turbo' not found")
	assert.Contains(t, res.stdout, "  gpt-4o")
	assert.NotContains(t, res.stdout, "whisper-1")
	assert.Equal(t, "gpt-4", e.loadConfig().Model)

	res = e.run("", "gpt", "gpt-4o")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Switched to OpenAI model: gpt-4o")
	assert.Equal(t, "gpt-4o", e.loadConfig().Model)
}

func TestSwitchOpenAIKeepsOpenAIModel(t *testing.T) {
	e := newEnv(t)
	e.writeConfig(&config.Config{Source: config.BackendOllama, Model: "llama3:latest"})

	res := e.run("sk-typed\n", "switch", "openai")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Switched to OpenAI model: gpt-4")

	cfg := e.loadConfig()
	assert.Equal(t, config.BackendOpenAI, cfg.Source)
	assert.Equal(t, "sk-typed", cfg.OpenAIAPIKey)

	res = e.run("", "switch", "lmstudio")
	assert.Equal(t, 1, res.code)
}

func TestChatMetadataCommands(t *testing.T) {
	e := newEnv(t)
	e.writeConfig(openAIConfig(fakeOpenAI(t, "ok").URL))
	require.Equal(t, 0, e.run("", "new-chat").code)

	res := e.run("", "rename-chat", "1", "go", "notes")
	require.Equal(t, 0, res.code, res.stderr)

	res = e.run("", "tag-chat", "1", "go,sqlite", "cli")
	require.Equal(t, 0, res.code, res.stderr)

	res = e.run("", "system-prompt", "1", "Answer", "tersely.")
	require.Equal(t, 0, res.code, res.stderr)

	res = e.run("", "list-chats")
	assert.Contains(t, res.stdout, "go notes")
	assert.Contains(t, res.stdout, "go, sqlite, cli")

	res = e.run("", "rename-chat", "9", "x")
	assert.Equal(t, 1, res.code)
}

func TestNewChatBeforeSetup(t *testing.T) {
	e := newEnv(t)

	res := e.run("", "new-chat", "demo")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "Started new chat 1: demo\n", res.stdout)

	cfg := e.loadConfig()
	require.NotNil(t, cfg.CurrentChatID)
	assert.Equal(t, int64(1), *cfg.CurrentChatID)

	res = e.run("", "list-chats")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "demo")

	// Asking still needs a backend.
	res = e.run("", "ask", "hello")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "yo setup")
}
