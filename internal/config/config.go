package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

const (
	DefaultOpenAIModel   = "gpt-4"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOllamaBinary  = "ollama"
)

// ErrConfigMissing is returned by Load when no config file exists yet.
var ErrConfigMissing = errors.New("no config found. run `yo setup` to get started")

// Config holds application configuration
type Config struct {
	Source        string `toml:"source"` // "openai" or "ollama"
	Model         string `toml:"model"`  // model ID, e.g. "gpt-4" or "llama3:latest"
	OpenAIAPIKey  string `toml:"openai_api_key,omitempty"`
	OpenAIBaseURL string `toml:"openai_base_url,omitempty"`
	OllamaBinary  string `toml:"ollama_binary,omitempty"`
	LogLevel      string `toml:"log_level,omitempty"`

	// CurrentChatID names the active chat session. It is a weak reference:
	// the session may have been deleted since it was written.
	CurrentChatID *int64 `toml:"current_chat_id,omitempty"`

	envAPIKey   string
	envLogLevel string
}

// Dir returns the yo configuration directory. YO_CONFIG_DIR wins, then
// $XDG_CONFIG_HOME/yo, then ~/.config/yo.
func Dir() (string, error) {
	if dir := os.Getenv("YO_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "yo"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(home, ".config", "yo"), nil
}

// EnsureDir creates the configuration directory if needed and returns it.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// Path returns the path of config.toml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath returns the path of the chat database.
func DatabasePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chats.db"), nil
}

// LoadEnv loads <configdir>/.env and ./.env into the process environment.
// Variables already set are never overridden.
func LoadEnv() {
	if dir, err := Dir(); err == nil {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
	_ = godotenv.Load()
}

// Load reads config.toml. It returns ErrConfigMissing if setup never ran.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads a config file from an explicit path.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrConfigMissing
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config format: %w", err)
	}
	cfg.applyEnv()
	cfg.setDefaults()
	return &cfg, nil
}

// Save writes config.toml with owner-only permissions.
func Save(cfg *Config) error {
	if _, err := EnsureDir(); err != nil {
		return err
	}
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(cfg, path)
}

// SaveFile writes the config to an explicit path.
func SaveFile(cfg *Config, path string) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// APIKey returns the OpenAI key, or an error if none is configured.
// OPENAI_API_KEY from the environment takes precedence over the file.
func (c *Config) APIKey() (string, error) {
	if c.envAPIKey != "" {
		return c.envAPIKey, nil
	}
	if c.OpenAIAPIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured (run `yo setup` or set OPENAI_API_KEY)")
	}
	return c.OpenAIAPIKey, nil
}

// MaskedAPIKey shows the first seven characters of the key and hides the rest.
func (c *Config) MaskedAPIKey() string {
	key, err := c.APIKey()
	if err != nil {
		return "[not set]"
	}
	if len(key) > 7 {
		return key[:7] + strings.Repeat("*", len(key)/4)
	}
	return strings.Repeat("*", len(key))
}

// IsOpenAIModel reports whether a model name looks like an OpenAI model.
func IsOpenAIModel(model string) bool {
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "dall-e", "chatgpt-"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (c *Config) applyEnv() {
	c.envAPIKey = os.Getenv("OPENAI_API_KEY")
	c.envLogLevel = os.Getenv("YO_LOG_LEVEL")
}

// Level returns the configured log level; YO_LOG_LEVEL wins over the file.
func (c *Config) Level() string {
	if c.envLogLevel != "" {
		return c.envLogLevel
	}
	return c.LogLevel
}

func (c *Config) setDefaults() {
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = DefaultOpenAIBaseURL
	}
	if c.OllamaBinary == "" {
		c.OllamaBinary = DefaultOllamaBinary
	}
}
