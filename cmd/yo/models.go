package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"yo/internal/backend"
	"yo/internal/chatbot"
	"yo/internal/config"
	"yo/internal/ui"

	"github.com/spf13/cobra"
)

const (
	gptPreviewModels   = 10
	showDetailLines    = 5
	setupBackendPrompt = "Choose backend: "
	apiKeyPrompt       = "Enter OpenAI API key: "
)

var errNoLocalModels = errors.New("no local ollama model installed. install one with `ollama pull llama3`")

// loadOrNew reads config.toml, starting from an empty config if setup never ran.
func loadOrNew() (*config.Config, error) {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrConfigMissing) {
		return &config.Config{OllamaBinary: config.DefaultOllamaBinary}, nil
	}
	return cfg, err
}

func (a *app) saveConfig(cfg *config.Config) error {
	if err := config.Save(cfg); err != nil {
		return err
	}
	path, err := config.Path()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "⚙️ config saved at %s\n", path)
	return nil
}

// ensureAPIKey prompts for an OpenAI key when neither the file nor the
// environment provides one.
func (a *app) ensureAPIKey(cfg *config.Config) (string, error) {
	if key, err := cfg.APIKey(); err == nil {
		return key, nil
	}
	key, err := a.prompter().Ask(apiKeyPrompt)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", errors.New("an OpenAI API key is required")
	}
	cfg.OpenAIAPIKey = key
	return key, nil
}

func baseURL(cfg *config.Config) string {
	if cfg.OpenAIBaseURL == "" {
		return config.DefaultOpenAIBaseURL
	}
	return cfg.OpenAIBaseURL
}

func modelIDs(models []backend.ModelInfo) []string {
	ids := make([]string, len(models))
	for i, m := range models {
		ids[i] = m.ID
	}
	return ids
}

func newSetupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Choose a backend and save the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backends := []string{config.BackendOllama, config.BackendOpenAI}
			idx, err := a.prompter().Choose(setupBackendPrompt, backends)
			if err != nil {
				return err
			}

			// A re-run keeps the active chat.
			var current *int64
			if prev, err := config.Load(); err == nil {
				current = prev.CurrentChatID
			}

			cfg := &config.Config{Source: backends[idx], CurrentChatID: current}
			switch cfg.Source {
			case config.BackendOpenAI:
				key, err := a.prompter().Ask(apiKeyPrompt)
				if err != nil {
					return err
				}
				cfg.OpenAIAPIKey = key
				cfg.Model = config.DefaultOpenAIModel
			case config.BackendOllama:
				models, err := backend.ListOllamaModels(cmd.Context(), config.DefaultOllamaBinary)
				if err != nil {
					a.logger.Warn("could not list ollama models", "error", err)
				}
				if len(models) == 0 {
					return errNoLocalModels
				}
				cfg.Model = models[0]
			}

			if err := config.Save(cfg); err != nil {
				return err
			}
			path, err := config.Path()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "✅ setup complete")
			fmt.Fprintf(a.stdout, "⚙️ config saved at %s\n", path)
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the config file path",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := config.Path()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, path)
			return nil
		},
	}
}

func newSwitchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "switch <ollama|openai>",
		Short:     "Switch the active backend",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{config.BackendOllama, config.BackendOpenAI},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrNew()
			if err != nil {
				return err
			}

			switch args[0] {
			case config.BackendOpenAI:
				cfg.Source = config.BackendOpenAI
				if _, err := a.ensureAPIKey(cfg); err != nil {
					return err
				}
				if !config.IsOpenAIModel(cfg.Model) {
					cfg.Model = config.DefaultOpenAIModel
				}
				fmt.Fprintf(a.stdout, "Switched to OpenAI model: %s\n", cfg.Model)
			case config.BackendOllama:
				models, err := backend.ListOllamaModels(cmd.Context(), cfg.OllamaBinary)
				if err != nil {
					a.logger.Warn("could not list ollama models", "error", err)
				}
				if len(models) == 0 {
					return errNoLocalModels
				}
				cfg.Source = config.BackendOllama
				if !config.IsOpenAIModel(cfg.Model) && slices.Contains(models, cfg.Model) {
					fmt.Fprintf(a.stdout, "Using previously selected Ollama model: %s\n", cfg.Model)
				} else {
					cfg.Model = models[0]
					fmt.Fprintf(a.stdout, "Switched to Ollama model: %s\n", cfg.Model)
				}
			default:
				return fmt.Errorf("usage: yo switch <ollama|openai>")
			}
			return a.saveConfig(cfg)
		},
	}
}

func newGptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "gpt <model>",
		Short: "Use a specific OpenAI model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrNew()
			if err != nil {
				return err
			}
			key, err := a.ensureAPIKey(cfg)
			if err != nil {
				return err
			}

			models, err := backend.ListOpenAIModels(cmd.Context(), key, baseURL(cfg))
			if err != nil {
				return &backend.ProviderError{Kind: backend.TransportFailed, Provider: "openai", Err: err}
			}
			ids := modelIDs(models)
			if !slices.Contains(ids, args[0]) {
				fmt.Fprintf(a.stdout, "Model '%s' not found in available OpenAI models.\n", args[0])
				fmt.Fprintln(a.stdout, "Available models:")
				for _, id := range ids[:min(len(ids), gptPreviewModels)] {
					fmt.Fprintf(a.stdout, "  %s\n", id)
				}
				if len(ids) > gptPreviewModels {
					fmt.Fprintf(a.stdout, "  ... and %d more\n", len(ids)-gptPreviewModels)
					fmt.Fprintln(a.stdout, "Run 'yo list' to see all available models")
				}
				return nil
			}

			cfg.Source = config.BackendOpenAI
			cfg.Model = args[0]
			fmt.Fprintf(a.stdout, "Switched to OpenAI model: %s\n", cfg.Model)
			return a.saveConfig(cfg)
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available models on both backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadOrNew()
			if err != nil {
				return err
			}
			active := func(source string) string {
				if cfg.Source == source {
					return cfg.Model
				}
				return ""
			}

			if key, err := cfg.APIKey(); err == nil {
				models, err := backend.ListOpenAIModels(cmd.Context(), key, baseURL(cfg))
				if err != nil {
					a.warn("could not list OpenAI models: %v", err)
				} else if len(models) > 0 {
					fmt.Fprintln(a.stdout, ui.ModelsTable("OpenAI", modelIDs(models), active(config.BackendOpenAI)))
				}
			}

			models, err := backend.ListOllamaModels(cmd.Context(), cfg.OllamaBinary)
			if err != nil {
				a.warn("could not list Ollama models: %v", err)
				return nil
			}
			if len(models) > 0 {
				fmt.Fprintln(a.stdout, ui.ModelsTable("Ollama", models, active(config.BackendOllama)))
			}
			return nil
		},
	}
}

func newCurrentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Show the active backend, model and chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Source == "" {
				return config.ErrConfigMissing
			}

			fmt.Fprintln(a.stdout, "📋 Current AI Configuration")
			fmt.Fprintln(a.stdout, "---------------------------")
			fmt.Fprintf(a.stdout, "Backend: %s\n", cfg.Source)
			fmt.Fprintf(a.stdout, "Model:   %s\n", cfg.Model)

			switch cfg.Source {
			case config.BackendOllama:
				a.printModelDetails(cmd.Context(), cfg)
			case config.BackendOpenAI:
				fmt.Fprintf(a.stdout, "\nAPI Key: %s\n", cfg.MaskedAPIKey())
			}

			bot, err := a.bot()
			if err != nil {
				return err
			}
			sess, err := bot.CurrentChat(cmd.Context())
			switch {
			case err == nil:
				fmt.Fprintf(a.stdout, "\nChat:    %d (%s)\n", sess.ID, sess.Title)
			case errors.Is(err, chatbot.ErrNoCurrentSession):
				fmt.Fprintln(a.stdout, "\nChat:    none")
			default:
				return err
			}

			fmt.Fprintln(a.stdout, "\n💡 Use 'yo list' to see all available models")
			return nil
		},
	}
}

func (a *app) printModelDetails(ctx context.Context, cfg *config.Config) {
	lines, err := backend.ShowOllamaModel(ctx, cfg.OllamaBinary, cfg.Model, showDetailLines)
	if err != nil {
		a.logger.Debug("ollama show failed", "model", cfg.Model, "error", err)
		return
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(a.stdout, "\nModel Details:")
	for _, line := range lines {
		fmt.Fprintf(a.stdout, "  %s\n", line)
	}
}

// warn reports a non-fatal problem on stderr and in the log.
func (a *app) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(a.stderr, "warning: %s\n", msg)
	a.logger.Warn(msg)
}
