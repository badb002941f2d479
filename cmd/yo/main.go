// Package main provides the yo CLI: ask your terminal anything.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"yo/internal/backend"
	"yo/internal/chatbot"
	"yo/internal/config"
	"yo/internal/session"
	"yo/internal/telemetry"
	"yo/internal/ui"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var version = "0.1.0" // This could be set at build time

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one yo invocation and returns the process exit status.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if a.logger != nil {
		a.logger.Error("command failed", "error", err)
	}
	return exitCode(err)
}

// exitCode maps an error to the process status. Provider and storage
// failures are reported but do not fail the process.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrConfigMissing), errors.Is(err, chatbot.ErrNoCurrentSession):
		return 1
	}
	var perr *backend.ProviderError
	var serr *session.StoreError
	if errors.As(err, &perr) || errors.As(err, &serr) {
		return 0
	}
	return 1
}

// app holds what one invocation shares between commands.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	logLevel string
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	store    *session.Store
	prompt   *ui.Prompter
	cleanups []func()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "yo [question...]",
		Short: "ask your terminal anything",
		Long: `yo forwards a question to the configured AI backend (OpenAI or a local
Ollama model) and keeps the exchange in the current chat.

  yo ask <question>
  yo <question>

Both forms are equivalent.`,
		Version:           version,
		Args:              cobra.ArbitraryArgs,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.init(cmd.Context()) },
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(a.stdout, "yo what?")
				return nil
			}
			return a.ask(cmd.Context(), args)
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Set log level (trace|debug|info|warn|error) [default: info]")

	root.AddCommand(
		newAskCmd(a),
		newSetupCmd(a),
		newConfigCmd(a),
		newSwitchCmd(a),
		newGptCmd(a),
		newListCmd(a),
		newCurrentCmd(a),
		newClearHistoryCmd(a),
		newNewChatCmd(a),
		newListChatsCmd(a),
		newSwitchChatCmd(a),
		newSetProfileCmd(a),
		newProfileCmd(a),
		newSummarizeChatCmd(a),
		newSearchCmd(a),
		newViewChatCmd(a),
		newDeleteChatCmd(a),
		newClearAllChatsCmd(a),
		newRenameChatCmd(a),
		newTagChatCmd(a),
		newSystemPromptCmd(a),
	)
	return root
}

// init sets up logging and telemetry under the config directory.
func (a *app) init(ctx context.Context) error {
	config.LoadEnv()

	dir, err := config.EnsureDir()
	if err != nil {
		return err
	}

	levelName := a.logLevel
	if levelName == "" {
		if cfg, err := config.Load(); err == nil {
			levelName = cfg.Level()
		} else {
			levelName = os.Getenv("YO_LOG_LEVEL")
		}
	}
	level, err := telemetry.ParseLogLevel(levelName)
	if err != nil {
		fmt.Fprintf(a.stderr, "warning: %v, using info\n", err)
	}

	logger, closer, err := telemetry.InitLogger(dir, level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger
	a.cleanups = append(a.cleanups, func() { closer.Close() })

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tracer, a.meter = tracer, meter
	a.cleanups = append(a.cleanups, cleanup)

	a.logger.Debug("starting", "version", version, "config_dir", dir)
	return nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

// bot opens the chat database and returns a driver using the file pointer.
func (a *app) bot() (*chatbot.ChatBot, error) {
	if a.store == nil {
		dbPath, err := config.DatabasePath()
		if err != nil {
			return nil, err
		}
		store, err := session.NewStore(dbPath, a.logger)
		if err != nil {
			return nil, err
		}
		a.store = store
	}
	path, err := config.Path()
	if err != nil {
		return nil, err
	}
	return chatbot.New(a.store, config.NewFilePointer(path), a.logger, a.tracer), nil
}

// provider builds the configured backend. Interactive providers echo the
// reply to stdout as it arrives; captured ones only return it.
func (a *app) provider(cfg *config.Config, interactive bool) (backend.Provider, error) {
	opts := backend.Options{
		Logger: a.logger,
		Tracer: a.tracer,
		Meter:  a.meter,
		Warn:   a.stderr,
	}
	if interactive {
		opts.Out = a.stdout
	}

	switch cfg.Source {
	case "":
		// config.toml may hold only the chat pointer.
		return nil, config.ErrConfigMissing
	case config.BackendOpenAI:
		key, err := cfg.APIKey()
		if err != nil {
			return nil, err
		}
		return backend.NewOpenAI(backend.OpenAIConfig{
			APIKey:  key,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.Model,
		}, opts), nil
	case config.BackendOllama:
		mode := backend.ModeCaptured
		if interactive {
			mode = backend.ModeInteractive
		}
		return backend.NewOllama(backend.OllamaConfig{
			Binary: cfg.OllamaBinary,
			Model:  cfg.Model,
			Mode:   mode,
			Stdin:  a.stdin,
			Stderr: a.stderr,
		}, opts), nil
	default:
		return nil, fmt.Errorf("unknown backend %q in config (run `yo setup`)", cfg.Source)
	}
}

func (a *app) ask(ctx context.Context, words []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	bot, err := a.bot()
	if err != nil {
		return err
	}
	p, err := a.provider(cfg, true)
	if err != nil {
		return err
	}
	_, err = bot.Ask(ctx, p, strings.Join(words, " "))
	return err
}

func (a *app) renderer() *ui.Renderer {
	plain := true
	if f, ok := a.stdout.(*os.File); ok {
		if info, err := f.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
			plain = false
		}
	}
	r, err := ui.NewRenderer(plain)
	if err != nil {
		a.logger.Warn("markdown rendering disabled", "error", err)
		return nil
	}
	return r
}

func (a *app) prompter() *ui.Prompter {
	if a.prompt == nil {
		a.prompt = ui.NewPrompter(a.stdin, a.stdout)
	}
	return a.prompt
}
