package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Mode selects how the local model process is wired to the terminal.
type Mode int

const (
	// ModeInteractive inherits stdin and stderr and echoes stdout to the
	// terminal while capturing it.
	ModeInteractive Mode = iota
	// ModeCaptured captures stdout only and logs stderr.
	ModeCaptured
)

// OllamaConfig configures the local process provider.
type OllamaConfig struct {
	Binary string // defaults to "ollama"
	Model  string
	Mode   Mode

	// Stdin is handed to the process in interactive mode. Defaults to os.Stdin.
	Stdin io.Reader
	// Stderr receives the process stderr in interactive mode. Defaults to os.Stderr.
	Stderr io.Writer
}

// Ollama runs a local model with `ollama run <model> <prompt>`.
type Ollama struct {
	cfg OllamaConfig
	out io.Writer
	ins instruments
}

// NewOllama creates the local process provider.
func NewOllama(cfg OllamaConfig, opts Options) *Ollama {
	if cfg.Binary == "" {
		cfg.Binary = "ollama"
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Ollama{
		cfg: cfg,
		out: opts.Out,
		ins: newInstruments(opts, "ollama"),
	}
}

func (p *Ollama) Kind() Kind   { return KindLocalProcess }
func (p *Ollama) Name() string { return "ollama" }
func (p *Ollama) provider()    {}

// Model returns the local model name.
func (p *Ollama) Model() string { return p.cfg.Model }

// Respond flattens history and text into a transcript, runs the model and
// returns its stdout. A non-zero exit is reported as a warning and the
// partial output is still returned.
func (p *Ollama) Respond(ctx context.Context, history []Turn, text string) (string, error) {
	ctx, span := p.ins.tracer.Start(ctx, "ollama_run")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", p.cfg.Model),
		attribute.Int("llm.history_turns", len(history)),
	)

	start := time.Now()
	defer p.ins.recordDuration(ctx, p.Name(), start)

	reply, err := p.run(ctx, Transcript(history, text))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
	return reply, nil
}

func (p *Ollama) run(ctx context.Context, transcript string) (string, error) {
	cmd := exec.CommandContext(ctx, p.cfg.Binary, "run", p.cfg.Model, transcript)

	var captured bytes.Buffer
	var stderr io.ReadCloser
	switch p.cfg.Mode {
	case ModeInteractive:
		cmd.Stdin = p.cfg.Stdin
		cmd.Stderr = p.cfg.Stderr
		if p.out != nil {
			cmd.Stdout = io.MultiWriter(p.out, &captured)
		} else {
			cmd.Stdout = &captured
		}
	default:
		cmd.Stdout = &captured
		pipe, err := cmd.StderrPipe()
		if err != nil {
			return "", &ProviderError{Kind: LaunchFailed, Provider: p.Name(), Err: fmt.Errorf("failed to get stderr pipe: %w", err)}
		}
		stderr = pipe
	}

	p.ins.logger.Debug("starting model process", "binary", p.cfg.Binary, "model", p.cfg.Model, "prompt_length", len(transcript))

	if err := cmd.Start(); err != nil {
		p.ins.logger.Error("failed to start model process", "binary", p.cfg.Binary, "error", err)
		return "", &ProviderError{Kind: LaunchFailed, Provider: p.Name(), Err: err}
	}

	// stderr must be drained before Wait closes the pipe.
	if stderr != nil {
		p.logStderr(stderr)
	}

	waitErr := cmd.Wait()
	output := strings.TrimRight(captured.String(), "\n")

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", &ProviderError{Kind: TransportFailed, Provider: p.Name(), Err: ctxErr}
		}
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return "", &ProviderError{Kind: TransportFailed, Provider: p.Name(), Err: waitErr}
		}
		p.ins.warnf("%s exited with status %d", p.cfg.Binary, exitErr.ExitCode())
		return output, nil
	}

	if strings.TrimSpace(output) == "" {
		return "", &ProviderError{Kind: EmptyResponse, Provider: p.Name()}
	}
	return output, nil
}

// logStderr reads stderr from the model process and logs it.
func (p *Ollama) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			p.ins.logger.Debug("model stderr", "line", line)
		}
	}
}

// ListOllamaModels returns the names of locally installed models, parsed
// from the first column of `ollama list` after its header row.
func ListOllamaModels(ctx context.Context, binary string) ([]string, error) {
	if binary == "" {
		binary = "ollama"
	}
	out, err := exec.CommandContext(ctx, binary, "list").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s list: %w", binary, err)
	}
	return parseOllamaList(string(out)), nil
}

func parseOllamaList(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) <= 1 {
		return nil
	}

	models := make([]string, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if fields := strings.Fields(line); len(fields) > 0 {
			models = append(models, fields[0])
		}
	}
	return models
}

// ShowOllamaModel returns the first maxLines lines of `ollama show <model>`.
func ShowOllamaModel(ctx context.Context, binary, model string, maxLines int) ([]string, error) {
	if binary == "" {
		binary = "ollama"
	}
	out, err := exec.CommandContext(ctx, binary, "show", model).Output()
	if err != nil {
		return nil, fmt.Errorf("failed to run %s show: %w", binary, err)
	}

	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, strings.TrimRight(line, " \t\r"))
		if maxLines > 0 && len(lines) == maxLines {
			break
		}
	}
	return lines, nil
}
