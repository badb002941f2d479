package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"yo/internal/stream"
	"yo/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// maxErrorBody caps how much of a rejected response body is kept.
const maxErrorBody = 4 << 10

// OpenAIRequest represents the request body for the chat completions API
type OpenAIRequest struct {
	Model    string `json:"model"`
	Messages []Turn `json:"messages"`
	Stream   bool   `json:"stream"`
}

// OpenAIConfig configures the remote streaming provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // e.g. https://api.openai.com/v1
	Model   string

	// HTTPClient defaults to a client without a global timeout, since a
	// streamed reply can legitimately take minutes.
	HTTPClient *http.Client
}

// OpenAI streams replies from an OpenAI-compatible chat completions API.
type OpenAI struct {
	cfg OpenAIConfig
	out io.Writer
	ins instruments
}

// NewOpenAI creates the remote streaming provider.
func NewOpenAI(cfg OpenAIConfig, opts Options) *OpenAI {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OpenAI{
		cfg: cfg,
		out: opts.Out,
		ins: newInstruments(opts, "openai"),
	}
}

func (p *OpenAI) Kind() Kind   { return KindRemoteStreaming }
func (p *OpenAI) Name() string { return "openai" }
func (p *OpenAI) provider()    {}

// Model returns the model the provider asks for.
func (p *OpenAI) Model() string { return p.cfg.Model }

// Respond sends history followed by text as a user turn and streams the
// reply. Deltas are written to the output writer as they arrive.
func (p *OpenAI) Respond(ctx context.Context, history []Turn, text string) (string, error) {
	ctx, span := p.ins.tracer.Start(ctx, "openai_api_call")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", p.cfg.Model),
		attribute.Int("llm.history_turns", len(history)),
	)

	start := time.Now()
	defer p.ins.recordDuration(ctx, p.Name(), start)

	reply, err := p.respond(ctx, history, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))
	return reply, nil
}

func (p *OpenAI) respond(ctx context.Context, history []Turn, text string) (string, error) {
	messages := make([]Turn, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, Turn{Role: "user", Content: text})

	reqBody := OpenAIRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	p.ins.logger.Debug("sending request", "model", p.cfg.Model, "messages", len(messages))
	p.ins.logger.Log(ctx, telemetry.LevelTrace, "request body", "body", string(jsonData))

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &ProviderError{Kind: TransportFailed, Provider: p.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		p.ins.logger.Error("request rejected", "status", resp.StatusCode, "body", string(body))
		return "", &ProviderError{
			Kind:     RemoteRejected,
			Provider: p.Name(),
			Status:   resp.StatusCode,
			Body:     string(body),
		}
	}

	return p.consume(ctx, resp.Body)
}

// consume drains the event stream, echoing deltas and joining them.
func (p *OpenAI) consume(ctx context.Context, body io.Reader) (string, error) {
	var reply strings.Builder
	var deltas int64

	in := stream.NewIngestor()
	for ev, err := range in.Stream(body) {
		if err != nil {
			p.recordStream(ctx, deltas, in.Dropped())
			if deltas > 0 && p.out != nil {
				fmt.Fprintln(p.out)
			}
			return "", &ProviderError{Kind: TransportFailed, Provider: p.Name(), Err: err}
		}
		switch ev.Kind {
		case stream.EventDelta:
			deltas++
			reply.WriteString(ev.Text)
			if p.out != nil {
				fmt.Fprint(p.out, ev.Text)
			}
		case stream.EventWarning:
			p.ins.warnf("%s", ev.Text)
		case stream.EventDone:
			p.ins.logger.Debug("stream completed", "deltas", deltas)
		}
	}
	p.recordStream(ctx, deltas, in.Dropped())

	if !in.Done() {
		p.ins.logger.Debug("stream closed without completion sentinel", "deltas", deltas)
	}
	if dropped := in.Dropped(); dropped > 0 {
		p.ins.logger.Debug("dropped undecodable frames", "count", dropped)
	}

	if deltas == 0 {
		return "", &ProviderError{Kind: EmptyResponse, Provider: p.Name()}
	}
	if p.out != nil {
		fmt.Fprintln(p.out)
	}
	return reply.String(), nil
}

func (p *OpenAI) recordStream(ctx context.Context, deltas int64, dropped int) {
	if p.ins.deltas != nil {
		p.ins.deltas.Add(ctx, deltas)
	}
	if p.ins.dropped != nil && dropped > 0 {
		p.ins.dropped.Add(ctx, int64(dropped))
	}
}
