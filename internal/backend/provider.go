package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Kind tells the two provider variants apart.
type Kind int

const (
	// KindRemoteStreaming is an HTTP API that streams server-sent events.
	KindRemoteStreaming Kind = iota
	// KindLocalProcess is a model run as a local subprocess.
	KindLocalProcess
)

func (k Kind) String() string {
	switch k {
	case KindRemoteStreaming:
		return "remote-streaming"
	case KindLocalProcess:
		return "local-process"
	default:
		return "unknown"
	}
}

// Turn is one prior message handed to a provider as context.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider produces the assistant reply for a question given prior turns.
// The only implementations are *OpenAI and *Ollama.
type Provider interface {
	Kind() Kind
	Name() string
	Model() string
	Respond(ctx context.Context, history []Turn, text string) (string, error)

	provider()
}

// ErrorKind classifies a ProviderError.
type ErrorKind int

const (
	// RemoteRejected means the remote API answered with a non-2xx status.
	RemoteRejected ErrorKind = iota
	// EmptyResponse means the provider finished without producing content.
	EmptyResponse
	// LaunchFailed means the local model process could not be started.
	LaunchFailed
	// TransportFailed means the connection or process broke mid-call.
	TransportFailed
)

func (k ErrorKind) String() string {
	switch k {
	case RemoteRejected:
		return "remote rejected"
	case EmptyResponse:
		return "empty response"
	case LaunchFailed:
		return "launch failed"
	case TransportFailed:
		return "transport failed"
	default:
		return "unknown"
	}
}

// ProviderError is returned by Provider.Respond.
type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Status   int    // HTTP status for RemoteRejected
	Body     string // response body for RemoteRejected, truncated
	Err      error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Kind == RemoteRejected:
		return fmt.Sprintf("%s: API error: %d %s - %s", e.Provider, e.Status, http.StatusText(e.Status), e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Options carries the collaborators shared by both provider variants.
// Zero values fall back to sensible defaults.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter

	// Out receives reply text as it is produced. A nil Out captures the
	// reply without displaying it.
	Out io.Writer
	// Warn receives diagnostics meant for the user. Defaults to os.Stderr.
	Warn io.Writer
}

// instruments holds the logger, tracer and metric instruments of one
// provider instance.
type instruments struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	duration metric.Float64Histogram
	deltas   metric.Int64Counter
	dropped  metric.Int64Counter
	warn     io.Writer
}

func newInstruments(opts Options, name string) instruments {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("yo")
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("yo")
	}
	warn := opts.Warn
	if warn == nil {
		warn = os.Stderr
	}

	ins := instruments{
		logger: logger.With("component", "provider", "provider", name),
		tracer: tracer,
		warn:   warn,
	}

	var err error
	ins.duration, err = meter.Float64Histogram(
		"yo.provider.duration",
		metric.WithDescription("Provider call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		ins.logger.Warn("failed to create histogram", "error", err)
	}
	ins.deltas, err = meter.Int64Counter(
		"yo.stream.deltas",
		metric.WithDescription("Content deltas received from streaming providers"),
	)
	if err != nil {
		ins.logger.Warn("failed to create counter", "name", "yo.stream.deltas", "error", err)
	}
	ins.dropped, err = meter.Int64Counter(
		"yo.stream.dropped_frames",
		metric.WithDescription("Streamed data frames that could not be decoded"),
	)
	if err != nil {
		ins.logger.Warn("failed to create counter", "name", "yo.stream.dropped_frames", "error", err)
	}
	return ins
}

func (ins instruments) recordDuration(ctx context.Context, name string, start time.Time) {
	if ins.duration == nil {
		return
	}
	ins.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("provider", name)))
}

func (ins instruments) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	ins.logger.Warn(msg)
	fmt.Fprintln(ins.warn, "warning: "+msg)
}

// Transcript flattens prior turns and the new question into the plain
// text prompt a local model receives: one "role: content" line per turn,
// then "user: <text>".
func Transcript(turns []Turn, text string) string {
	var sb strings.Builder
	for _, turn := range turns {
		sb.WriteString(turn.Role)
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("user: ")
	sb.WriteString(text)
	return sb.String()
}
