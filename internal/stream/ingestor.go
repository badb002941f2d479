// Package stream turns the chunked body of a streaming chat-completion
// response into ordered events.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"
)

// DoneSentinel is the payload that marks the logical end of a stream.
const DoneSentinel = "[DONE]"

// EventKind identifies what an Event carries.
type EventKind int

const (
	// EventDelta carries a fragment of assistant output.
	EventDelta EventKind = iota
	// EventWarning carries a line the server sent outside the data framing,
	// typically an error message.
	EventWarning
	// EventDone marks the completion sentinel. It is emitted at most once.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventWarning:
		return "warning"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is one item produced by the Ingestor.
type Event struct {
	Kind EventKind
	Text string
}

// Chunk is the subset of an OpenAI chat-completion stream chunk the
// ingestor reads.
type Chunk struct {
	ID      string `json:"id,omitempty"`
	Model   string `json:"model,omitempty"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string  `json:"role,omitempty"`
			Content *string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

// Content returns the delta content of the first choice.
func (c *Chunk) Content() (string, bool) {
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return "", false
	}
	return *c.Choices[0].Delta.Content, true
}

// Ingestor is an incremental SSE line parser. Bytes are buffered across
// Feed calls and only complete lines are interpreted, so network chunk
// boundaries and split UTF-8 sequences never reach the decoder.
//
// An Ingestor is not safe for concurrent use.
type Ingestor struct {
	buf     []byte
	done    bool
	dropped int
}

// NewIngestor returns an empty Ingestor.
func NewIngestor() *Ingestor {
	return &Ingestor{}
}

// Feed appends chunk to the buffer and returns the events for every line
// it completes. A trailing partial line is kept for the next call.
func (in *Ingestor) Feed(chunk []byte) []Event {
	in.buf = append(in.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(in.buf, '\n')
		if i < 0 {
			break
		}
		events = in.processLine(in.buf[:i], events)
		in.buf = in.buf[i+1:]
	}

	// Compact so a long stream does not pin its whole history.
	if len(in.buf) == 0 {
		in.buf = nil
	} else if cap(in.buf) > 2*len(in.buf)+4096 {
		in.buf = append([]byte(nil), in.buf...)
	}
	return events
}

// Finish interprets whatever remains in the buffer as a final line. It is
// called when the transport closes, and never synthesizes EventDone.
func (in *Ingestor) Finish() []Event {
	if len(in.buf) == 0 {
		return nil
	}
	events := in.processLine(in.buf, nil)
	in.buf = nil
	return events
}

// Done reports whether the completion sentinel has been seen.
func (in *Ingestor) Done() bool {
	return in.done
}

// Dropped returns the number of data lines that could not be decoded.
func (in *Ingestor) Dropped() int {
	return in.dropped
}

// Buffered returns the number of bytes held for an incomplete line.
func (in *Ingestor) Buffered() int {
	return len(in.buf)
}

func (in *Ingestor) processLine(raw []byte, events []Event) []Event {
	line := string(bytes.TrimSuffix(raw, []byte{'\r'}))
	if strings.TrimSpace(line) == "" {
		return events
	}

	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		if isFraming(line) {
			return events
		}
		return append(events, Event{Kind: EventWarning, Text: line})
	}
	payload = strings.TrimPrefix(payload, " ")

	if strings.TrimSpace(payload) == DoneSentinel {
		if in.done {
			return events
		}
		in.done = true
		return append(events, Event{Kind: EventDone})
	}
	if in.done {
		return events
	}

	var chunk Chunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		in.dropped++
		return events
	}
	if content, ok := chunk.Content(); ok && content != "" {
		events = append(events, Event{Kind: EventDelta, Text: content})
	}
	return events
}

// isFraming reports whether a non-data line is an SSE comment or field
// that carries no diagnostic text.
func isFraming(line string) bool {
	if strings.HasPrefix(line, ":") {
		return true
	}
	for _, field := range []string{"event:", "id:", "retry:"} {
		if strings.HasPrefix(line, field) {
			return true
		}
	}
	return false
}

const readSize = 4096

// Events reads r to EOF and yields the events of a fresh Ingestor in order.
// A read error other than io.EOF is yielded once and ends the sequence.
func Events(r io.Reader) iter.Seq2[Event, error] {
	return NewIngestor().Stream(r)
}

// Stream is like Events but feeds the receiver, so Done and Dropped can be
// inspected once the sequence ends.
func (in *Ingestor) Stream(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		buf := make([]byte, readSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, ev := range in.Feed(buf[:n]) {
					if !yield(ev, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				for _, ev := range in.Finish() {
					if !yield(ev, nil) {
						return
					}
				}
				return
			}
			if err != nil {
				yield(Event{}, err)
				return
			}
		}
	}
}
