package stream

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/core"
)

// JSONLSink is a core.StreamSink writing one JSON object per call to an
// io.Writer. It is safe for concurrent use.
type JSONLSink struct {
	mu   sync.Mutex
	enc  *json.Encoder
	done bool
}

var _ core.StreamSink = (*JSONLSink)(nil)

// NewJSONLSink creates a sink writing to w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{enc: json.NewEncoder(w)}
}

type jsonlRecord struct {
	Type      string               `json:"type"`
	Role      string               `json:"role,omitempty"`
	Text      string               `json:"text,omitempty"`
	Kind      string               `json:"kind,omitempty"`
	Data      any                  `json:"data,omitempty"`
	Operation *core.OperationEvent `json:"operation,omitempty"`
	Summary   *core.SummaryEvent   `json:"summary,omitempty"`
	Error     string               `json:"error,omitempty"`
}

func (s *JSONLSink) write(rec jsonlRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	return s.enc.Encode(rec)
}

func (s *JSONLSink) WriteRole(role string) error {
	return s.write(jsonlRecord{Type: "role", Role: role})
}

// StreamText writes text and then waits chunkDelay so consumers observe
// pacing similar to a network stream.
func (s *JSONLSink) StreamText(text string, chunkDelay time.Duration) error {
	if err := s.write(jsonlRecord{Type: "text", Text: text}); err != nil {
		return err
	}
	if chunkDelay > 0 {
		time.Sleep(chunkDelay)
	}
	return nil
}

func (s *JSONLSink) WriteData(kind string, payload any) error {
	return s.write(jsonlRecord{Type: "data", Kind: kind, Data: payload})
}

func (s *JSONLSink) WriteOperation(ev core.OperationEvent) error {
	return s.write(jsonlRecord{Type: "operation", Operation: &ev})
}

func (s *JSONLSink) WriteSummary(ev core.SummaryEvent) error {
	return s.write(jsonlRecord{Type: "summary", Summary: &ev})
}

func (s *JSONLSink) WriteError(message string) error {
	return s.write(jsonlRecord{Type: "error", Error: message})
}

// Complete writes the terminal record; later writes are discarded.
func (s *JSONLSink) Complete() error {
	if err := s.write(jsonlRecord{Type: "complete"}); err != nil {
		return err
	}
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	return nil
}
