package testutil

import (
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/core"
)

// SinkCall is one recorded StreamSink invocation.
type SinkCall struct {
	Method    string
	Text      string
	Kind      string
	Payload   any
	Operation core.OperationEvent
	Summary   core.SummaryEvent
}

// RecordingSink is a core.StreamSink that records every call in order. It is
// safe for concurrent use because status updates arrive from background
// goroutines.
type RecordingSink struct {
	mu    sync.Mutex
	calls []SinkCall
}

var _ core.StreamSink = (*RecordingSink)(nil)

// NewRecordingSink creates an empty RecordingSink.
func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

func (s *RecordingSink) record(c SinkCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	return nil
}

func (s *RecordingSink) WriteRole(role string) error {
	return s.record(SinkCall{Method: "role", Text: role})
}

func (s *RecordingSink) StreamText(text string, _ time.Duration) error {
	return s.record(SinkCall{Method: "text", Text: text})
}

func (s *RecordingSink) WriteData(kind string, payload any) error {
	return s.record(SinkCall{Method: "data", Kind: kind, Payload: payload})
}

func (s *RecordingSink) WriteOperation(ev core.OperationEvent) error {
	return s.record(SinkCall{Method: "operation", Operation: ev})
}

func (s *RecordingSink) WriteSummary(ev core.SummaryEvent) error {
	return s.record(SinkCall{Method: "summary", Summary: ev})
}

func (s *RecordingSink) WriteError(message string) error {
	return s.record(SinkCall{Method: "error", Text: message})
}

func (s *RecordingSink) Complete() error {
	return s.record(SinkCall{Method: "complete"})
}

// Calls returns a copy of the recorded calls.
func (s *RecordingSink) Calls() []SinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SinkCall(nil), s.calls...)
}

// Methods returns the recorded method names in order.
func (s *RecordingSink) Methods() []string {
	var out []string
	for _, c := range s.Calls() {
		out = append(out, c.Method)
	}
	return out
}

// Texts returns the streamed text chunks in order.
func (s *RecordingSink) Texts() []string {
	var out []string
	for _, c := range s.Calls() {
		if c.Method == "text" {
			out = append(out, c.Text)
		}
	}
	return out
}

// Data returns the recorded data writes in order.
func (s *RecordingSink) Data() []SinkCall {
	return s.filter("data")
}

// Operations returns the recorded operation events in order.
func (s *RecordingSink) Operations() []core.OperationEvent {
	var out []core.OperationEvent
	for _, c := range s.filter("operation") {
		out = append(out, c.Operation)
	}
	return out
}

// Summaries returns the recorded status updates in order.
func (s *RecordingSink) Summaries() []core.SummaryEvent {
	var out []core.SummaryEvent
	for _, c := range s.filter("summary") {
		out = append(out, c.Summary)
	}
	return out
}

// Errors returns the recorded error messages in order.
func (s *RecordingSink) Errors() []string {
	var out []string
	for _, c := range s.filter("error") {
		out = append(out, c.Text)
	}
	return out
}

// Completed reports whether Complete was called.
func (s *RecordingSink) Completed() bool {
	return len(s.filter("complete")) > 0
}

func (s *RecordingSink) filter(method string) []SinkCall {
	var out []SinkCall
	for _, c := range s.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}
