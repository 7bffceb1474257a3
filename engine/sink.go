package engine

import (
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/core"
)

// lockedSink serializes writes from the turn loop and the ledger's
// background status updates. Writes after Complete are discarded.
type lockedSink struct {
	mu   sync.Mutex
	sink core.StreamSink
	done bool
}

var _ core.StreamSink = (*lockedSink)(nil)

func newLockedSink(s core.StreamSink) *lockedSink {
	return &lockedSink{sink: s}
}

func (s *lockedSink) do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	return fn()
}

func (s *lockedSink) WriteRole(role string) error {
	return s.do(func() error { return s.sink.WriteRole(role) })
}

func (s *lockedSink) StreamText(text string, delay time.Duration) error {
	return s.do(func() error { return s.sink.StreamText(text, delay) })
}

func (s *lockedSink) WriteData(kind string, payload any) error {
	return s.do(func() error { return s.sink.WriteData(kind, payload) })
}

func (s *lockedSink) WriteOperation(ev core.OperationEvent) error {
	return s.do(func() error { return s.sink.WriteOperation(ev) })
}

func (s *lockedSink) WriteSummary(ev core.SummaryEvent) error {
	return s.do(func() error { return s.sink.WriteSummary(ev) })
}

func (s *lockedSink) WriteError(message string) error {
	return s.do(func() error { return s.sink.WriteError(message) })
}

func (s *lockedSink) Complete() error {
	return s.do(func() error {
		s.done = true
		return s.sink.Complete()
	})
}
