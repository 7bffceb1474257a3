package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/testutil"
)

func TestLockedSink_DropsWritesAfterComplete(t *testing.T) {
	rec := testutil.NewRecordingSink()
	s := newLockedSink(rec)

	assert.NoError(t, s.WriteRole(RoleAgent))
	assert.NoError(t, s.StreamText("hi", 0))
	assert.NoError(t, s.Complete())
	assert.NoError(t, s.WriteSummary(core.SummaryEvent{Type: "progress", Label: "late"}))
	assert.NoError(t, s.Complete())

	assert.Equal(t, []string{"role", "text", "complete"}, rec.Methods())
}

func TestLockedSink_ConcurrentWriters(t *testing.T) {
	rec := testutil.NewRecordingSink()
	s := newLockedSink(rec)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WriteSummary(core.SummaryEvent{Type: "progress", Label: "tick"})
			_ = s.StreamText("x", 0)
		}()
	}
	wg.Wait()

	assert.Len(t, rec.Summaries(), 20)
	assert.Len(t, rec.Texts(), 20)
}
