package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentgraph/core"
)

// ConversationBuilder helps construct conversation histories for tests.
// Example:
//
//	msgs := NewConversationBuilder("conv-1").User("hi").Agent("router", "hello").Build()
type ConversationBuilder struct {
	id       string
	start    time.Time
	messages []core.Message
}

// NewConversationBuilder creates a new builder for the conversation id.
func NewConversationBuilder(id string) *ConversationBuilder {
	return &ConversationBuilder{id: id, start: time.Now().Add(-time.Hour)}
}

// User appends a user message (chainable).
func (b *ConversationBuilder) User(text string) *ConversationBuilder {
	return b.add("user", "", text)
}

// Agent appends an agent message (chainable).
func (b *ConversationBuilder) Agent(agentID, text string) *ConversationBuilder {
	return b.add("agent", agentID, text)
}

func (b *ConversationBuilder) add(role, agentID, text string) *ConversationBuilder {
	n := len(b.messages)
	b.messages = append(b.messages, core.Message{
		ID:             fmt.Sprintf("%s-msg-%d", b.id, n),
		ConversationID: b.id,
		Role:           role,
		AgentID:        agentID,
		Text:           text,
		Parts:          []core.Part{core.TextPart{Text: text}},
		CreatedAt:      b.start.Add(time.Duration(n) * time.Second),
	})
	return b
}

// Build returns a copy of the messages in chronological order.
func (b *ConversationBuilder) Build() []core.Message {
	return append([]core.Message(nil), b.messages...)
}

// Seed writes the messages to store.
func (b *ConversationBuilder) Seed(ctx context.Context, store core.ConversationStore) error {
	for i := range b.messages {
		m := b.messages[i]
		if err := store.CreateMessage(ctx, &m); err != nil {
			return err
		}
	}
	return nil
}
