package core

import (
	"fmt"
	"sync"
)

// Budget counts failures (or hops) against a fixed limit.
type Budget struct {
	name  string
	max   int
	count int
	mu    sync.Mutex
}

// NewBudget creates a budget allowing max occurrences. If max == 0 the
// budget is unlimited.
func NewBudget(name string, max int) *Budget {
	return &Budget{name: name, max: max}
}

// Increment records one occurrence and returns an error once the count has
// reached the limit.
func (b *Budget) Increment() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
	if b.max > 0 && b.count >= b.max {
		return fmt.Errorf("%s budget exhausted: %d/%d", b.name, b.count, b.max)
	}

	return nil
}

// Count returns the current number of occurrences.
func (b *Budget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many occurrences are left before the limit is hit.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max == 0 {
		return -1 // unlimited
	}

	return b.max - b.count
}
