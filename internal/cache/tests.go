// Package cache holds the in-memory snapshot of static test definitions.
// Static tests are read from disk at startup (and on demand after bank
// changes); the snapshot is replaced wholesale, never mutated in place.
package cache

import (
	"sort"
	"sync"

	"github.com/quizforge/quizforge/internal/quiz"
)

type Tests struct {
	mu    sync.RWMutex
	byID  map[string]quiz.Test
	order []string
}

func NewTests() *Tests {
	return &Tests{byID: map[string]quiz.Test{}}
}

// Replace swaps the whole snapshot. Callers pass the full set; a test absent
// from the new set is gone.
func (c *Tests) Replace(tests []quiz.Test) {
	byID := make(map[string]quiz.Test, len(tests))
	order := make([]string, 0, len(tests))
	for _, t := range tests {
		if _, dup := byID[t.ID]; dup {
			continue
		}
		byID[t.ID] = t
		order = append(order, t.ID)
	}
	sort.Strings(order)

	c.mu.Lock()
	c.byID = byID
	c.order = order
	c.mu.Unlock()
}

func (c *Tests) Get(id string) (quiz.Test, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.byID[id]
	return t, ok
}

// List returns test metadata without question bodies, in stable ID order.
func (c *Tests) List() []quiz.Test {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]quiz.Test, 0, len(c.order))
	for _, id := range c.order {
		t := c.byID[id]
		t.Questions = nil
		out = append(out, t)
	}
	return out
}

func (c *Tests) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
