package arbitrage

import (
	"sync"

	"crossarb/internal/model"
)

// Book holds the current cycle's opportunity set. Each detection cycle
// replaces it wholesale; nothing is carried over once quotes refresh.
type Book struct {
	mu   sync.RWMutex
	opps []model.Opportunity
	byID map[string]model.Opportunity
}

// NewBook creates an empty opportunity book.
func NewBook() *Book {
	return &Book{byID: make(map[string]model.Opportunity)}
}

// Replace swaps in a fresh opportunity set.
func (b *Book) Replace(opps []model.Opportunity) {
	byID := make(map[string]model.Opportunity, len(opps))
	for _, o := range opps {
		byID[o.ID] = o
	}
	b.mu.Lock()
	b.opps = opps
	b.byID = byID
	b.mu.Unlock()
}

// Current returns a read-only snapshot of the current set.
func (b *Book) Current() []model.Opportunity {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Opportunity, len(b.opps))
	copy(out, b.opps)
	return out
}

// Get looks up an opportunity by ID. A miss means the opportunity is not in
// the current cycle anymore.
func (b *Book) Get(id string) (model.Opportunity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.byID[id]
	return o, ok
}
