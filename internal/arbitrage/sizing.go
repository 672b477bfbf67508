package arbitrage

import (
	"fmt"
	"sort"

	"crossarb/internal/config"
)

// Sizer resolves a trade quantity from a price using the configured
// brackets. Brackets are closed on the lower bound and open on the upper
// bound, so the boundary price belongs to the bracket starting at it.
type Sizer struct {
	brackets []config.SizeBracket // sorted ascending by MinPrice
}

// NewSizer validates the brackets and returns a sizer. Malformed brackets
// (gaps, overlaps, non-positive quantities) are a configuration error.
func NewSizer(brackets []config.SizeBracket) (*Sizer, error) {
	if err := config.ValidateBrackets(brackets); err != nil {
		return nil, err
	}
	sorted := make([]config.SizeBracket, len(brackets))
	copy(sorted, brackets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinPrice < sorted[j].MinPrice })
	return &Sizer{brackets: sorted}, nil
}

// QuantityFor returns the trade quantity for the given price. Non-positive
// prices are rejected; any positive price resolves to exactly one bracket.
func (s *Sizer) QuantityFor(price float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("non-positive price: %v", price)
	}
	for _, b := range s.brackets {
		if price < b.MinPrice {
			break
		}
		if b.MaxPrice == 0 || price < b.MaxPrice {
			return b.Quantity, nil
		}
	}
	// Unreachable with validated brackets.
	return 0, fmt.Errorf("no bracket for price %v", price)
}
