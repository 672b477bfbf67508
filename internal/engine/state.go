package engine

import (
	"sync"
	"time"
)

// State is the process-wide engine state: the auto-trading flag, the
// in-flight symbol set, and per-symbol cooldowns. One mutex guards all of
// it; Reserve is the atomic test-and-set that keeps at most one trade in
// flight per symbol under concurrent triggers.
type State struct {
	mu          sync.Mutex
	autoTrading bool
	inFlight    map[string]struct{}
	cooldowns   map[string]time.Time
}

// NewState creates the initial engine state: auto-trading disabled, nothing
// in flight.
func NewState() *State {
	return &State{
		inFlight:  make(map[string]struct{}),
		cooldowns: make(map[string]time.Time),
	}
}

// SetAutoTrading toggles the auto-trading flag. Turning it off stops new
// auto-triggered reservations immediately but never aborts an attempt that
// is already past reservation.
func (s *State) SetAutoTrading(enabled bool) {
	s.mu.Lock()
	s.autoTrading = enabled
	s.mu.Unlock()
}

// AutoTradingEnabled reports the current flag.
func (s *State) AutoTradingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoTrading
}

// Reserve claims exclusive execution rights over a symbol. It returns false
// when the symbol already has a trade in flight.
func (s *State) Reserve(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.inFlight[symbol]; taken {
		return false
	}
	s.inFlight[symbol] = struct{}{}
	return true
}

// Release frees a symbol. Called exactly once per successful reservation,
// before the trade attempt record is finalized.
func (s *State) Release(symbol string) {
	s.mu.Lock()
	delete(s.inFlight, symbol)
	s.mu.Unlock()
}

// InFlightCount returns the number of symbols currently reserved.
func (s *State) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// IsInFlight reports whether a symbol is currently reserved.
func (s *State) IsInFlight(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, taken := s.inFlight[symbol]
	return taken
}

// StartCooldown blocks auto triggers for the symbol for the given duration.
func (s *State) StartCooldown(symbol string, d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.cooldowns[symbol] = time.Now().Add(d)
	s.mu.Unlock()
}

// InCooldown reports whether the symbol's cooldown is still running.
func (s *State) InCooldown(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.cooldowns[symbol]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(s.cooldowns, symbol)
		return false
	}
	return true
}
