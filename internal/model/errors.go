package model

import "errors"

// Failure taxonomy for the trading core. Callers match with errors.Is.
var (
	// ErrQuoteUnavailable means a symbol has no fresh quote on one or both
	// exchanges. Excludes the symbol from detection; never fatal.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrInsufficientBalance means the advisory pre-check against the cached
	// balance failed. The trade is skipped without reserving the symbol; the
	// exchange remains authoritative for whether an order can actually fill.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOrderRejected means the exchange declined an order leg.
	ErrOrderRejected = errors.New("order rejected")

	// ErrPartialFillBelowTolerance means a leg filled, but for less than the
	// configured acceptable fraction of the requested quantity.
	ErrPartialFillBelowTolerance = errors.New("partial fill below tolerance")

	// ErrDuplicateReservation means the symbol already has a trade in flight.
	// Expected contention, reported at info level.
	ErrDuplicateReservation = errors.New("symbol already reserved")

	// ErrExchangeUnreachable means a quote or balance fetch failed at the
	// transport level. Refreshes retry with backoff; stale data is excluded
	// from detection in the meantime.
	ErrExchangeUnreachable = errors.New("exchange unreachable")

	// ErrOpportunityNotFound means a manual execution referenced an
	// opportunity that is no longer in the current detection cycle.
	ErrOpportunityNotFound = errors.New("opportunity not found")
)
