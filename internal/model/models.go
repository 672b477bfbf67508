package model

import "time"

// PriceQuote is a single bid/ask observation for a symbol on one exchange.
// Quotes are immutable; a newer quote for the same (exchange, symbol)
// supersedes the previous one.
type PriceQuote struct {
	Exchange   string    `json:"exchange"`
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	ObservedAt time.Time `json:"observed_at"`
}

// Age returns how old the quote is at the given instant.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// Balance is the cached available amount of one asset on one exchange.
type Balance struct {
	Exchange  string    `json:"exchange"`
	Asset     string    `json:"asset"`
	Available float64   `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrderSide is the side of a market order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus reports how an exchange resolved an order.
type OrderStatus string

const (
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderRejected        OrderStatus = "rejected"
)

// OrderResult is the exchange's report for a placed market order.
type OrderResult struct {
	OrderID        string      `json:"order_id"`
	FilledQuantity float64     `json:"filled_quantity"`
	AvgFillPrice   float64     `json:"avg_fill_price"`
	Status         OrderStatus `json:"status"`
	FeePaid        float64     `json:"fee_paid"`
}

// Opportunity is a detected cross-exchange price difference for one symbol.
// Opportunities are transient: the detector recomputes the full set every
// cycle and nothing is carried over once the underlying quotes refresh.
type Opportunity struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	BuyExchange   string    `json:"buy_exchange"`
	SellExchange  string    `json:"sell_exchange"`
	BuyPrice      float64   `json:"buy_price"`
	SellPrice     float64   `json:"sell_price"`
	Quantity      float64   `json:"quantity"`
	GrossSpread   float64   `json:"gross_spread"`
	EstimatedFees float64   `json:"estimated_fees"`
	NetProfit     float64   `json:"net_profit"`
	DetectedAt    time.Time `json:"detected_at"`
	InCooldown    bool      `json:"in_cooldown"`
}

// Trigger records what initiated a trade attempt.
type Trigger string

const (
	TriggerAuto   Trigger = "auto"
	TriggerManual Trigger = "manual"
)

// AttemptStatus is the status of a TradeAttempt.
type AttemptStatus string

const (
	AttemptPending         AttemptStatus = "pending"
	AttemptFilled          AttemptStatus = "filled"
	AttemptPartiallyFilled AttemptStatus = "partially_filled"
	AttemptFailed          AttemptStatus = "failed"
	// AttemptSkipped marks an attempt whose reservation was denied because
	// the symbol already had a trade in flight. Expected contention, not an
	// error.
	AttemptSkipped AttemptStatus = "skipped"
)

// TradeAttempt is the record of one execution attempt, created when execution
// begins and immutable once completed. Appended to the trade log.
type TradeAttempt struct {
	ID          string        `json:"id"`
	Opportunity Opportunity   `json:"opportunity"`
	Trigger     Trigger       `json:"trigger"`
	Status      AttemptStatus `json:"status"`
	BuyResult   *OrderResult  `json:"buy_result,omitempty"`
	SellResult  *OrderResult  `json:"sell_result,omitempty"`
	// RealizedProfit is computed from actual fill prices and reported fees,
	// not from the opportunity snapshot estimate.
	RealizedProfit float64 `json:"realized_profit"`
	// ExposedPosition is set when the buy leg filled but the sell leg did
	// not, leaving unhedged inventory. No automatic unwind is attempted.
	ExposedPosition bool      `json:"exposed_position"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}
