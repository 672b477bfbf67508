package arbitrage

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"crossarb/internal/model"
)

// Detector computes fee-aware arbitrage opportunities from quote pairs.
// It is a pure function of (quotes, sizing policy, fee config, threshold);
// fee rates and the threshold are injected, never hidden constants.
type Detector struct {
	logger    *slog.Logger
	sizer     *Sizer
	feeRates  map[string]float64 // exchange name -> taker fee rate
	threshold float64
}

// NewDetector creates a detector with the given sizing policy, per-exchange
// taker fee rates, and minimum net-profit threshold.
func NewDetector(logger *slog.Logger, sizer *Sizer, feeRates map[string]float64, threshold float64) *Detector {
	return &Detector{
		logger:    logger.With(slog.String("component", "detector")),
		sizer:     sizer,
		feeRates:  feeRates,
		threshold: threshold,
	}
}

// Detect evaluates both trade directions for every symbol and returns at
// most one opportunity per symbol: the direction with the higher net profit,
// and only when that profit exceeds the threshold. The result fully replaces
// the previous cycle's set; results are sorted by net profit descending.
func (d *Detector) Detect(pairs map[string][2]model.PriceQuote, now time.Time) []model.Opportunity {
	opportunities := make([]model.Opportunity, 0, len(pairs))
	for symbol, pair := range pairs {
		forward, okF := d.candidate(symbol, pair[0], pair[1], now)
		reverse, okR := d.candidate(symbol, pair[1], pair[0], now)

		switch {
		case okF && okR:
			if reverse.NetProfit > forward.NetProfit {
				forward = reverse
			}
		case okR:
			forward = reverse
		case !okF:
			continue
		}
		opportunities = append(opportunities, forward)
	}

	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].NetProfit > opportunities[j].NetProfit
	})
	return opportunities
}

// candidate prices one direction: buy at the ask on one venue, sell at the
// bid on the other. Quantity comes from the buy price, the lower of the two
// prices in any direction that can qualify.
func (d *Detector) candidate(symbol string, buy, sell model.PriceQuote, now time.Time) (model.Opportunity, bool) {
	buyPrice := buy.Ask
	sellPrice := sell.Bid

	quantity, err := d.sizer.QuantityFor(buyPrice)
	if err != nil {
		return model.Opportunity{}, false
	}

	gross := (sellPrice - buyPrice) * quantity
	fees := buyPrice*quantity*d.feeRates[buy.Exchange] + sellPrice*quantity*d.feeRates[sell.Exchange]
	net := gross - fees
	if net <= d.threshold {
		return model.Opportunity{}, false
	}

	d.logger.Debug("opportunity candidate qualifies",
		"symbol", symbol,
		"buyExchange", buy.Exchange,
		"sellExchange", sell.Exchange,
		"netProfit", net,
	)
	return model.Opportunity{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		BuyExchange:   buy.Exchange,
		SellExchange:  sell.Exchange,
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		Quantity:      quantity,
		GrossSpread:   gross,
		EstimatedFees: fees,
		NetProfit:     net,
		DetectedAt:    now,
	}, true
}
