package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crossarb/internal/config"
	"crossarb/internal/model"
)

const okxDefaultBaseURL = "https://www.okx.com"

// OKXClient implements the Client interface for OKX spot.
type OKXClient struct {
	logger     *slog.Logger
	cfg        config.ExchangeConfig
	quoteAsset string
	httpClient *http.Client
	baseURL    string
}

// NewOKXClient creates a new OKXClient.
func NewOKXClient(logger *slog.Logger, cfg config.ExchangeConfig, quoteAsset string) *OKXClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = okxDefaultBaseURL
	}
	return &OKXClient{
		logger:     logger,
		cfg:        cfg,
		quoteAsset: quoteAsset,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

func (o *OKXClient) Name() string {
	return "okx"
}

func (o *OKXClient) instrument(symbol string) string {
	return symbol + "-" + o.quoteAsset
}

// sign produces the base64 HMAC-SHA256 signature OKX expects over
// timestamp + method + requestPath + body.
func (o *OKXClient) sign(timestamp, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(o.cfg.APISecret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (o *OKXClient) authHeaders(req *http.Request, method, requestPath, body string) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("OK-ACCESS-KEY", o.cfg.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", o.sign(timestamp, method, requestPath, body))
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", o.cfg.Passphrase)
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.DemoTrading {
		req.Header.Set("x-simulated-trading", "1")
	}
}

// okxEnvelope is the common OKX response wrapper; code "0" means success.
type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type okxTicker struct {
	InstID string `json:"instId"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
}

// GetQuote fetches the best bid/ask for a single symbol.
func (o *OKXClient) GetQuote(ctx context.Context, symbol string) (model.PriceQuote, error) {
	path := "/api/v5/market/ticker?instId=" + o.instrument(symbol)
	var tickers []okxTicker
	if err := o.do(ctx, http.MethodGet, path, "", false, &tickers); err != nil {
		return model.PriceQuote{}, err
	}
	if len(tickers) == 0 {
		return model.PriceQuote{}, fmt.Errorf("%w: okx: no ticker for %s", model.ErrQuoteUnavailable, symbol)
	}
	return o.toQuote(symbol, tickers[0])
}

// GetQuotes fetches best bid/ask for every spot instrument in the quote asset.
func (o *OKXClient) GetQuotes(ctx context.Context) ([]model.PriceQuote, error) {
	var tickers []okxTicker
	if err := o.do(ctx, http.MethodGet, "/api/v5/market/tickers?instType=SPOT", "", false, &tickers); err != nil {
		return nil, err
	}

	suffix := "-" + o.quoteAsset
	quotes := make([]model.PriceQuote, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.InstID, suffix) {
			continue
		}
		symbol := strings.TrimSuffix(t.InstID, suffix)
		q, err := o.toQuote(symbol, t)
		if err != nil {
			o.logger.Warn("OKXClient: skipping unparseable ticker", "instId", t.InstID, "error", err)
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (o *OKXClient) toQuote(symbol string, t okxTicker) (model.PriceQuote, error) {
	bid, err := strconv.ParseFloat(t.BidPx, 64)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("parse bid %q: %w", t.BidPx, err)
	}
	ask, err := strconv.ParseFloat(t.AskPx, 64)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("parse ask %q: %w", t.AskPx, err)
	}
	return model.PriceQuote{
		Exchange:   o.Name(),
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		ObservedAt: time.Now(),
	}, nil
}

// GetBalance fetches the available amount of one asset.
func (o *OKXClient) GetBalance(ctx context.Context, asset string) (model.Balance, error) {
	var accounts []struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailBal string `json:"availBal"`
		} `json:"details"`
	}
	if err := o.do(ctx, http.MethodGet, "/api/v5/account/balance", "", true, &accounts); err != nil {
		return model.Balance{}, err
	}

	for _, account := range accounts {
		for _, d := range account.Details {
			if d.Ccy != asset {
				continue
			}
			avail, err := strconv.ParseFloat(d.AvailBal, 64)
			if err != nil {
				return model.Balance{}, fmt.Errorf("parse balance %q: %w", d.AvailBal, err)
			}
			return model.Balance{Exchange: o.Name(), Asset: asset, Available: avail, UpdatedAt: time.Now()}, nil
		}
	}
	return model.Balance{Exchange: o.Name(), Asset: asset, UpdatedAt: time.Now()}, nil
}

// PlaceMarketOrder places a spot market order and then fetches the order
// details for the actual fill, since OKX acknowledges market orders before
// reporting fills.
func (o *OKXClient) PlaceMarketOrder(ctx context.Context, symbol string, side model.OrderSide, quantity float64) (model.OrderResult, error) {
	order := map[string]string{
		"instId":  o.instrument(symbol),
		"tdMode":  "cash",
		"side":    strings.ToLower(string(side)),
		"ordType": "market",
		"sz":      strconv.FormatFloat(quantity, 'f', -1, 64),
	}
	// Market buys are sized in base units, matching the sell leg.
	if side == model.SideBuy {
		order["tgtCcy"] = "base_ccy"
	}
	body, err := json.Marshal(order)
	if err != nil {
		return model.OrderResult{}, err
	}

	var placed []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := o.do(ctx, http.MethodPost, "/api/v5/trade/order", string(body), true, &placed); err != nil {
		return model.OrderResult{}, err
	}
	if len(placed) == 0 {
		return model.OrderResult{}, fmt.Errorf("%w: okx: empty order response", model.ErrOrderRejected)
	}
	if placed[0].SCode != "0" {
		return model.OrderResult{Status: model.OrderRejected},
			fmt.Errorf("%w: okx: %s", model.ErrOrderRejected, placed[0].SMsg)
	}

	return o.fetchFill(ctx, symbol, placed[0].OrdID)
}

// fetchFill polls the order details endpoint until the order leaves the live
// state or the context expires.
func (o *OKXClient) fetchFill(ctx context.Context, symbol, ordID string) (model.OrderResult, error) {
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", o.instrument(symbol), ordID)
	for {
		var orders []struct {
			State     string `json:"state"`
			AccFillSz string `json:"accFillSz"`
			AvgPx     string `json:"avgPx"`
			Fee       string `json:"fee"`
		}
		if err := o.do(ctx, http.MethodGet, path, "", true, &orders); err != nil {
			return model.OrderResult{OrderID: ordID}, err
		}
		if len(orders) == 0 {
			return model.OrderResult{OrderID: ordID, Status: model.OrderRejected},
				fmt.Errorf("%w: okx: order %s not found", model.ErrOrderRejected, ordID)
		}

		ord := orders[0]
		filled, _ := strconv.ParseFloat(ord.AccFillSz, 64)
		avgPx, _ := strconv.ParseFloat(ord.AvgPx, 64)
		fee, _ := strconv.ParseFloat(ord.Fee, 64)

		result := model.OrderResult{
			OrderID:        ordID,
			FilledQuantity: filled,
			AvgFillPrice:   avgPx,
			FeePaid:        math.Abs(fee), // OKX reports fees as negative numbers
		}
		switch ord.State {
		case "filled":
			result.Status = model.OrderFilled
			return result, nil
		case "partially_filled":
			result.Status = model.OrderPartiallyFilled
			return result, nil
		case "canceled":
			result.Status = model.OrderRejected
			return result, fmt.Errorf("%w: okx: order %s canceled", model.ErrOrderRejected, ordID)
		}

		select {
		case <-ctx.Done():
			result.Status = model.OrderRejected
			return result, fmt.Errorf("%w: okx: order %s still %s: %v", model.ErrOrderRejected, ordID, ord.State, ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (o *OKXClient) do(ctx context.Context, method, path, body string, signed bool, out any) error {
	var reqBody io.Reader
	if body != "" {
		reqBody = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if signed {
		o.authHeaders(req, method, path, body)
	} else if o.cfg.DemoTrading {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: okx: %v", model.ErrExchangeUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: okx: %v", model.ErrExchangeUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: okx: HTTP %d: %s", model.ErrExchangeUnreachable, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var envelope okxEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("parse okx response: %w", err)
	}
	if envelope.Code != "0" {
		return fmt.Errorf("%w: okx: %s", model.ErrExchangeUnreachable, envelope.Msg)
	}
	return json.Unmarshal(envelope.Data, out)
}
