package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"crossarb/internal/config"
	"crossarb/internal/model"
)

const (
	binanceDefaultBaseURL = "https://api.binance.com/api"
	binanceStreamURL      = "wss://stream.binance.com:9443/ws/!bookTicker"
)

// BinanceClient implements the Client interface for Binance spot.
type BinanceClient struct {
	logger     *slog.Logger
	cfg        config.ExchangeConfig
	quoteAsset string
	httpClient *http.Client
	baseURL    string
}

// NewBinanceClient creates a new BinanceClient.
func NewBinanceClient(logger *slog.Logger, cfg config.ExchangeConfig, quoteAsset string) *BinanceClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = binanceDefaultBaseURL
	}
	return &BinanceClient{
		logger:     logger,
		cfg:        cfg,
		quoteAsset: quoteAsset,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
	}
}

func (b *BinanceClient) Name() string {
	return "binance"
}

func (b *BinanceClient) instrument(symbol string) string {
	return symbol + b.quoteAsset
}

// sign produces the hex HMAC-SHA256 signature Binance expects on the query string.
func (b *BinanceClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(b.cfg.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

type binanceBookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

// GetQuote fetches the best bid/ask for a single symbol.
func (b *BinanceClient) GetQuote(ctx context.Context, symbol string) (model.PriceQuote, error) {
	u := fmt.Sprintf("%s/v3/ticker/bookTicker?symbol=%s", b.baseURL, b.instrument(symbol))
	var ticker binanceBookTicker
	if err := b.getJSON(ctx, u, nil, &ticker); err != nil {
		return model.PriceQuote{}, err
	}
	return b.toQuote(symbol, ticker.BidPrice, ticker.AskPrice)
}

// GetQuotes fetches best bid/ask for every instrument quoted in the quote asset.
func (b *BinanceClient) GetQuotes(ctx context.Context) ([]model.PriceQuote, error) {
	u := fmt.Sprintf("%s/v3/ticker/bookTicker", b.baseURL)
	var tickers []binanceBookTicker
	if err := b.getJSON(ctx, u, nil, &tickers); err != nil {
		return nil, err
	}

	quotes := make([]model.PriceQuote, 0, len(tickers))
	for _, t := range tickers {
		if !strings.HasSuffix(t.Symbol, b.quoteAsset) {
			continue
		}
		symbol := strings.TrimSuffix(t.Symbol, b.quoteAsset)
		q, err := b.toQuote(symbol, t.BidPrice, t.AskPrice)
		if err != nil {
			b.logger.Warn("BinanceClient: skipping unparseable ticker", "symbol", t.Symbol, "error", err)
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func (b *BinanceClient) toQuote(symbol, bidStr, askStr string) (model.PriceQuote, error) {
	bid, err := strconv.ParseFloat(bidStr, 64)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("parse bid %q: %w", bidStr, err)
	}
	ask, err := strconv.ParseFloat(askStr, 64)
	if err != nil {
		return model.PriceQuote{}, fmt.Errorf("parse ask %q: %w", askStr, err)
	}
	return model.PriceQuote{
		Exchange:   b.Name(),
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		ObservedAt: time.Now(),
	}, nil
}

// GetBalance fetches the available amount of one asset from the account endpoint.
func (b *BinanceClient) GetBalance(ctx context.Context, asset string) (model.Balance, error) {
	query := fmt.Sprintf("timestamp=%d", time.Now().UnixMilli())
	u := fmt.Sprintf("%s/v3/account?%s&signature=%s", b.baseURL, query, b.sign(query))

	var account struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	headers := map[string]string{"X-MBX-APIKEY": b.cfg.APIKey}
	if err := b.getJSON(ctx, u, headers, &account); err != nil {
		return model.Balance{}, err
	}

	for _, bal := range account.Balances {
		if bal.Asset != asset {
			continue
		}
		free, err := strconv.ParseFloat(bal.Free, 64)
		if err != nil {
			return model.Balance{}, fmt.Errorf("parse balance %q: %w", bal.Free, err)
		}
		return model.Balance{Exchange: b.Name(), Asset: asset, Available: free, UpdatedAt: time.Now()}, nil
	}
	return model.Balance{Exchange: b.Name(), Asset: asset, UpdatedAt: time.Now()}, nil
}

// PlaceMarketOrder places a market order and reports the actual fill from the
// FULL order response.
func (b *BinanceClient) PlaceMarketOrder(ctx context.Context, symbol string, side model.OrderSide, quantity float64) (model.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", b.instrument(symbol))
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()

	u := fmt.Sprintf("%s/v3/order?%s&signature=%s", b.baseURL, query, b.sign(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return model.OrderResult{}, err
	}
	req.Header.Set("X-MBX-APIKEY", b.cfg.APIKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return model.OrderResult{}, fmt.Errorf("%w: binance order: %v", model.ErrExchangeUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.OrderResult{}, fmt.Errorf("%w: binance order: %v", model.ErrExchangeUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return model.OrderResult{}, fmt.Errorf("%w: binance: %s", model.ErrOrderRejected, strings.TrimSpace(string(body)))
	}

	var order struct {
		OrderID             int64  `json:"orderId"`
		Status              string `json:"status"`
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		Fills               []struct {
			Commission string `json:"commission"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &order); err != nil {
		return model.OrderResult{}, fmt.Errorf("parse order response: %w", err)
	}

	filled, _ := strconv.ParseFloat(order.ExecutedQty, 64)
	quoteQty, _ := strconv.ParseFloat(order.CummulativeQuoteQty, 64)
	var avgPrice float64
	if filled > 0 {
		avgPrice = quoteQty / filled
	}
	var fee float64
	for _, f := range order.Fills {
		c, _ := strconv.ParseFloat(f.Commission, 64)
		fee += c
	}

	result := model.OrderResult{
		OrderID:        strconv.FormatInt(order.OrderID, 10),
		FilledQuantity: filled,
		AvgFillPrice:   avgPrice,
		FeePaid:        fee,
	}
	switch order.Status {
	case "FILLED":
		result.Status = model.OrderFilled
	case "PARTIALLY_FILLED":
		result.Status = model.OrderPartiallyFilled
	default:
		result.Status = model.OrderRejected
		return result, fmt.Errorf("%w: binance status %s", model.ErrOrderRejected, order.Status)
	}
	return result, nil
}

func (b *BinanceClient) getJSON(ctx context.Context, u string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: binance: %v", model.ErrExchangeUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: binance: HTTP %d: %s", model.ErrExchangeUnreachable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StartStream connects to the Binance all-book-tickers WebSocket stream and
// pushes quotes for every instrument in the quote asset until the context is
// cancelled. Reconnects with exponential backoff.
func (b *BinanceClient) StartStream(ctx context.Context, quotes chan<- model.PriceQuote) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("BinanceClient: context cancelled, shutting down")
			return nil
		default:
		}

		b.logger.Info("BinanceClient: connecting to WebSocket", "url", binanceStreamURL, "backoff", backoff)
		c, _, err := websocket.DefaultDialer.DialContext(ctx, binanceStreamURL, nil)
		if err != nil {
			b.logger.Error("BinanceClient: WebSocket connection failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > 16*time.Second {
					backoff = 16 * time.Second
				}
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = time.Second
		b.logger.Info("BinanceClient: connected successfully")

		b.readStream(ctx, c, quotes)
		c.Close()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (b *BinanceClient) readStream(ctx context.Context, c *websocket.Conn, quotes chan<- model.PriceQuote) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.ReadMessage()
		if err != nil {
			b.logger.Error("BinanceClient: failed to read message", "error", err)
			return
		}

		var event struct {
			Symbol string `json:"s"`
			Bid    string `json:"b"`
			Ask    string `json:"a"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			b.logger.Warn("BinanceClient: failed to parse message", "error", err)
			continue
		}
		if !strings.HasSuffix(event.Symbol, b.quoteAsset) {
			continue
		}

		symbol := strings.TrimSuffix(event.Symbol, b.quoteAsset)
		q, err := b.toQuote(symbol, event.Bid, event.Ask)
		if err != nil {
			b.logger.Warn("BinanceClient: failed to parse stream quote", "symbol", event.Symbol, "error", err)
			continue
		}

		select {
		case quotes <- q:
		case <-ctx.Done():
			b.logger.Info("BinanceClient: context cancelled while sending quote")
			return
		}
	}
}
