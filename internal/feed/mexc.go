// Package feed retrieves candle series and turns them into the metrics
// snapshots the engine consumes.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"go-signal/internal/model"
)

// CandleSource returns the most recent limit candles of symbol, oldest first.
type CandleSource interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

// MEXCClient reads klines from the MEXC spot REST API.
type MEXCClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewMEXCClient creates a client for baseURL. The API key is optional for
// public market data and is sent only when set.
func NewMEXCClient(baseURL, apiKey string, timeout time.Duration) *MEXCClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MEXCClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Candles implements CandleSource.
func (c *MEXCClient) Candles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building klines request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-MEXC-APIKEY", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s klines: %w", symbol, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s klines: %w", symbol, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mexc status %d for %s: %s", resp.StatusCode, symbol, strings.TrimSpace(string(body)))
	}
	return parseKlines(body)
}

// parseKlines decodes rows of [openTime, open, high, low, close, volume, ...].
func parseKlines(body []byte) ([]model.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding klines: %w", err)
	}

	out := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d has %d fields", i, len(row))
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		vals := make([]float64, 5)
		for j := range vals {
			v, err := parseNumber(row[j+1])
			if err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			vals[j] = v
		}
		out = append(out, model.Candle{
			Time:   time.UnixMilli(openMs).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return out, nil
}

// parseNumber accepts both quoted and bare JSON numbers.
func parseNumber(raw json.RawMessage) (float64, error) {
	s := strings.Trim(string(raw), `"`)
	v, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return v.InexactFloat64(), nil
}

var intervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"60m": time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
	"1W":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// ParseInterval converts a MEXC kline interval to a duration.
func ParseInterval(interval string) (time.Duration, error) {
	d, ok := intervals[interval]
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", interval)
	}
	return d, nil
}
