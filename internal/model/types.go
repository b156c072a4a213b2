// Package model defines shared data types used across all go-signal modules.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the state of a paper position.
type Side string

const (
	SideFlat  Side = "FLAT"
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Bias is the directional classification produced by the scorer.
type Bias string

const (
	BiasBuy  Bias = "BUY"
	BiasSell Bias = "SELL"
	BiasHold Bias = "HOLD"
)

// Side maps a bias to the position side it would open. Hold maps to Flat.
func (b Bias) Side() Side {
	switch b {
	case BiasBuy:
		return SideLong
	case BiasSell:
		return SideShort
	case BiasHold:
		return SideFlat
	}
	return SideFlat
}

// Trend is the coarse direction of the slower timeframe.
type Trend string

const (
	TrendUp      Trend = "UP"
	TrendDown    Trend = "DOWN"
	TrendNeutral Trend = "NEUTRAL"
)

// Agrees reports whether the trend confirms the bias. Hold is never confirmed.
func (t Trend) Agrees(b Bias) bool {
	switch b {
	case BiasBuy:
		return t == TrendUp
	case BiasSell:
		return t == TrendDown
	case BiasHold:
		return false
	}
	return false
}

// CommandType represents an operator command.
type CommandType string

const (
	CommandClose    CommandType = "CLOSE"
	CommandCloseAll CommandType = "CLOSE_ALL"
	CommandPause    CommandType = "PAUSE"
	CommandResume   CommandType = "RESUME"
)

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// CandleMetrics is the per-cycle indicator snapshot for one instrument.
type CandleMetrics struct {
	Symbol           string    `json:"symbol"`
	Close            float64   `json:"close"`
	ChannelUpper     float64   `json:"channelUpper"`
	ChannelLower     float64   `json:"channelLower"`
	ChannelMid       float64   `json:"channelMid"`
	EMA50            float64   `json:"ema50"`
	MoneyFlow        float64   `json:"moneyFlow"`        // [-1, 1]
	RecentVolatility float64   `json:"recentVolatility"` // floored to a positive epsilon
	Trend            Trend     `json:"trend"`
	Time             time.Time `json:"time"`
}

// ScoreResult holds the composite scoring output.
type ScoreResult struct {
	Score              float64 `json:"score"`
	Bias               Bias    `json:"bias"`
	Strong             bool    `json:"strong"`
	MoneyFlowComponent float64 `json:"moneyFlowComponent"`
	PriceVsEMA         float64 `json:"priceVsEma"` // volatility scaled
	PriceVsMid         float64 `json:"priceVsMid"` // volatility scaled
}

// Position is the single paper position of an instrument.
type Position struct {
	ID           string          `json:"id,omitempty"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	EntryPrice   decimal.Decimal `json:"entryPrice"`
	SizeNotional decimal.Decimal `json:"sizeNotional"`
	OpenedAt     time.Time       `json:"openedAt"`
}

// IsFlat reports whether no position is open.
func (p Position) IsFlat() bool {
	return p.Side == SideFlat || p.Side == ""
}

// AccountState is a point-in-time view of the paper account.
type AccountState struct {
	Balance      decimal.Decimal `json:"balance"`
	PeakBalance  decimal.Decimal `json:"peakBalance"`
	DrawdownPct  float64         `json:"drawdownPct"`
	RealizedPnL  decimal.Decimal `json:"realizedPnl"`
	OpenNotional decimal.Decimal `json:"openNotional"`
	Trades       int64           `json:"trades"`
	GuardLevel   string          `json:"guardLevel,omitempty"`
	Time         time.Time       `json:"time"`
}

// Command represents an operator command sent to the engine.
type Command struct {
	Type   CommandType `json:"type"`
	Symbol string      `json:"symbol"`
	Reason string      `json:"reason"`
	Time   time.Time   `json:"time"`
}

// WSMessage represents a WebSocket message sent to stream clients.
type WSMessage struct {
	Type      string    `json:"type"` // event, status, heartbeat
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// APIResponse is the standard REST API response envelope.
type APIResponse struct {
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
