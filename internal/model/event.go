package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind identifies what happened during an evaluation cycle.
type EventKind string

const (
	EventTrendWarning   EventKind = "TREND_WARNING"
	EventTrendConfirmed EventKind = "TREND_CONFIRMED"
	EventOpened         EventKind = "OPENED"
	EventClosed         EventKind = "CLOSED"
	EventExitTargetHit  EventKind = "EXIT_TARGET_HIT"
	EventStrongBuy      EventKind = "STRONG_BUY"
	EventStrongSell     EventKind = "STRONG_SELL"
	EventBuyBias        EventKind = "BUY_BIAS"
	EventSellBias       EventKind = "SELL_BIAS"
	EventHold           EventKind = "HOLD"
	EventOpenRejected   EventKind = "OPEN_REJECTED"
	EventCycleError     EventKind = "CYCLE_ERROR"
)

// Primary reports whether the kind summarizes a cycle's bias.
func (k EventKind) Primary() bool {
	switch k {
	case EventStrongBuy, EventStrongSell, EventBuyBias, EventSellBias, EventHold:
		return true
	}
	return false
}

// Event is an immutable record emitted by the engine. The JSON layout is the
// one written to the append-only journal.
type Event struct {
	ID             string           `json:"id"`
	Time           time.Time        `json:"timestamp"`
	Kind           EventKind        `json:"event"`
	Symbol         string           `json:"symbol"`
	Price          float64          `json:"price"`
	Score          *float64         `json:"score,omitempty"`
	PnL            *decimal.Decimal `json:"profit,omitempty"`
	Balance        *decimal.Decimal `json:"balance,omitempty"`
	Side           Side             `json:"side,omitempty"`
	Trend          Trend            `json:"trend,omitempty"`
	TrendConfirmed *bool            `json:"trendConfirmed,omitempty"`
	Reason         string           `json:"reason,omitempty"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(kind EventKind, symbol string, price float64, at time.Time) Event {
	return Event{
		ID:     uuid.NewString(),
		Time:   at,
		Kind:   kind,
		Symbol: symbol,
		Price:  price,
	}
}

// WithScore returns a copy carrying the composite score.
func (e Event) WithScore(score float64) Event {
	e.Score = &score
	return e
}

// WithPnL returns a copy carrying a profit figure.
func (e Event) WithPnL(pnl decimal.Decimal) Event {
	e.PnL = &pnl
	return e
}

// WithBalance returns a copy carrying the account balance after the event.
func (e Event) WithBalance(balance decimal.Decimal) Event {
	e.Balance = &balance
	return e
}

// WithTrend returns a copy annotated with the slower-timeframe trend.
func (e Event) WithTrend(trend Trend, confirmed bool) Event {
	e.Trend = trend
	e.TrendConfirmed = &confirmed
	return e
}

// Unconfirmed reports whether the event carries a trend that disagrees with it.
func (e Event) Unconfirmed() bool {
	return e.TrendConfirmed != nil && !*e.TrendConfirmed
}

// Message renders the human readable line for console and chat output.
func (e Event) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] ", e.Time.UTC().Format("2006-01-02 15:04:05"))

	price := strconv.FormatFloat(e.Price, 'f', -1, 64)
	score := 0.0
	if e.Score != nil {
		score = *e.Score
	}

	switch e.Kind {
	case EventStrongBuy:
		fmt.Fprintf(&b, "STRONG BUY SIGNAL - Score: %.2f - Price: %s", score, price)
	case EventStrongSell:
		fmt.Fprintf(&b, "STRONG SELL SIGNAL - Score: %.2f - Price: %s", -score, price)
	case EventBuyBias:
		fmt.Fprintf(&b, "BUY Bias Signal - Score: %.2f - Price: %s", score, price)
	case EventSellBias:
		fmt.Fprintf(&b, "SELL Bias Signal - Score: %.2f - Price: %s", -score, price)
	case EventHold:
		fmt.Fprintf(&b, "HOLD - Score: %.2f - Price: %s", score, price)
	case EventTrendWarning:
		fmt.Fprintf(&b, "Warning (No %s trend confirmation)", e.Trend)
	case EventTrendConfirmed:
		fmt.Fprintf(&b, "Trend confirmed (%s)", e.Trend)
	case EventOpened:
		fmt.Fprintf(&b, "OPENED %s - Price: %s", e.Side, price)
	case EventExitTargetHit:
		fmt.Fprintf(&b, "EXIT TARGET HIT - Price: %s", price)
	case EventClosed:
		fmt.Fprintf(&b, "CLOSED %s - Price: %s", e.Side, price)
	case EventOpenRejected:
		fmt.Fprintf(&b, "OPEN REJECTED - %s", e.Reason)
	case EventCycleError:
		fmt.Fprintf(&b, "CYCLE ERROR - %s", e.Reason)
	default:
		fmt.Fprintf(&b, "%s - Price: %s", e.Kind, price)
	}

	if e.PnL != nil {
		fmt.Fprintf(&b, " - Profit: %s", e.PnL.StringFixed(4))
	}
	if e.Balance != nil {
		fmt.Fprintf(&b, " - Balance: %s", e.Balance.StringFixed(2))
	}
	fmt.Fprintf(&b, " coin: %s", e.Symbol)
	if e.Kind.Primary() && e.Kind != EventHold && e.Unconfirmed() {
		b.WriteString(" (trend unconfirmed)")
	}
	return b.String()
}
