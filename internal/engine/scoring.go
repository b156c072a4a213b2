package engine

import (
	"errors"
	"fmt"
	"math"

	"go-signal/internal/model"
)

// ErrInvalidMetrics marks a metrics snapshot the scorer cannot use. The cycle
// for that instrument is skipped before any position state is touched.
var ErrInvalidMetrics = errors.New("invalid candle metrics")

// weights for each scoring term
const (
	wMoneyFlow  = 0.3
	wPriceVsEMA = 0.4
	wPriceVsMid = 0.3
)

// Scorer combines money flow and price position into a composite score and
// a directional bias.
type Scorer struct {
	strongBuy  float64
	strongSell float64
}

// NewScorer creates a scorer with the given strong-signal thresholds. The
// sell threshold is negative.
func NewScorer(strongBuy, strongSell float64) *Scorer {
	return &Scorer{
		strongBuy:  strongBuy,
		strongSell: strongSell,
	}
}

// Thresholds returns the strong buy and strong sell cutoffs.
func (s *Scorer) Thresholds() (buy, sell float64) {
	return s.strongBuy, s.strongSell
}

// Score computes the composite score for a validated snapshot. It never
// fails; validation is the caller's job (see ValidateMetrics).
func (s *Scorer) Score(m model.CandleMetrics) model.ScoreResult {
	result := model.ScoreResult{Bias: model.BiasHold}

	result.PriceVsEMA = (m.Close - m.EMA50) / m.EMA50 / m.RecentVolatility
	result.PriceVsMid = (m.Close - m.ChannelMid) / m.ChannelMid / m.RecentVolatility
	result.MoneyFlowComponent = MoneyFlowComponent(m.MoneyFlow)

	result.Score = wMoneyFlow*result.MoneyFlowComponent +
		wPriceVsEMA*result.PriceVsEMA +
		wPriceVsMid*result.PriceVsMid

	switch {
	case m.Close > m.ChannelMid && m.MoneyFlow > 0 && m.Close > m.EMA50:
		result.Bias = model.BiasBuy
		result.Strong = result.Score >= s.strongBuy
	case m.Close < m.ChannelMid && m.MoneyFlow < 0 && m.Close < m.EMA50:
		result.Bias = model.BiasSell
		result.Strong = result.Score <= s.strongSell
	}

	return result
}

// MoneyFlowComponent shapes the oscillator with a signed square, which damps
// weak readings and keeps the sign, then clamps to [-1, 1].
func MoneyFlowComponent(mf float64) float64 {
	return clamp(mf*math.Abs(mf), -1, 1)
}

// ValidateMetrics rejects snapshots that would make the score undefined.
func ValidateMetrics(m model.CandleMetrics) error {
	switch {
	case !finite(m.Close, m.EMA50, m.ChannelMid, m.MoneyFlow, m.RecentVolatility):
		return fmt.Errorf("%s: non-finite input: %w", m.Symbol, ErrInvalidMetrics)
	case m.EMA50 == 0:
		return fmt.Errorf("%s: ema50 is zero: %w", m.Symbol, ErrInvalidMetrics)
	case m.ChannelMid == 0:
		return fmt.Errorf("%s: channel midpoint is zero: %w", m.Symbol, ErrInvalidMetrics)
	case m.Close <= 0:
		return fmt.Errorf("%s: close %v is not positive: %w", m.Symbol, m.Close, ErrInvalidMetrics)
	case m.RecentVolatility <= 0:
		return fmt.Errorf("%s: volatility %v is not positive: %w", m.Symbol, m.RecentVolatility, ErrInvalidMetrics)
	}
	return nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
