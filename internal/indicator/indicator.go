// Package indicator computes the technical inputs of the signal scorer from a
// candle series: Donchian channel, Chaikin money flow, exponential moving
// average, normalized volatility and the slower-timeframe trend label.
package indicator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go-signal/internal/model"
)

// ErrInsufficientData is returned when a series is shorter than a window.
var ErrInsufficientData = errors.New("insufficient candle data")

// Params holds indicator window lengths.
type Params struct {
	ChannelPeriod    int
	MoneyFlowPeriod  int
	EMAPeriod        int
	VolatilityPeriod int
	VolatilityFloor  float64
	TrendEMAPeriod   int
	TrendMaxAge      time.Duration
}

// DefaultParams mirrors the windows the strategy was tuned with.
func DefaultParams() Params {
	return Params{
		ChannelPeriod:    20,
		MoneyFlowPeriod:  20,
		EMAPeriod:        50,
		VolatilityPeriod: 14,
		VolatilityFloor:  1e-6,
		TrendEMAPeriod:   50,
		TrendMaxAge:      3 * time.Hour,
	}
}

// Compute builds the metrics snapshot for the last candle of series. The
// trend is classified from trendSeries; a missing or stale trend series
// yields TrendNeutral rather than an error.
func Compute(symbol string, series, trendSeries []model.Candle, p Params, now time.Time) (model.CandleMetrics, error) {
	if len(series) == 0 {
		return model.CandleMetrics{}, fmt.Errorf("%s: empty candle series: %w", symbol, ErrInsufficientData)
	}

	upper, lower, err := Donchian(series, p.ChannelPeriod)
	if err != nil {
		return model.CandleMetrics{}, fmt.Errorf("%s: donchian: %w", symbol, err)
	}
	mf, err := MoneyFlow(series, p.MoneyFlowPeriod)
	if err != nil {
		return model.CandleMetrics{}, fmt.Errorf("%s: money flow: %w", symbol, err)
	}
	vol, err := Volatility(series, p.VolatilityPeriod, p.VolatilityFloor)
	if err != nil {
		return model.CandleMetrics{}, fmt.Errorf("%s: volatility: %w", symbol, err)
	}

	last := series[len(series)-1]
	return model.CandleMetrics{
		Symbol:           symbol,
		Close:            last.Close,
		ChannelUpper:     upper,
		ChannelLower:     lower,
		ChannelMid:       (upper + lower) / 2,
		EMA50:            EMA(closes(series), p.EMAPeriod),
		MoneyFlow:        mf,
		RecentVolatility: vol,
		Trend:            ClassifyTrend(trendSeries, p.TrendEMAPeriod, p.TrendMaxAge, now),
		Time:             last.Time,
	}, nil
}

// Donchian returns the highest high and lowest low of the last period candles.
func Donchian(series []model.Candle, period int) (upper, lower float64, err error) {
	if period <= 0 || len(series) < period {
		return 0, 0, ErrInsufficientData
	}
	window := series[len(series)-period:]
	upper, lower = window[0].High, window[0].Low
	for _, c := range window[1:] {
		upper = math.Max(upper, c.High)
		lower = math.Min(lower, c.Low)
	}
	return upper, lower, nil
}

// MoneyFlow computes the Chaikin money flow over the last period candles.
// The result lies in [-1, 1]; zero volume yields 0.
func MoneyFlow(series []model.Candle, period int) (float64, error) {
	if period <= 0 || len(series) < period {
		return 0, ErrInsufficientData
	}
	var flow, volume float64
	for _, c := range series[len(series)-period:] {
		rng := c.High - c.Low
		mult := 0.0
		if rng > 0 {
			mult = ((c.Close - c.Low) - (c.High - c.Close)) / rng
		}
		flow += mult * c.Volume
		volume += c.Volume
	}
	if volume == 0 {
		return 0, nil
	}
	return clamp(flow/volume, -1, 1), nil
}

// EMA returns the exponential moving average of data with span period,
// seeded with the first value (no bias adjustment). Series shorter than the
// span are still averaged.
func EMA(data []float64, period int) float64 {
	if len(data) == 0 || period <= 0 {
		return 0
	}
	k := 2.0 / float64(period+1)
	e := data[0]
	for _, v := range data[1:] {
		e = v*k + e*(1-k)
	}
	return e
}

// Volatility is the mean high-low range of the last period candles divided
// by the last close, floored at floor.
func Volatility(series []model.Candle, period int, floor float64) (float64, error) {
	if period <= 0 || len(series) < period {
		return 0, ErrInsufficientData
	}
	last := series[len(series)-1].Close
	if last <= 0 {
		return 0, fmt.Errorf("non-positive close %v", last)
	}
	ranges := make([]float64, 0, period)
	for _, c := range series[len(series)-period:] {
		ranges = append(ranges, c.High-c.Low)
	}
	v := sma(ranges) / last
	if math.IsNaN(v) || v < floor {
		v = floor
	}
	return v, nil
}

// ClassifyTrend labels the slower timeframe by comparing its last close to
// its EMA. An empty or stale series is neutral.
func ClassifyTrend(series []model.Candle, emaPeriod int, maxAge time.Duration, now time.Time) model.Trend {
	if len(series) == 0 {
		return model.TrendNeutral
	}
	last := series[len(series)-1]
	if maxAge > 0 && now.Sub(last.Time) > maxAge {
		return model.TrendNeutral
	}
	e := EMA(closes(series), emaPeriod)
	switch {
	case last.Close > e:
		return model.TrendUp
	case last.Close < e:
		return model.TrendDown
	default:
		return model.TrendNeutral
	}
}

func closes(series []model.Candle) []float64 {
	out := make([]float64, len(series))
	for i, c := range series {
		out[i] = c.Close
	}
	return out
}

func sma(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
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
