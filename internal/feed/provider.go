package feed

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"go-signal/internal/config"
	"go-signal/internal/indicator"
	"go-signal/internal/model"
)

// Provider turns candle series from a CandleSource into metrics snapshots.
// It satisfies the engine's MetricsProvider.
type Provider struct {
	source         CandleSource
	timeframe      string
	limit          int
	trendTimeframe string
	trendLimit     int
	timeout        time.Duration
	params         indicator.Params
	logger         *zap.Logger
	now            func() time.Time
}

// NewProvider creates a provider that reads from source using the exchange
// and engine sections of cfg.
func NewProvider(source CandleSource, cfg *config.Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		source:         source,
		timeframe:      cfg.Exchange.Timeframe,
		limit:          cfg.Exchange.Limit,
		trendTimeframe: cfg.Exchange.TrendTimeframe,
		trendLimit:     cfg.Exchange.TrendLimit,
		timeout:        cfg.Exchange.RequestTimeout,
		params: indicator.Params{
			ChannelPeriod:    cfg.Engine.ChannelPeriod,
			MoneyFlowPeriod:  cfg.Engine.MoneyFlowLen,
			EMAPeriod:        cfg.Engine.EMAPeriod,
			VolatilityPeriod: cfg.Engine.VolatilityLen,
			VolatilityFloor:  cfg.Scoring.VolatilityFloor,
			TrendEMAPeriod:   cfg.Engine.TrendEMA,
			TrendMaxAge:      cfg.Engine.TrendMaxAge,
		},
		logger: logger,
		now:    time.Now,
	}
}

// NewSource picks the candle source named by cfg.Exchange.Source.
func NewSource(cfg config.ExchangeConfig) (CandleSource, error) {
	switch cfg.Source {
	case "mexc":
		return NewMEXCClient(cfg.BaseURL, cfg.APIKey, cfg.RequestTimeout), nil
	case "demo":
		return NewDemoSource(time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown candle source %q", cfg.Source)
	}
}

type fetchResult struct {
	candles []model.Candle
	err     error
}

// Metrics fetches both timeframes for symbol and computes its snapshot.
// A failed trend fetch degrades to a neutral trend; a failed primary fetch
// is an error.
func (p *Provider) Metrics(ctx context.Context, symbol string) (model.CandleMetrics, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	trendCh := make(chan fetchResult, 1)
	go func() {
		candles, err := p.source.Candles(ctx, symbol, p.trendTimeframe, p.trendLimit)
		trendCh <- fetchResult{candles: candles, err: err}
	}()

	series, err := p.source.Candles(ctx, symbol, p.timeframe, p.limit)
	if err != nil {
		return model.CandleMetrics{}, fmt.Errorf("fetching %s %s candles: %w", symbol, p.timeframe, err)
	}

	var trendSeries []model.Candle
	select {
	case tr := <-trendCh:
		if tr.err != nil {
			p.logger.Warn("trend_unavailable",
				zap.String("symbol", symbol),
				zap.String("timeframe", p.trendTimeframe),
				zap.Error(tr.err),
			)
		} else {
			trendSeries = tr.candles
		}
	case <-ctx.Done():
		p.logger.Warn("trend_unavailable",
			zap.String("symbol", symbol),
			zap.Error(ctx.Err()),
		)
	}

	m, err := indicator.Compute(symbol, series, trendSeries, p.params, p.now())
	if err != nil {
		return model.CandleMetrics{}, err
	}
	p.logger.Debug("metrics_computed",
		zap.String("symbol", symbol),
		zap.Float64("close", m.Close),
		zap.Float64("ema", m.EMA50),
		zap.Float64("mid", m.ChannelMid),
		zap.Float64("money_flow", m.MoneyFlow),
		zap.Float64("volatility", m.RecentVolatility),
		zap.String("trend", string(m.Trend)),
	)
	return m, nil
}
