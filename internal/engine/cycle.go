package engine

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"go-signal/internal/model"
)

// Instrument is the evaluation context of one symbol: its position and the
// lock that serializes timer-driven and on-demand cycles.
type Instrument struct {
	mu        sync.Mutex
	symbol    string
	positions *PositionManager

	// onCycle runs with mu held after every successful cycle so snapshots
	// taken from it are ordered like the cycles themselves.
	onCycle func(CycleResult)
}

// NewInstrument creates a flat instrument trading against account.
func NewInstrument(symbol string, account *Account, logger *zap.Logger) *Instrument {
	return &Instrument{
		symbol:    symbol,
		positions: NewPositionManager(symbol, account, logger),
	}
}

// Symbol returns the instrument symbol.
func (i *Instrument) Symbol() string {
	return i.symbol
}

// Position returns a copy of the instrument's position.
func (i *Instrument) Position() model.Position {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.positions.Position()
}

// CycleResult is everything one evaluation cycle produced.
type CycleResult struct {
	Symbol     string              `json:"symbol"`
	Metrics    model.CandleMetrics `json:"metrics"`
	Score      model.ScoreResult   `json:"score"`
	Position   model.Position      `json:"position"`
	Unrealized decimal.Decimal     `json:"unrealized"`
	Closed     bool                `json:"closed"`
	Opened     bool                `json:"opened"`
	Events     []model.Event       `json:"events"`
}

// Messages returns the human readable line of every event.
func (r CycleResult) Messages() []string {
	out := make([]string, len(r.Events))
	for i, ev := range r.Events {
		out[i] = ev.Message()
	}
	return out
}

// Primary returns the bias summary event of the cycle.
func (r CycleResult) Primary() (model.Event, bool) {
	for _, ev := range r.Events {
		if ev.Kind.Primary() {
			return ev, true
		}
	}
	return model.Event{}, false
}

// Evaluator runs the fixed-order cycle: unrealized PnL, exit check,
// scoring, entry, summary event.
type Evaluator struct {
	scorer *Scorer
	logger *zap.Logger
}

// NewEvaluator creates an evaluator around scorer.
func NewEvaluator(scorer *Scorer, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{scorer: scorer, logger: logger}
}

// Evaluate runs one cycle for inst on m. Invalid metrics abort before any
// state is touched. An invariant violation aborts the rest of the cycle;
// state transitions that already happened are kept and reported.
func (e *Evaluator) Evaluate(inst *Instrument, m model.CandleMetrics) (CycleResult, error) {
	result := CycleResult{Symbol: inst.symbol, Metrics: m}
	if err := ValidateMetrics(m); err != nil {
		return result, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	pm := inst.positions
	price := decimal.NewFromFloat(m.Close)

	if !pm.Position().IsFlat() {
		result.Unrealized = pm.UnrealizedAt(price)
	}

	held := pm.Position()
	closed, pnl, err := pm.CheckExit(price, m.Time)
	if err != nil {
		result.Position = pm.Position()
		return result, err
	}
	if closed {
		result.Closed = true
		result.Unrealized = decimal.Zero
		ev := model.NewEvent(model.EventExitTargetHit, inst.symbol, m.Close, m.Time).
			WithPnL(pnl).
			WithBalance(pm.account.Balance())
		ev.Side = held.Side
		result.Events = append(result.Events, ev)
	}

	score := e.scorer.Score(m)
	result.Score = score

	// A position closed this tick is not replaced until the next tick.
	if score.Strong && !closed {
		err := pm.Open(score.Bias.Side(), price, m.Time)
		var rejected *RejectedError
		switch {
		case err == nil:
			result.Opened = true
			opened := pm.Position()
			ev := model.NewEvent(model.EventOpened, inst.symbol, m.Close, m.Time).
				WithScore(score.Score).
				WithBalance(pm.account.Balance())
			ev.Side = opened.Side
			ev.Reason = "size " + opened.SizeNotional.String()
			result.Events = append(result.Events, ev)
		case errors.As(err, &rejected):
			ev := model.NewEvent(model.EventOpenRejected, inst.symbol, m.Close, m.Time).
				WithScore(score.Score)
			ev.Reason = string(rejected.Reason)
			ev.Side = score.Bias.Side()
			result.Events = append(result.Events, ev)
		default:
			result.Position = pm.Position()
			return result, err
		}
	}

	if score.Bias != model.BiasHold {
		kind := model.EventTrendWarning
		confirmed := m.Trend.Agrees(score.Bias)
		if confirmed {
			kind = model.EventTrendConfirmed
		}
		result.Events = append(result.Events,
			model.NewEvent(kind, inst.symbol, m.Close, m.Time).WithTrend(m.Trend, confirmed))
	}

	result.Events = append(result.Events, primaryEvent(inst.symbol, m, score))
	result.Position = pm.Position()
	if result.Opened {
		result.Unrealized = pm.UnrealizedAt(price)
	}

	e.logger.Debug("cycle_evaluated",
		zap.String("symbol", inst.symbol),
		zap.Float64("score", score.Score),
		zap.String("bias", string(score.Bias)),
		zap.Bool("strong", score.Strong),
		zap.String("trend", string(m.Trend)),
		zap.String("side", string(result.Position.Side)),
	)
	if inst.onCycle != nil {
		inst.onCycle(result)
	}
	return result, nil
}

func primaryEvent(symbol string, m model.CandleMetrics, score model.ScoreResult) model.Event {
	kind := model.EventHold
	switch score.Bias {
	case model.BiasBuy:
		kind = model.EventBuyBias
		if score.Strong {
			kind = model.EventStrongBuy
		}
	case model.BiasSell:
		kind = model.EventSellBias
		if score.Strong {
			kind = model.EventStrongSell
		}
	case model.BiasHold:
	}
	return model.NewEvent(kind, symbol, m.Close, m.Time).
		WithScore(score.Score).
		WithTrend(m.Trend, m.Trend.Agrees(score.Bias))
}
