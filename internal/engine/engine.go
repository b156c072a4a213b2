package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"go-signal/internal/config"
	"go-signal/internal/model"
)

var (
	// ErrUnknownSymbol is returned for symbols the engine was not configured with.
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrNoPosition is returned by a manual close on a flat instrument.
	ErrNoPosition = errors.New("no open position")
)

// MetricsProvider supplies the indicator snapshot of a symbol. Implementations
// own their timeouts; a failure skips the symbol for the cycle.
type MetricsProvider interface {
	Metrics(ctx context.Context, symbol string) (model.CandleMetrics, error)
}

// EventSink receives every event the engine emits. Sink failures are logged
// and never undo a state transition.
type EventSink interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Engine is the evaluation orchestrator. A timer drives cycles over all
// configured symbols; EvaluateNow runs the same cycle on demand.
type Engine struct {
	provider    MetricsProvider
	sink        EventSink
	evaluator   *Evaluator
	account     *Account
	guard       *Guard
	instruments map[string]*Instrument
	order       []string
	store       *Store
	commands    chan model.Command
	mu          sync.Mutex
	started     time.Time
	metrics     Metrics
	recentCmds  []model.Command
	paused      bool
	cfg         ConfigSnapshot
	logger      *zap.Logger
	now         func() time.Time
}

// Status represents the current engine state for API consumers.
type Status struct {
	Time          time.Time          `json:"time"`
	StartedAt     time.Time          `json:"startedAt"`
	Mode          string             `json:"mode"`
	Account       model.AccountState `json:"account"`
	Snapshot      StoreSnapshot      `json:"snapshot"`
	SymbolCount   int                `json:"symbolCount"`
	OpenPositions int                `json:"openPositions"`
	LastCommands  []model.Command    `json:"lastCommands"`
	Metrics       Metrics            `json:"metrics"`
	Config        ConfigSnapshot     `json:"config"`
}

// Metrics tracks engine processing counters.
type Metrics struct {
	CycleCount    int64     `json:"cycleCount"`
	Evaluations   int64     `json:"evaluations"`
	Failures      int64     `json:"failures"`
	EventCount    int64     `json:"eventCount"`
	SinkFailures  int64     `json:"sinkFailures"`
	CommandCount  int64     `json:"commandCount"`
	LastCycleAt   time.Time `json:"lastCycleAt"`
	LastCycleTook string    `json:"lastCycleTook"`
	LastCommandAt time.Time `json:"lastCommandAt"`
}

// ConfigSnapshot is a serializable view of the active configuration.
type ConfigSnapshot struct {
	Symbols              []string      `json:"symbols"`
	Interval             time.Duration `json:"interval"`
	Align                bool          `json:"align"`
	RunOnStart           bool          `json:"runOnStart"`
	StrongBuyThreshold   float64       `json:"strongBuyThreshold"`
	StrongSellThreshold  float64       `json:"strongSellThreshold"`
	RiskPercent          float64       `json:"riskPercent"`
	ProfitGoalFraction   float64       `json:"profitGoalFraction"`
	MinimumTradeNotional float64       `json:"minimumTradeNotional"`
}

// New creates an Engine from configuration, a metrics provider and a sink.
// A nil sink discards events.
func New(cfg *config.Config, provider MetricsProvider, sink EventSink) *Engine {
	account := NewAccount(AccountParams{
		StartingBalance:      decimal.NewFromFloat(cfg.Account.StartingBalance),
		RiskPercent:          decimal.NewFromFloat(cfg.Account.RiskPercent),
		ProfitGoalFraction:   decimal.NewFromFloat(cfg.Account.ProfitGoalFraction),
		MinimumTradeNotional: decimal.NewFromFloat(cfg.Account.MinimumTradeNotional),
	})
	var guard *Guard
	if len(cfg.Account.DrawdownLevels) > 0 {
		guard = NewGuard(cfg.Account.DrawdownLevels, nil)
		account.SetGuard(guard)
	}

	e := &Engine{
		provider:    provider,
		sink:        sink,
		evaluator:   NewEvaluator(NewScorer(cfg.Scoring.StrongBuyThreshold, cfg.Scoring.StrongSellThreshold), nil),
		account:     account,
		guard:       guard,
		instruments: make(map[string]*Instrument, len(cfg.Engine.Symbols)),
		store:       NewStore(cfg.Engine.RecentEvents),
		commands:    make(chan model.Command, 64),
		started:     time.Now(),
		logger:      zap.NewNop(),
		now:         time.Now,
		cfg: ConfigSnapshot{
			Symbols:              append([]string(nil), cfg.Engine.Symbols...),
			Interval:             cfg.Engine.Interval,
			Align:                cfg.Engine.Align,
			RunOnStart:           cfg.Engine.RunOnStart,
			RiskPercent:          cfg.Account.RiskPercent,
			ProfitGoalFraction:   cfg.Account.ProfitGoalFraction,
			MinimumTradeNotional: cfg.Account.MinimumTradeNotional,
		},
	}
	e.cfg.StrongBuyThreshold, e.cfg.StrongSellThreshold = e.evaluator.scorer.Thresholds()
	for _, sym := range cfg.Engine.Symbols {
		inst := NewInstrument(sym, account, e.logger)
		inst.onCycle = func(res CycleResult) { e.store.RecordCycle(res, e.now()) }
		e.instruments[sym] = inst
		e.order = append(e.order, sym)
	}
	return e
}

// SetLogger sets the structured logger for the engine and its components.
func (e *Engine) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	e.logger = logger
	e.evaluator.logger = logger
	if e.guard != nil {
		e.guard.setLogger(logger)
	}
	for _, inst := range e.instruments {
		inst.positions.logger = logger
	}
}

// Store returns the underlying state store.
func (e *Engine) Store() *Store {
	return e.store
}

// Account returns the shared paper account.
func (e *Engine) Account() *Account {
	return e.account
}

// Symbols returns the configured symbols in evaluation order.
func (e *Engine) Symbols() []string {
	return append([]string(nil), e.order...)
}

// RecentEvents returns up to n of the latest events, newest last. An empty
// symbol selects all symbols.
func (e *Engine) RecentEvents(symbol string, n int) []model.Event {
	return e.store.RecentEvents(symbol, n)
}

// PushCommand queues a command for the Run loop. It drops the command when
// the queue is full.
func (e *Engine) PushCommand(cmd model.Command) bool {
	select {
	case e.commands <- cmd:
		return true
	default:
		e.logger.Warn("command_dropped", zap.String("type", string(cmd.Type)))
		return false
	}
}

// Paused reports whether timer-driven cycles are suspended.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Run drives evaluation cycles until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine_started",
		zap.Strings("symbols", e.order),
		zap.Duration("interval", e.cfg.Interval),
		zap.Bool("align", e.cfg.Align),
	)

	if e.cfg.RunOnStart {
		e.runCycleLogged(ctx)
	}

	timer := time.NewTimer(e.nextDelay(e.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine_stopped")
			return ctx.Err()
		case cmd := <-e.commands:
			e.handleCommand(ctx, cmd)
		case <-timer.C:
			e.runCycleLogged(ctx)
			timer.Reset(e.nextDelay(e.now()))
		}
	}
}

func (e *Engine) runCycleLogged(ctx context.Context) {
	if err := e.RunCycle(ctx); err != nil {
		e.logger.Warn("cycle_errors",
			zap.Int("failed", len(multierr.Errors(err))),
			zap.Error(err),
		)
	}
}

// nextDelay returns the wait until the next cycle, aligned to a wall-clock
// multiple of the interval when configured.
func (e *Engine) nextDelay(now time.Time) time.Duration {
	interval := e.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	if !e.cfg.Align {
		return interval
	}
	d := interval - time.Duration(now.UnixNano()%int64(interval))
	if d <= 0 {
		d = interval
	}
	return d
}

// RunCycle evaluates every symbol once. Symbols are fetched and evaluated
// concurrently; a failure in one symbol never affects the others. The
// returned error aggregates per-symbol failures.
func (e *Engine) RunCycle(ctx context.Context) error {
	if e.Paused() {
		e.logger.Info("cycle_skipped_paused")
		return nil
	}

	start := e.now()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, sym := range e.order {
		inst := e.instruments[sym]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.evaluate(ctx, inst); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	took := e.now().Sub(start)
	e.mu.Lock()
	e.metrics.CycleCount++
	e.metrics.LastCycleAt = start
	e.metrics.LastCycleTook = took.String()
	e.mu.Unlock()

	e.logger.Info("cycle_completed",
		zap.Int("symbols", len(e.order)),
		zap.Int("failed", len(multierr.Errors(errs))),
		zap.Duration("took", took),
	)
	return errs
}

// EvaluateNow runs one cycle for symbol synchronously and returns what it
// produced. It shares the per-symbol lock with the timer-driven cycle.
func (e *Engine) EvaluateNow(ctx context.Context, symbol string) (CycleResult, error) {
	inst, ok := e.instruments[symbol]
	if !ok {
		return CycleResult{Symbol: symbol}, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return e.evaluate(ctx, inst)
}

func (e *Engine) evaluate(ctx context.Context, inst *Instrument) (res CycleResult, err error) {
	sym := inst.Symbol()
	res.Symbol = sym

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: recovered panic: %v", sym, r)
			e.logger.Error("cycle_panic", zap.String("symbol", sym), zap.Any("panic", r))
			res.Events = append(res.Events, e.fail(ctx, sym, res.Metrics.Close, err))
		}
	}()

	e.mu.Lock()
	e.metrics.Evaluations++
	e.mu.Unlock()

	m, err := e.provider.Metrics(ctx, sym)
	if err != nil {
		err = fmt.Errorf("%s: fetching metrics: %w", sym, err)
		res.Events = append(res.Events, e.fail(ctx, sym, 0, err))
		return res, err
	}

	res, err = e.evaluator.Evaluate(inst, m)
	e.publish(ctx, res.Events)
	if err != nil {
		res.Events = append(res.Events, e.fail(ctx, sym, m.Close, err))
		return res, err
	}
	return res, nil
}

// fail reports a failed cycle as an event and in the store.
func (e *Engine) fail(ctx context.Context, symbol string, price float64, err error) model.Event {
	e.mu.Lock()
	e.metrics.Failures++
	e.mu.Unlock()

	if errors.Is(err, ErrInvariantViolation) {
		e.logger.Error("cycle_aborted", zap.String("symbol", symbol), zap.Error(err))
	} else {
		e.logger.Warn("cycle_skipped", zap.String("symbol", symbol), zap.Error(err))
	}

	now := e.now()
	ev := model.NewEvent(model.EventCycleError, symbol, price, now)
	ev.Reason = err.Error()
	e.store.RecordError(symbol, err, now)
	e.publish(ctx, []model.Event{ev})
	return ev
}

func (e *Engine) publish(ctx context.Context, events []model.Event) {
	if len(events) == 0 {
		return
	}
	e.store.AddEvents(events)

	e.mu.Lock()
	e.metrics.EventCount += int64(len(events))
	e.mu.Unlock()

	if e.sink == nil {
		return
	}
	for _, ev := range events {
		if err := e.sink.Publish(ctx, ev); err != nil {
			e.mu.Lock()
			e.metrics.SinkFailures++
			e.mu.Unlock()
			e.logger.Warn("sink_publish_failed",
				zap.String("symbol", ev.Symbol),
				zap.String("event", string(ev.Kind)),
				zap.Error(err),
			)
		}
	}
}

// ClosePosition manually closes the position of symbol at a freshly fetched
// price.
func (e *Engine) ClosePosition(ctx context.Context, symbol, reason string) (model.Event, error) {
	inst, ok := e.instruments[symbol]
	if !ok {
		return model.Event{}, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	if inst.Position().IsFlat() {
		return model.Event{}, fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}

	m, err := e.provider.Metrics(ctx, symbol)
	if err != nil {
		return model.Event{}, fmt.Errorf("%s: fetching close price: %w", symbol, err)
	}
	if m.Close <= 0 {
		return model.Event{}, fmt.Errorf("%s: close price %v: %w", symbol, m.Close, ErrInvalidMetrics)
	}

	inst.mu.Lock()
	held := inst.positions.Position()
	if held.IsFlat() {
		// Closed by a cycle between the check above and the lock.
		inst.mu.Unlock()
		return model.Event{}, fmt.Errorf("%s: %w", symbol, ErrNoPosition)
	}
	now := e.now()
	pnl, err := inst.positions.Close(decimal.NewFromFloat(m.Close), now)
	e.store.SetPosition(symbol, inst.positions.Position())
	inst.mu.Unlock()
	if err != nil {
		return model.Event{}, err
	}

	ev := model.NewEvent(model.EventClosed, symbol, m.Close, now).
		WithPnL(pnl).
		WithBalance(e.account.Balance())
	ev.Side = held.Side
	ev.Reason = reason
	e.publish(ctx, []model.Event{ev})
	return ev, nil
}

// handleCommand processes operator commands (pause, resume, close).
func (e *Engine) handleCommand(ctx context.Context, cmd model.Command) {
	reason := cmd.Reason
	if reason == "" {
		reason = string(cmd.Type)
	}

	switch cmd.Type {
	case model.CommandPause:
		e.mu.Lock()
		e.paused = true
		e.mu.Unlock()
		e.logger.Info("engine_paused")
	case model.CommandResume:
		e.mu.Lock()
		e.paused = false
		e.mu.Unlock()
		e.logger.Info("engine_resumed")
	case model.CommandClose:
		if _, err := e.ClosePosition(ctx, cmd.Symbol, reason); err != nil {
			e.logger.Warn("manual_close_failed", zap.String("symbol", cmd.Symbol), zap.Error(err))
		}
	case model.CommandCloseAll:
		for _, sym := range e.order {
			if e.instruments[sym].Position().IsFlat() {
				continue
			}
			if _, err := e.ClosePosition(ctx, sym, reason); err != nil {
				e.logger.Warn("manual_close_failed", zap.String("symbol", sym), zap.Error(err))
			}
		}
	default:
		e.logger.Warn("unknown_command", zap.String("type", string(cmd.Type)))
	}

	e.mu.Lock()
	e.metrics.CommandCount++
	e.metrics.LastCommandAt = e.now()
	e.recentCmds = append(e.recentCmds, cmd)
	if len(e.recentCmds) > 50 {
		e.recentCmds = e.recentCmds[len(e.recentCmds)-50:]
	}
	e.mu.Unlock()
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	snapshot := e.store.Snapshot()

	open := 0
	for _, sym := range e.order {
		if !e.instruments[sym].Position().IsFlat() {
			open++
		}
	}

	e.mu.Lock()
	mode := "RUNNING"
	if e.paused {
		mode = "PAUSED"
	}
	metrics := e.metrics
	cmds := make([]model.Command, len(e.recentCmds))
	copy(cmds, e.recentCmds)
	e.mu.Unlock()

	return Status{
		Time:          e.now(),
		StartedAt:     e.started,
		Mode:          mode,
		Account:       e.account.State(),
		Snapshot:      snapshot,
		SymbolCount:   len(e.order),
		OpenPositions: open,
		LastCommands:  cmds,
		Metrics:       metrics,
		Config:        e.cfg,
	}
}

// StatusJSON returns the status encoded as JSON.
func (e *Engine) StatusJSON() ([]byte, error) {
	return json.Marshal(e.Status())
}
