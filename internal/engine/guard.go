package engine

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"go-signal/internal/config"
)

// GuardNormal is the level reported below every configured threshold.
const GuardNormal = "NORMAL"

// Guard is the balance guard. It maps the account drawdown to a level that
// scales the risk fraction of new positions or blocks them outright.
type Guard struct {
	mu     sync.Mutex
	levels []config.DrawdownLevel
	prev   string
	logger *zap.Logger
}

// GuardResult holds the output of a guard evaluation.
type GuardResult struct {
	Level      string
	RiskScale  decimal.Decimal
	BlockOpens bool
}

// NewGuard creates a guard from configured drawdown levels. Levels may be
// given in any order.
func NewGuard(levels []config.DrawdownLevel, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := append([]config.DrawdownLevel(nil), levels...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ThresholdPercent < sorted[j].ThresholdPercent
	})
	return &Guard{levels: sorted, prev: GuardNormal, logger: logger}
}

// Evaluate returns the level for drawdownPct. It walks the levels from the
// highest threshold down and returns the first one reached.
func (g *Guard) Evaluate(drawdownPct float64) GuardResult {
	result := GuardResult{Level: GuardNormal, RiskScale: decimal.NewFromInt(1)}
	for i := len(g.levels) - 1; i >= 0; i-- {
		lvl := g.levels[i]
		if drawdownPct >= lvl.ThresholdPercent {
			result.Level = lvl.Name
			result.RiskScale = decimal.NewFromFloat(lvl.RiskScale)
			result.BlockOpens = lvl.BlockOpens
			break
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if result.Level != g.prev {
		g.logger.Warn("guard_level_changed",
			zap.String("from", g.prev),
			zap.String("to", result.Level),
			zap.Float64("drawdown_pct", drawdownPct),
			zap.Bool("block_opens", result.BlockOpens),
		)
		g.prev = result.Level
	}
	return result
}

// Level returns the level of the most recent evaluation.
func (g *Guard) Level() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prev
}

func (g *Guard) setLogger(logger *zap.Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = logger
}
