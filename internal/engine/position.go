package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"go-signal/internal/model"
)

// ErrInvariantViolation means the position state machine was driven out of
// order, e.g. a close while flat. It is never expected at runtime.
var ErrInvariantViolation = errors.New("position invariant violated")

// UnrealizedPnL values pos at price. Long gains when price rises, short is
// the mirror image, flat is zero.
func UnrealizedPnL(pos model.Position, price decimal.Decimal) decimal.Decimal {
	if pos.IsFlat() || pos.EntryPrice.IsZero() {
		return decimal.Zero
	}
	// Multiply before dividing so a terminating result stays exact.
	long := price.Sub(pos.EntryPrice).Mul(pos.SizeNotional).Div(pos.EntryPrice)
	switch pos.Side {
	case model.SideLong:
		return long
	case model.SideShort:
		return long.Neg()
	}
	return decimal.Zero
}

// PositionManager owns the single paper position of one instrument. It is
// not safe for concurrent use; the owning Evaluator serializes calls. The
// shared Account carries its own lock.
type PositionManager struct {
	symbol  string
	account *Account
	pos     model.Position
	logger  *zap.Logger
}

// NewPositionManager creates a flat position manager for symbol.
func NewPositionManager(symbol string, account *Account, logger *zap.Logger) *PositionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionManager{
		symbol:  symbol,
		account: account,
		pos:     model.Position{Symbol: symbol, Side: model.SideFlat},
		logger:  logger,
	}
}

// Position returns a copy of the current position.
func (m *PositionManager) Position() model.Position {
	return m.pos
}

// UnrealizedAt returns the open PnL at price, zero when flat.
func (m *PositionManager) UnrealizedAt(price decimal.Decimal) decimal.Decimal {
	return UnrealizedPnL(m.pos, price)
}

// Target is the unrealized profit that closes the position, derived from
// the position's own notional.
func (m *PositionManager) Target() decimal.Decimal {
	return m.pos.SizeNotional.Mul(m.account.ProfitGoalFraction())
}

// CheckExit closes the position when its unrealized PnL at price reaches
// the target. It returns whether a close happened and the realized PnL.
func (m *PositionManager) CheckExit(price decimal.Decimal, at time.Time) (bool, decimal.Decimal, error) {
	if m.pos.IsFlat() {
		return false, decimal.Zero, nil
	}
	pnl := UnrealizedPnL(m.pos, price)
	if pnl.LessThan(m.Target()) {
		return false, decimal.Zero, nil
	}
	realized, err := m.Close(price, at)
	if err != nil {
		return false, decimal.Zero, err
	}
	return true, realized, nil
}

// Open enters side at price with a notional snapshotted from the account.
// An open while a position exists or without enough balance returns a
// *RejectedError and changes nothing.
func (m *PositionManager) Open(side model.Side, price decimal.Decimal, at time.Time) error {
	if side != model.SideLong && side != model.SideShort {
		return m.violation("open with side "+string(side), price)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%s: open price %s: %w", m.symbol, price, ErrInvalidMetrics)
	}
	if !m.pos.IsFlat() {
		err := &RejectedError{Symbol: m.symbol, Reason: RejectPositionOpen, Balance: m.account.Balance()}
		m.logger.Info("open_rejected",
			zap.String("symbol", m.symbol),
			zap.String("reason", string(err.Reason)),
			zap.String("side", string(m.pos.Side)),
		)
		return err
	}

	size, err := m.account.reserve(m.symbol)
	if err != nil {
		m.logger.Info("open_rejected",
			zap.String("symbol", m.symbol),
			zap.Error(err),
		)
		return err
	}

	m.pos = model.Position{
		ID:           uuid.NewString(),
		Symbol:       m.symbol,
		Side:         side,
		EntryPrice:   price,
		SizeNotional: size,
		OpenedAt:     at,
	}

	m.logger.Info("position_opened",
		zap.String("symbol", m.symbol),
		zap.String("side", string(side)),
		zap.String("entry_price", price.String()),
		zap.String("size_notional", size.String()),
		zap.String("position_id", m.pos.ID),
	)
	return nil
}

// Close realizes the position at price, credits notional plus PnL back to
// the account and returns to flat. Closing a flat position is an invariant
// violation.
func (m *PositionManager) Close(price decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	if m.pos.IsFlat() {
		return decimal.Zero, m.violation("close while flat", price)
	}

	closed := m.pos
	pnl, balance := m.account.settle(closed.SizeNotional, UnrealizedPnL(closed, price))

	m.pos = model.Position{Symbol: m.symbol, Side: model.SideFlat}

	m.logger.Info("position_closed",
		zap.String("symbol", m.symbol),
		zap.String("side", string(closed.Side)),
		zap.String("entry_price", closed.EntryPrice.String()),
		zap.String("exit_price", price.String()),
		zap.String("realized_pnl", pnl.String()),
		zap.String("balance", balance.String()),
		zap.Duration("held", at.Sub(closed.OpenedAt)),
	)
	return pnl, nil
}

func (m *PositionManager) violation(what string, price decimal.Decimal) error {
	m.logger.DPanic("invariant_violation",
		zap.String("symbol", m.symbol),
		zap.String("what", what),
		zap.String("side", string(m.pos.Side)),
		zap.String("price", price.String()),
	)
	return fmt.Errorf("%s: %s: %w", m.symbol, what, ErrInvariantViolation)
}
