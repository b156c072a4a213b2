package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"go-signal/internal/model"
)

// RejectReason explains why an open was refused.
type RejectReason string

const (
	RejectPositionOpen        RejectReason = "position already open"
	RejectInsufficientBalance RejectReason = "insufficient balance"
	RejectZeroSize            RejectReason = "position size rounds to zero"
	RejectDrawdownGuard       RejectReason = "blocked by drawdown guard"
)

// RejectedError is returned when an open is refused. It is expected steady
// state behaviour, not a failure.
type RejectedError struct {
	Symbol  string
	Reason  RejectReason
	Balance decimal.Decimal
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("open %s rejected: %s (balance %s)", e.Symbol, e.Reason, e.Balance.String())
}

// AccountParams configures a paper account.
type AccountParams struct {
	StartingBalance      decimal.Decimal
	RiskPercent          decimal.Decimal
	ProfitGoalFraction   decimal.Decimal
	MinimumTradeNotional decimal.Decimal
}

// Account is the paper account shared by all instruments. Every balance
// read-modify-write happens under mu.
type Account struct {
	mu           sync.Mutex
	balance      decimal.Decimal
	peak         decimal.Decimal
	realized     decimal.Decimal
	openNotional decimal.Decimal
	trades       int64

	riskPercent decimal.Decimal
	profitGoal  decimal.Decimal
	minNotional decimal.Decimal
	guard       *Guard
}

// NewAccount creates an account holding the starting balance.
func NewAccount(p AccountParams) *Account {
	return &Account{
		balance:     p.StartingBalance,
		peak:        p.StartingBalance,
		riskPercent: p.RiskPercent,
		profitGoal:  p.ProfitGoalFraction,
		minNotional: p.MinimumTradeNotional,
	}
}

// Balance returns the free balance.
func (a *Account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// ProfitGoalFraction returns the fraction of notional that closes a position.
func (a *Account) ProfitGoalFraction() decimal.Decimal {
	return a.profitGoal
}

// SetGuard attaches a balance guard consulted on every open.
func (a *Account) SetGuard(g *Guard) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.guard = g
}

// reserve atomically checks the minimum notional, snapshots the position
// size from the current balance and debits it.
func (a *Account) reserve(symbol string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.balance.LessThan(a.minNotional) {
		return decimal.Zero, &RejectedError{Symbol: symbol, Reason: RejectInsufficientBalance, Balance: a.balance}
	}
	risk := a.riskPercent
	if a.guard != nil {
		res := a.guard.Evaluate(a.drawdownLocked())
		if res.BlockOpens {
			return decimal.Zero, &RejectedError{Symbol: symbol, Reason: RejectDrawdownGuard, Balance: a.balance}
		}
		risk = risk.Mul(res.RiskScale)
	}
	size := a.balance.Mul(risk)
	if !size.IsPositive() {
		return decimal.Zero, &RejectedError{Symbol: symbol, Reason: RejectZeroSize, Balance: a.balance}
	}
	a.balance = a.balance.Sub(size)
	a.openNotional = a.openNotional.Add(size)
	return size, nil
}

// settle credits a closed position back. A loss larger than the notional
// is capped so the balance never goes negative; the returned PnL is the
// capped amount actually realized, together with the new balance.
func (a *Account) settle(size, pnl decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if pnl.LessThan(size.Neg()) {
		pnl = size.Neg()
	}
	a.balance = a.balance.Add(size.Add(pnl))
	a.openNotional = a.openNotional.Sub(size)
	a.realized = a.realized.Add(pnl)
	a.trades++

	capital := a.balance.Add(a.openNotional)
	if capital.GreaterThan(a.peak) {
		a.peak = capital
	}
	return pnl, a.balance
}

// State returns a snapshot of the account including drawdown from the peak
// of balance plus committed notional.
func (a *Account) State() model.AccountState {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := model.AccountState{
		Balance:      a.balance,
		PeakBalance:  a.peak,
		RealizedPnL:  a.realized,
		OpenNotional: a.openNotional,
		Trades:       a.trades,
		DrawdownPct:  a.drawdownLocked(),
		Time:         time.Now(),
	}
	if a.guard != nil {
		state.GuardLevel = a.guard.Level()
	}
	return state
}

// drawdownLocked is the percentage drop of balance plus committed notional
// from the peak. Callers hold mu.
func (a *Account) drawdownLocked() float64 {
	if !a.peak.IsPositive() {
		return 0
	}
	capital := a.balance.Add(a.openNotional)
	return a.peak.Sub(capital).Div(a.peak).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
