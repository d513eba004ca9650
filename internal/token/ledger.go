/*

In-process fungible token ledger. The underlying stable asset, every protocol
receipt token and the savings-facility intermediate token are each one Ledger.
Components identify themselves by types.Address; a "donation attack" is simply
a Transfer straight into a component's account, bypassing its entry points.

*/

package token

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/logger"
	"github.com/meridian-fi/rvm/internal/types"
)

var (
	ErrZeroAddress         = errors.New("address is the zero address")
	ErrZeroAmount          = errors.New("amount is zero")
	ErrNegativeAmount      = errors.New("amount is negative")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Ledger is a minimal fungible token: balances plus total supply. All
// mutation is floor-free integer arithmetic; there is nothing to round.
type Ledger struct {
	mu       sync.Mutex
	symbol   string
	decimals int
	balances map[types.Address]sdkmath.Int
	total    sdkmath.Int
}

// NewLedger creates an empty ledger for the given token symbol.
func NewLedger(symbol string, decimals int) *Ledger {
	return &Ledger{
		symbol:   symbol,
		decimals: decimals,
		balances: make(map[types.Address]sdkmath.Int),
		total:    sdkmath.ZeroInt(),
	}
}

var tokenLogger = logger.GetForComponent("token_ledger")

// Symbol returns the token symbol.
func (l *Ledger) Symbol() string { return l.symbol }

// Decimals returns the token's decimal precision.
func (l *Ledger) Decimals() int { return l.decimals }

// BalanceOf returns the balance of the given account. Unknown accounts hold
// zero.
func (l *Ledger) BalanceOf(account types.Address) sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bal, ok := l.balances[account]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

// TotalSupply returns the aggregate minted supply.
func (l *Ledger) TotalSupply() sdkmath.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Mint credits newly created tokens to an account.
func (l *Ledger) Mint(to types.Address, amount sdkmath.Int) error {
	if to.IsZero() {
		return ErrZeroAddress
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] = l.balanceLocked(to).Add(amount)
	l.total = l.total.Add(amount)
	return nil
}

// Burn destroys tokens held by an account.
func (l *Ledger) Burn(from types.Address, amount sdkmath.Int) error {
	if from.IsZero() {
		return ErrZeroAddress
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s %s, burn of %s requested",
			ErrInsufficientBalance, from, bal, l.symbol, amount)
	}
	l.balances[from] = bal.Sub(amount)
	l.total = l.total.Sub(amount)
	return nil
}

// Transfer moves tokens between accounts.
func (l *Ledger) Transfer(from, to types.Address, amount sdkmath.Int) error {
	if from.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balanceLocked(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s %s, transfer of %s requested",
			ErrInsufficientBalance, from, bal, l.symbol, amount)
	}
	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balanceLocked(to).Add(amount)
	tokenLogger.Debug().
		Str("token", l.symbol).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("amount", amount.String()).
		Msg("Transfer executed")
	return nil
}

func (l *Ledger) balanceLocked(account types.Address) sdkmath.Int {
	if bal, ok := l.balances[account]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

func validateAmount(amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsZero() {
		return ErrZeroAmount
	}
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}
