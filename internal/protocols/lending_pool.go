package protocols

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/logger"
	"github.com/meridian-fi/rvm/internal/token"
	"github.com/meridian-fi/rvm/internal/types"
)

var lendingLogger = logger.GetForComponent("lending_pool")

// LendingPool simulates a lending-pool destination. The receipt token is
// par-valued to the underlying: deposits mint 1:1, withdrawals burn 1:1,
// and interest arrives as additional receipt tokens credited to the holder.
type LendingPool struct {
	mu         sync.Mutex
	account    types.Address
	router     types.Address
	underlying *token.Ledger
	receipt    *token.Ledger
}

// NewLendingPool creates an empty lending-pool destination.
func NewLendingPool(account, router types.Address, underlying, receipt *token.Ledger) *LendingPool {
	return &LendingPool{
		account:    account,
		router:     router,
		underlying: underlying,
		receipt:    receipt,
	}
}

// Deposit pulls underlying from the router and mints receipt 1:1.
func (p *LendingPool) Deposit(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.underlying.Transfer(p.router, p.account, amount); err != nil {
		return fmt.Errorf("lending pool deposit: %w", err)
	}
	if err := p.receipt.Mint(p.router, amount); err != nil {
		return fmt.Errorf("lending pool receipt mint: %w", err)
	}
	return nil
}

// Withdraw burns receipt 1:1 and returns underlying to the router.
func (p *LendingPool) Withdraw(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.receipt.BalanceOf(p.router).LT(amount) {
		return fmt.Errorf("%w: receipt balance %s below %s",
			ErrInsufficientFunds, p.receipt.BalanceOf(p.router), amount)
	}
	if err := p.receipt.Burn(p.router, amount); err != nil {
		return fmt.Errorf("lending pool receipt burn: %w", err)
	}
	if err := p.underlying.Transfer(p.account, p.router, amount); err != nil {
		return fmt.Errorf("lending pool withdraw: %w", err)
	}
	return nil
}

// ReceiptToken returns the receipt token identifier.
func (p *LendingPool) ReceiptToken() types.Address {
	return types.Address(p.receipt.Symbol())
}

// ReceiptBalance returns the router's receipt holdings.
func (p *LendingPool) ReceiptBalance() sdkmath.Int {
	return p.receipt.BalanceOf(p.router)
}

// CreditInterest simulates accrued interest: the router's receipt balance
// grows and matching underlying is minted into the pool so later withdrawals
// stay fully backed.
func (p *LendingPool) CreditInterest(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.receipt.Mint(p.router, amount); err != nil {
		return err
	}
	if err := p.underlying.Mint(p.account, amount); err != nil {
		return err
	}
	lendingLogger.Debug().Str("amount", amount.String()).Msg("Interest credited to lending pool")
	return nil
}
