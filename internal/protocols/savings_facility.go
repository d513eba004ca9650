package protocols

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/logger"
	"github.com/meridian-fi/rvm/internal/token"
	"github.com/meridian-fi/rvm/internal/types"
)

var savingsLogger = logger.GetForComponent("savings_facility")

// SavingsFacility simulates a PSM-style savings destination: underlying is
// swapped 1:1 into an intermediate token at the swap facility, then staked
// into a savings token whose exchange rate (underlying per share, as an
// integer fraction) grows as yield accrues.
type SavingsFacility struct {
	mu           sync.Mutex
	cfg          types.SkyConfig
	router       types.Address
	underlying   *token.Ledger
	intermediate *token.Ledger
	savings      *token.Ledger
	rateNum      sdkmath.Int
	rateDen      sdkmath.Int
}

// NewSavingsFacility creates a savings destination at a 1.0 exchange rate.
func NewSavingsFacility(cfg types.SkyConfig, router types.Address, underlying, intermediate, savings *token.Ledger) *SavingsFacility {
	return &SavingsFacility{
		cfg:          cfg,
		router:       router,
		underlying:   underlying,
		intermediate: intermediate,
		savings:      savings,
		rateNum:      sdkmath.NewInt(1),
		rateDen:      sdkmath.NewInt(1),
	}
}

// Deposit swaps underlying into the intermediate token and stakes it,
// minting savings shares at the current exchange rate.
func (p *SavingsFacility) Deposit(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	// Swap leg: underlying moves to the facility, intermediate is issued to
	// the router at par.
	if err := p.underlying.Transfer(p.router, p.cfg.SwapFacility, amount); err != nil {
		return fmt.Errorf("savings swap leg: %w", err)
	}
	if err := p.intermediate.Mint(p.router, amount); err != nil {
		return fmt.Errorf("savings intermediate mint: %w", err)
	}
	// Stake leg: intermediate is consumed, savings shares minted at rate.
	if err := p.intermediate.Burn(p.router, amount); err != nil {
		return fmt.Errorf("savings intermediate burn: %w", err)
	}
	shares := amount.Mul(p.rateDen).Quo(p.rateNum)
	if !shares.IsPositive() {
		return fmt.Errorf("%w: amount %s below one share at current rate", ErrZeroAmount, amount)
	}
	if err := p.savings.Mint(p.router, shares); err != nil {
		return fmt.Errorf("savings share mint: %w", err)
	}
	return nil
}

// Withdraw unstakes enough savings shares at the current rate and swaps back
// to exactly the requested underlying amount.
func (p *SavingsFacility) Withdraw(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	// Share cost rounds up.
	shares := amount.Mul(p.rateDen).Add(p.rateNum).SubRaw(1).Quo(p.rateNum)
	held := p.savings.BalanceOf(p.router)
	if shares.GT(held) {
		shares = held
	}
	if shares.IsPositive() {
		if err := p.savings.Burn(p.router, shares); err != nil {
			return fmt.Errorf("savings share burn: %w", err)
		}
	}
	if err := p.underlying.Transfer(p.cfg.SwapFacility, p.router, amount); err != nil {
		return fmt.Errorf("savings swap-back leg: %w", err)
	}
	return nil
}

// ReceiptToken returns the savings token identifier.
func (p *SavingsFacility) ReceiptToken() types.Address {
	return types.Address(p.savings.Symbol())
}

// ReceiptBalance returns the router's savings share holdings.
func (p *SavingsFacility) ReceiptBalance() sdkmath.Int {
	return p.savings.BalanceOf(p.router)
}

// ExchangeRate returns the underlying-per-share rate as (num, den).
func (p *SavingsFacility) ExchangeRate() (num, den sdkmath.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rateNum, p.rateDen
}

// CreditYield simulates savings yield: the exchange rate rises so existing
// shares are worth more, and matching underlying is minted into the swap
// facility so redemptions stay covered.
func (p *SavingsFacility) CreditYield(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	supply := p.savings.TotalSupply()
	if !supply.IsPositive() {
		return fmt.Errorf("%w: no staked shares to credit", ErrInsufficientFunds)
	}
	if err := p.underlying.Mint(p.cfg.SwapFacility, amount); err != nil {
		return err
	}
	// rate' = rate + amount/supply, kept as a fraction over the share supply.
	currentValue := supply.Mul(p.rateNum).Quo(p.rateDen)
	p.rateNum = currentValue.Add(amount)
	p.rateDen = supply
	savingsLogger.Debug().
		Str("amount", amount.String()).
		Str("rateNum", p.rateNum.String()).
		Str("rateDen", p.rateDen.String()).
		Msg("Yield credited to savings facility")
	return nil
}
