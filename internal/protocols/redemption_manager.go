package protocols

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/logger"
	"github.com/meridian-fi/rvm/internal/oracle"
	"github.com/meridian-fi/rvm/internal/token"
	"github.com/meridian-fi/rvm/internal/types"
)

var redemptionLogger = logger.GetForComponent("redemption_manager")

// RedemptionManager simulates a fixed-redemption-manager destination. The
// custody token has no deterministic on-ledger conversion; its value is only
// knowable through the external price feed, which is why the router's
// valuation branch for this asset type goes through the oracle validator.
//
// The manager can be flagged unavailable, which makes withdrawals fail. The
// router tolerates that failure on the auto-drain path only.
type RedemptionManager struct {
	mu          sync.Mutex
	account     types.Address
	router      types.Address
	underlying  *token.Ledger
	receipt     *token.Ledger
	feed        *oracle.StaticFeed
	unavailable bool
}

// NewRedemptionManager creates a redemption-manager destination priced by
// the given feed.
func NewRedemptionManager(account, router types.Address, underlying, receipt *token.Ledger, feed *oracle.StaticFeed) *RedemptionManager {
	return &RedemptionManager{
		account:    account,
		router:     router,
		underlying: underlying,
		receipt:    receipt,
		feed:       feed,
	}
}

// Deposit subscribes the underlying amount for custody tokens at the current
// oracle price.
func (p *RedemptionManager) Deposit(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unavailable {
		return ErrManagerUnavailable
	}
	round, err := p.feed.LatestRound()
	if err != nil {
		return fmt.Errorf("redemption manager price read: %w", err)
	}
	scale := pow10(p.feed.Decimals())
	receipts := amount.Mul(scale).Quo(round.Price)
	if !receipts.IsPositive() {
		return fmt.Errorf("%w: amount %s too small at price %s", ErrZeroAmount, amount, round.Price)
	}
	if err := p.underlying.Transfer(p.router, p.account, amount); err != nil {
		return fmt.Errorf("redemption manager subscribe: %w", err)
	}
	if err := p.receipt.Mint(p.router, receipts); err != nil {
		return fmt.Errorf("redemption manager receipt mint: %w", err)
	}
	return nil
}

// Withdraw redeems custody tokens for exactly the requested underlying
// amount at the current oracle price. Fails when the manager is unavailable.
func (p *RedemptionManager) Withdraw(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unavailable {
		return ErrManagerUnavailable
	}
	round, err := p.feed.LatestRound()
	if err != nil {
		return fmt.Errorf("redemption manager price read: %w", err)
	}
	scale := pow10(p.feed.Decimals())
	// Receipt cost rounds up; the manager never redeems below par.
	receipts := amount.Mul(scale).Add(round.Price).SubRaw(1).Quo(round.Price)
	held := p.receipt.BalanceOf(p.router)
	if receipts.GT(held) {
		receipts = held
	}
	if receipts.IsPositive() {
		if err := p.receipt.Burn(p.router, receipts); err != nil {
			return fmt.Errorf("redemption manager receipt burn: %w", err)
		}
	}
	if err := p.underlying.Transfer(p.account, p.router, amount); err != nil {
		return fmt.Errorf("redemption manager redeem: %w", err)
	}
	return nil
}

// ReceiptToken returns the custody token identifier.
func (p *RedemptionManager) ReceiptToken() types.Address {
	return types.Address(p.receipt.Symbol())
}

// ReceiptBalance returns the router's custody token holdings.
func (p *RedemptionManager) ReceiptBalance() sdkmath.Int {
	return p.receipt.BalanceOf(p.router)
}

// Feed returns the manager's price feed.
func (p *RedemptionManager) Feed() *oracle.StaticFeed {
	return p.feed
}

// SetUnavailable toggles the external manager's availability.
func (p *RedemptionManager) SetUnavailable(unavailable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unavailable = unavailable
	redemptionLogger.Warn().Bool("unavailable", unavailable).Msg("Redemption manager availability changed")
}

// CreditYield simulates price appreciation backing: underlying is minted into
// the manager so redemptions at a higher oracle price stay covered.
func (p *RedemptionManager) CreditYield(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.underlying.Mint(p.account, amount)
}

func pow10(decimals int) sdkmath.Int {
	scale := sdkmath.NewInt(1)
	ten := sdkmath.NewInt(10)
	for i := 0; i < decimals; i++ {
		scale = scale.Mul(ten)
	}
	return scale
}
