package protocols

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/logger"
	"github.com/meridian-fi/rvm/internal/token"
	"github.com/meridian-fi/rvm/internal/types"
)

var vaultProtoLogger = logger.GetForComponent("vault_protocol")

// VaultProtocol simulates a tokenized-vault destination: deposits mint
// receipt shares pro rata against the protocol's tracked assets, and the
// share price rises as yield is credited. Conversion is deterministic
// integer floor arithmetic; the protocol's own accounting never reads its
// raw ledger balance.
type VaultProtocol struct {
	mu          sync.Mutex
	account     types.Address
	router      types.Address
	underlying  *token.Ledger
	receipt     *token.Ledger
	totalAssets sdkmath.Int
}

// NewVaultProtocol creates an empty tokenized-vault destination.
func NewVaultProtocol(account, router types.Address, underlying, receipt *token.Ledger) *VaultProtocol {
	return &VaultProtocol{
		account:     account,
		router:      router,
		underlying:  underlying,
		receipt:     receipt,
		totalAssets: sdkmath.ZeroInt(),
	}
}

// Deposit pulls underlying from the router and mints receipt shares.
func (p *VaultProtocol) Deposit(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	shares := amount
	supply := p.receipt.TotalSupply()
	if supply.IsPositive() && p.totalAssets.IsPositive() {
		shares = amount.Mul(supply).Quo(p.totalAssets)
	}
	if err := p.underlying.Transfer(p.router, p.account, amount); err != nil {
		return fmt.Errorf("vault protocol deposit: %w", err)
	}
	if err := p.receipt.Mint(p.router, shares); err != nil {
		return fmt.Errorf("vault protocol share mint: %w", err)
	}
	p.totalAssets = p.totalAssets.Add(amount)
	return nil
}

// Withdraw burns the share cost of the requested amount and returns exactly
// that amount of underlying to the router.
func (p *VaultProtocol) Withdraw(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.totalAssets.LT(amount) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientFunds, p.totalAssets, amount)
	}
	supply := p.receipt.TotalSupply()
	// Share cost rounds up so the protocol never pays out more than the
	// burned shares are worth.
	shares := amount.Mul(supply).Add(p.totalAssets).SubRaw(1).Quo(p.totalAssets)
	held := p.receipt.BalanceOf(p.router)
	if shares.GT(held) {
		shares = held
	}
	if shares.IsPositive() {
		if err := p.receipt.Burn(p.router, shares); err != nil {
			return fmt.Errorf("vault protocol share burn: %w", err)
		}
	}
	if err := p.underlying.Transfer(p.account, p.router, amount); err != nil {
		return fmt.Errorf("vault protocol withdraw: %w", err)
	}
	p.totalAssets = p.totalAssets.Sub(amount)
	return nil
}

// ConvertToAssets returns the underlying value of the given share amount.
func (p *VaultProtocol) ConvertToAssets(shares sdkmath.Int) sdkmath.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	supply := p.receipt.TotalSupply()
	if shares.IsNil() || !shares.IsPositive() || !supply.IsPositive() {
		return sdkmath.ZeroInt()
	}
	return shares.Mul(p.totalAssets).Quo(supply)
}

// ReceiptToken returns the receipt token identifier.
func (p *VaultProtocol) ReceiptToken() types.Address {
	return types.Address(p.receipt.Symbol())
}

// ReceiptBalance returns the router's share holdings.
func (p *VaultProtocol) ReceiptBalance() sdkmath.Int {
	return p.receipt.BalanceOf(p.router)
}

// CreditYield simulates the destination earning yield: real underlying is
// minted into the protocol and the share price rises accordingly.
func (p *VaultProtocol) CreditYield(amount sdkmath.Int) error {
	if err := validatePositive(amount); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.underlying.Mint(p.account, amount); err != nil {
		return err
	}
	p.totalAssets = p.totalAssets.Add(amount)
	vaultProtoLogger.Debug().
		Str("amount", amount.String()).
		Str("totalAssets", p.totalAssets.String()).
		Msg("Yield credited to vault protocol")
	return nil
}
