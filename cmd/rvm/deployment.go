package main

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/oracle"
	"github.com/meridian-fi/rvm/internal/protocols"
	"github.com/meridian-fi/rvm/internal/router"
	"github.com/meridian-fi/rvm/internal/token"
	"github.com/meridian-fi/rvm/internal/types"
	"github.com/meridian-fi/rvm/internal/vault"
)

// Well-known addresses for the in-process deployment. Protocol accounts are
// ledger identities, not network endpoints.
const (
	vaultAddress          = types.Address("rvm-vault")
	routerAddress         = types.Address("rvm-router")
	vaultProtocolAccount  = types.Address("proto-tokenized-vault")
	lendingPoolAccount    = types.Address("proto-lending-pool")
	redemptionAccount     = types.Address("proto-redemption-manager")
	swapFacilityAccount   = types.Address("sky-swap-facility")
	intermediateTokenAddr = types.Address("sky-intermediate-usd")
	savingsTokenAddr      = types.Address("sky-savings-usd")
)

// deployment is the fully wired in-process system.
type deployment struct {
	underlying *token.Ledger
	vault      *vault.Vault
	router     *router.Router

	vaultProtocol     *protocols.VaultProtocol
	lendingPool       *protocols.LendingPool
	redemptionManager *protocols.RedemptionManager
	savingsFacility   *protocols.SavingsFacility
}

// buildDeployment constructs the vault, router and the four yield
// destinations and wires them together under the configured roles. The
// default weight vector splits evenly at 2500 bps per destination.
func buildDeployment(sink types.EventSink, owner, treasury, manager, bridge types.Address, feeBps, accrualSeconds uint64) (*deployment, error) {
	underlying := token.NewLedger("USDm", 6)

	v, err := vault.New(vaultAddress, owner, treasury, underlying, sink)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	r, err := router.New(router.Config{
		Address:    routerAddress,
		Owner:      owner,
		Underlying: underlying,
		Sink:       sink,
	})
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	if err := r.SetVault(owner, v); err != nil {
		return nil, fmt.Errorf("wiring vault into router: %w", err)
	}
	if err := v.SetRouter(owner, r); err != nil {
		return nil, fmt.Errorf("wiring router into vault: %w", err)
	}
	if err := v.GrantBridge(owner, bridge); err != nil {
		return nil, fmt.Errorf("granting bridge role: %w", err)
	}
	if err := r.GrantManager(owner, manager); err != nil {
		return nil, fmt.Errorf("granting manager role: %w", err)
	}
	if err := v.SetRedemptionFee(owner, feeBps); err != nil {
		return nil, fmt.Errorf("setting redemption fee: %w", err)
	}
	if err := r.SetYieldAccrualInterval(owner, accrualSeconds); err != nil {
		return nil, fmt.Errorf("setting accrual interval: %w", err)
	}

	d := &deployment{
		underlying: underlying,
		vault:      v,
		router:     r,
	}
	if err := d.registerDestinations(owner); err != nil {
		return nil, err
	}
	return d, nil
}

// registerDestinations builds the four protocol simulations and activates
// them with an even weight split.
func (d *deployment) registerDestinations(owner types.Address) error {
	d.vaultProtocol = protocols.NewVaultProtocol(
		vaultProtocolAccount, routerAddress,
		d.underlying, token.NewLedger("mVLT", 6),
	)
	d.lendingPool = protocols.NewLendingPool(
		lendingPoolAccount, routerAddress,
		d.underlying, token.NewLedger("mLEND", 6),
	)

	// Oracle-valued receipts start at parity on an 8-decimal feed.
	feed := oracle.NewStaticFeed(8, oracle.RoundData{
		Price:           sdkmath.NewInt(100_000_000),
		UpdatedAt:       time.Now(),
		RoundID:         1,
		AnsweredInRound: 1,
	})
	d.redemptionManager = protocols.NewRedemptionManager(
		redemptionAccount, routerAddress,
		d.underlying, token.NewLedger("mUST", 6), feed,
	)

	skyCfg := types.SkyConfig{
		SwapFacility:      swapFacilityAccount,
		IntermediateToken: intermediateTokenAddr,
		SavingsToken:      savingsTokenAddr,
	}
	if err := d.router.SetSkyConfig(owner, skyCfg); err != nil {
		return fmt.Errorf("setting sky config: %w", err)
	}
	d.savingsFacility = protocols.NewSavingsFacility(
		skyCfg, routerAddress,
		d.underlying, token.NewLedger("USDi", 6), token.NewLedger("sUSDi", 6),
	)

	registrations := []router.AssetConfig{
		{
			Token:        d.vaultProtocol.ReceiptToken(),
			Underlying:   types.Address(d.underlying.Symbol()),
			Counterparty: vaultProtocolAccount,
			Type:         types.AssetTypeVaultShare,
			Adapter:      d.vaultProtocol,
		},
		{
			Token:        d.lendingPool.ReceiptToken(),
			Underlying:   types.Address(d.underlying.Symbol()),
			Counterparty: lendingPoolAccount,
			Type:         types.AssetTypeLendingReceipt,
			Adapter:      d.lendingPool,
		},
		{
			Token:        d.redemptionManager.ReceiptToken(),
			Underlying:   types.Address(d.underlying.Symbol()),
			Counterparty: redemptionAccount,
			Type:         types.AssetTypeOracleValuedReceipt,
			Adapter:      d.redemptionManager,
			Feed:         d.redemptionManager.Feed(),
		},
		{
			Token:        d.savingsFacility.ReceiptToken(),
			Underlying:   types.Address(d.underlying.Symbol()),
			Counterparty: swapFacilityAccount,
			Type:         types.AssetTypeSavingsToken,
			Adapter:      d.savingsFacility,
		},
	}
	for _, reg := range registrations {
		if err := d.router.AddYieldAsset(owner, reg); err != nil {
			return fmt.Errorf("registering %s: %w", reg.Token, err)
		}
	}

	weights := []uint64{2500, 2500, 2500, 2500}
	if err := d.router.UpdateWeights(owner, weights); err != nil {
		return fmt.Errorf("activating weights: %w", err)
	}
	return nil
}
