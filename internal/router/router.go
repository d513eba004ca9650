/*

Yield router: owns the registry of active yield destinations, their
basis-point weights, and the proportional allocation, donation-resistant
valuation and harvest algorithms. The router's view of its own liquidity is
the trackedLiquidBalance ledger, updated only by explicit flows; the raw
observable balance is consulted only by the donation rescue.

*/

package router

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/meridian-fi/rvm/internal/logger"
	"github.com/meridian-fi/rvm/internal/oracle"
	"github.com/meridian-fi/rvm/internal/protocols"
	"github.com/meridian-fi/rvm/internal/token"
	"github.com/meridian-fi/rvm/internal/types"
)

var (
	ErrZeroAddress                = errors.New("address is the zero address")
	ErrZeroAmount                 = errors.New("amount is zero")
	ErrAssetAlreadyExists         = errors.New("yield asset already registered")
	ErrMaxYieldAssetsReached      = errors.New("yield asset registry is full")
	ErrAssetNotFound              = errors.New("yield asset not found")
	ErrAssetStillActive           = errors.New("yield asset still has weight or balance")
	ErrLengthMismatch             = errors.New("weights length does not match asset count")
	ErrInvalidTotalWeight         = errors.New("weights must sum to exactly 10000 bps")
	ErrInvalidAssetType           = errors.New("asset type is unknown")
	ErrAdapterMismatch            = errors.New("adapter does not expose the accessors its asset type requires")
	ErrOnlyVault                  = errors.New("caller is not the registered vault")
	ErrOnlyManager                = errors.New("caller does not hold the manager role")
	ErrOnlyOwner                  = errors.New("caller is not the owner")
	ErrVaultNotSet                = errors.New("vault is not configured")
	ErrInsufficientLiquidity      = errors.New("insufficient liquidity across yield destinations")
	ErrUpkeepNotNeeded            = errors.New("upkeep conditions are not met")
	ErrAutomationIntervalTooShort = errors.New("automation interval is below the minimum")
	ErrAutomationIntervalTooLong  = errors.New("automation interval exceeds the duration range")
)

// MinAccrualInterval is the smallest nonzero automation interval.
const MinAccrualInterval = time.Hour

// maxAccrualIntervalSeconds bounds the interval so the second conversion
// cannot overflow time.Duration.
const maxAccrualIntervalSeconds = uint64(math.MaxInt64 / int64(time.Second))

// RebaseTarget is the narrow vault interface the router pushes harvested
// yield through. The call is restricted on the vault side to the registered
// router caller.
type RebaseTarget interface {
	Address() types.Address
	ApplyYieldAccrual(caller types.Address, delta sdkmath.Int) (types.AccrualOutcome, error)
}

// assetEntry is one registered destination with its valuation accessors
// resolved once at registration time.
type assetEntry struct {
	cfg     types.YieldAsset
	adapter protocols.Adapter

	// Exactly one of these is set, matching cfg.Type.
	shareConv protocols.ShareConverter
	feed      oracle.PriceFeed
	rate      protocols.RateProvider
}

// Config wires a router's dependencies.
type Config struct {
	Address    types.Address
	Owner      types.Address
	Underlying *token.Ledger
	Sink       types.EventSink
	// Now is the time source; defaults to time.Now.
	Now func() time.Time
}

// Router is the yield-routing engine. One lock serializes every public
// operation.
type Router struct {
	mu  sync.Mutex
	log zerolog.Logger

	addr       types.Address
	owner      types.Address
	underlying *token.Ledger
	sink       types.EventSink
	now        func() time.Time

	managers  map[types.Address]bool
	vaultAddr types.Address
	vault     RebaseTarget
	skyConfig types.SkyConfig

	assets                 []*assetEntry
	trackedLiquidBalance   sdkmath.Int
	lastObservedTotalValue sdkmath.Int
	lastAccrualTimestamp   time.Time
	accrualInterval        time.Duration
}

// New creates a router with an empty registry.
func New(cfg Config) (*Router, error) {
	if cfg.Address.IsZero() || cfg.Owner.IsZero() {
		return nil, ErrZeroAddress
	}
	if cfg.Underlying == nil {
		return nil, errors.New("underlying ledger cannot be nil")
	}
	sink := cfg.Sink
	if sink == nil {
		sink = types.NewMemorySink()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		log:                    logger.GetForComponent("yield_router"),
		addr:                   cfg.Address,
		owner:                  cfg.Owner,
		underlying:             cfg.Underlying,
		sink:                   sink,
		now:                    now,
		managers:               map[types.Address]bool{cfg.Owner: true},
		trackedLiquidBalance:   sdkmath.ZeroInt(),
		lastObservedTotalValue: sdkmath.ZeroInt(),
	}, nil
}

// Address returns the router's account on the underlying ledger.
func (r *Router) Address() types.Address { return r.addr }

// SetVault registers the vault the router serves.
func (r *Router) SetVault(caller types.Address, vault RebaseTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrOnlyOwner
	}
	if vault == nil || vault.Address().IsZero() {
		return ErrZeroAddress
	}
	r.vault = vault
	r.vaultAddr = vault.Address()
	return nil
}

// SetSkyConfig registers the savings-token collaborator addresses.
func (r *Router) SetSkyConfig(caller types.Address, cfg types.SkyConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrOnlyOwner
	}
	if cfg.SwapFacility.IsZero() || cfg.IntermediateToken.IsZero() || cfg.SavingsToken.IsZero() {
		return ErrZeroAddress
	}
	r.skyConfig = cfg
	return nil
}

// GrantManager gives an address the manager role.
func (r *Router) GrantManager(caller, manager types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrOnlyOwner
	}
	if manager.IsZero() {
		return ErrZeroAddress
	}
	r.managers[manager] = true
	return nil
}

// RevokeManager removes the manager role.
func (r *Router) RevokeManager(caller, manager types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrOnlyOwner
	}
	delete(r.managers, manager)
	return nil
}

// AssetConfig describes a destination being registered.
type AssetConfig struct {
	Token        types.Address
	Underlying   types.Address
	Counterparty types.Address
	Type         types.AssetType
	Adapter      protocols.Adapter
	// Feed is required for OracleValuedReceipt assets, ignored otherwise.
	Feed oracle.PriceFeed
}

// AddYieldAsset registers a destination at weight zero. The valuation
// accessor for the asset's type is resolved here, not per call.
func (r *Router) AddYieldAsset(caller types.Address, cfg AssetConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.managers[caller] {
		return ErrOnlyManager
	}
	if cfg.Token.IsZero() || cfg.Underlying.IsZero() || cfg.Counterparty.IsZero() {
		return ErrZeroAddress
	}
	if !cfg.Type.Valid() {
		return ErrInvalidAssetType
	}
	if cfg.Adapter == nil {
		return fmt.Errorf("%w: nil adapter", ErrAdapterMismatch)
	}
	if len(r.assets) >= types.MaxYieldAssets {
		return ErrMaxYieldAssetsReached
	}
	for _, e := range r.assets {
		if e.cfg.Token == cfg.Token {
			return fmt.Errorf("%w: %s", ErrAssetAlreadyExists, cfg.Token)
		}
	}

	entry := &assetEntry{
		cfg: types.YieldAsset{
			Token:        cfg.Token,
			Underlying:   cfg.Underlying,
			Counterparty: cfg.Counterparty,
			Type:         cfg.Type,
			WeightBps:    0,
			Balance:      sdkmath.ZeroInt(),
		},
		adapter: cfg.Adapter,
	}
	switch cfg.Type {
	case types.AssetTypeVaultShare:
		conv, ok := cfg.Adapter.(protocols.ShareConverter)
		if !ok {
			return fmt.Errorf("%w: %s needs a share converter", ErrAdapterMismatch, cfg.Token)
		}
		entry.shareConv = conv
	case types.AssetTypeOracleValuedReceipt:
		if cfg.Feed == nil {
			return fmt.Errorf("%w: %s needs a price feed", ErrAdapterMismatch, cfg.Token)
		}
		entry.feed = cfg.Feed
	case types.AssetTypeSavingsToken:
		rate, ok := cfg.Adapter.(protocols.RateProvider)
		if !ok {
			return fmt.Errorf("%w: %s needs a rate provider", ErrAdapterMismatch, cfg.Token)
		}
		entry.rate = rate
	}

	r.assets = append(r.assets, entry)
	r.log.Info().
		Str("token", string(cfg.Token)).
		Str("type", cfg.Type.String()).
		Int("registered", len(r.assets)).
		Msg("Yield asset registered")
	r.sink.Record(types.AssetAddedEvent{Asset: entry.cfg})
	return nil
}

// UpdateWeights replaces the full weight vector in one all-or-nothing
// transition: the vector must cover every registered asset and sum to
// exactly 10000 bps (or all zeros to deactivate everything). Assets whose
// weight transitions to zero are drained; a drain failure is reported as an
// event and does not abort the update.
func (r *Router) UpdateWeights(caller types.Address, weights []uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.managers[caller] {
		return ErrOnlyManager
	}
	if len(weights) != len(r.assets) {
		return ErrLengthMismatch
	}
	// No single weight may exceed the total, which also keeps the sum from
	// wrapping.
	var sum uint64
	for _, w := range weights {
		if w > types.TotalWeightBps {
			return ErrInvalidTotalWeight
		}
		sum += w
	}
	if sum != types.TotalWeightBps && sum != 0 {
		return ErrInvalidTotalWeight
	}

	tokens := make([]types.Address, len(r.assets))
	for i, e := range r.assets {
		wasActive := e.cfg.WeightBps > 0
		e.cfg.WeightBps = weights[i]
		tokens[i] = e.cfg.Token
		if wasActive && weights[i] == 0 {
			if err := r.drainAsset(e); err != nil {
				// Tolerated: the asset keeps its balance at weight zero and
				// can be drained manually once the counterparty recovers.
				r.log.Warn().
					Err(err).
					Str("token", string(e.cfg.Token)).
					Msg("Auto-drain failed, weight update continues")
				r.sink.Record(types.DrainFailedEvent{Token: e.cfg.Token, Reason: err.Error()})
			}
		}
	}

	r.log.Info().Uint64("totalBps", sum).Msg("Weights updated")
	r.sink.Record(types.WeightsUpdatedEvent{Tokens: tokens, Weights: weights})
	return nil
}

// drainAsset fully withdraws a destination's position into the tracked
// liquid balance. Restricted to the weight-update sequence; this is the
// only caller, which is what keeps the drain primitive out of reach of
// external callers.
func (r *Router) drainAsset(e *assetEntry) error {
	value, err := r.valueOfLocked(e)
	if err != nil {
		return fmt.Errorf("drain valuation: %w", err)
	}
	if !value.IsPositive() {
		e.cfg.Balance = sdkmath.ZeroInt()
		return nil
	}

	prevBalance := e.cfg.Balance
	prevLiquid := r.trackedLiquidBalance
	e.cfg.Balance = sdkmath.ZeroInt()
	r.trackedLiquidBalance = r.trackedLiquidBalance.Add(value)

	if err := r.redeemFromSingleAsset(e, value); err != nil {
		e.cfg.Balance = prevBalance
		r.trackedLiquidBalance = prevLiquid
		return err
	}

	r.log.Info().
		Str("token", string(e.cfg.Token)).
		Str("amount", value.String()).
		Msg("Yield asset drained")
	r.sink.Record(types.AssetDrainedEvent{Token: e.cfg.Token, Amount: value})
	return nil
}

// redeemFromSingleAsset asks one adapter for underlying. Unexported on
// purpose: only the controlled drain sequence may trigger a single-asset
// redemption.
func (r *Router) redeemFromSingleAsset(e *assetEntry, amount sdkmath.Int) error {
	if err := e.adapter.Withdraw(amount); err != nil {
		return err
	}
	r.sink.Record(types.ProtocolWithdrawEvent{Token: e.cfg.Token, Amount: amount})
	return nil
}

// RemoveYieldAsset de-registers a destination. Requires weight zero and a
// zero tracked balance.
func (r *Router) RemoveYieldAsset(caller, assetToken types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.managers[caller] {
		return ErrOnlyManager
	}
	for i, e := range r.assets {
		if e.cfg.Token != assetToken {
			continue
		}
		if e.cfg.WeightBps != 0 || e.cfg.Balance.IsPositive() {
			return ErrAssetStillActive
		}
		r.assets = append(r.assets[:i], r.assets[i+1:]...)
		r.log.Info().Str("token", string(assetToken)).Msg("Yield asset removed")
		r.sink.Record(types.AssetRemovedEvent{Token: assetToken})
		return nil
	}
	return ErrAssetNotFound
}

// Assets returns a copy of the registry in registration order.
func (r *Router) Assets() []types.YieldAsset {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.YieldAsset, len(r.assets))
	for i, e := range r.assets {
		out[i] = e.cfg
	}
	return out
}

// TrackedLiquidBalance returns the router's recognized un-deployed balance.
func (r *Router) TrackedLiquidBalance() sdkmath.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trackedLiquidBalance
}

// LastObservedTotalValue returns the accrual baseline: the valuation at the
// last accrual, adjusted for principal that flowed in or out since.
func (r *Router) LastObservedTotalValue() sdkmath.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastObservedTotalValue
}

// LastAccrualTimestamp returns when yield was last harvested.
func (r *Router) LastAccrualTimestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAccrualTimestamp
}

// AccrualInterval returns the automation interval; zero means disabled.
func (r *Router) AccrualInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accrualInterval
}

// RescueDonatedTokens transfers underlying sitting on the router's account
// beyond the tracked liquid balance to the recipient.
func (r *Router) RescueDonatedTokens(caller, recipient types.Address) (sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return sdkmath.Int{}, ErrOnlyOwner
	}
	if recipient.IsZero() {
		return sdkmath.Int{}, ErrZeroAddress
	}
	raw := r.underlying.BalanceOf(r.addr)
	excess := raw.Sub(r.trackedLiquidBalance)
	if !excess.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	if err := r.underlying.Transfer(r.addr, recipient, excess); err != nil {
		return sdkmath.Int{}, err
	}
	r.log.Info().
		Str("recipient", string(recipient)).
		Str("amount", excess.String()).
		Msg("Donated tokens rescued from router")
	r.sink.Record(types.DonationRescuedEvent{Recipient: recipient, Amount: excess})
	return excess, nil
}

func (r *Router) activeAssets() []*assetEntry {
	var active []*assetEntry
	for _, e := range r.assets {
		if e.cfg.WeightBps > 0 {
			active = append(active, e)
		}
	}
	return active
}
