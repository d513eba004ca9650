package router

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/types"
)

// DepositToProtocols splits an inbound deposit across the active assets by
// weight and pushes each portion to its adapter. Callable only by the vault,
// which has already transferred the underlying to the router's account.
// With no active assets the amount stays in the tracked liquid balance.
func (r *Router) DepositToProtocols(caller types.Address, amount sdkmath.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// An unconfigured router has no liquidity to allocate; the caller sees
	// the same error an empty router would produce.
	if r.vault == nil {
		return ErrInsufficientLiquidity
	}
	if caller != r.vaultAddr {
		return ErrOnlyVault
	}
	if !amount.IsPositive() {
		return ErrZeroAmount
	}

	// Principal flows move the accrual baseline too, so only genuine value
	// growth ever reads as yield.
	r.trackedLiquidBalance = r.trackedLiquidBalance.Add(amount)
	r.lastObservedTotalValue = r.lastObservedTotalValue.Add(amount)

	active := r.activeAssets()
	if len(active) == 0 {
		r.log.Debug().
			Str("amount", amount.String()).
			Msg("No active assets, deposit held liquid")
		return nil
	}

	portions := splitByWeight(amount, active)
	if err := r.deployPortions(active, portions); err != nil {
		r.trackedLiquidBalance = r.trackedLiquidBalance.Sub(amount)
		r.lastObservedTotalValue = r.lastObservedTotalValue.Sub(amount)
		return err
	}
	return nil
}

// deployPortions moves each nonzero portion from the liquid balance into
// its destination. On a mid-loop failure every already-deployed portion is
// pulled back so the caller can restore its own state and refund.
func (r *Router) deployPortions(active []*assetEntry, portions []sdkmath.Int) error {
	for i, e := range active {
		portion := portions[i]
		if portion.IsZero() {
			continue
		}
		e.cfg.Balance = e.cfg.Balance.Add(portion)
		r.trackedLiquidBalance = r.trackedLiquidBalance.Sub(portion)
		if err := e.adapter.Deposit(portion); err != nil {
			e.cfg.Balance = e.cfg.Balance.Sub(portion)
			r.trackedLiquidBalance = r.trackedLiquidBalance.Add(portion)
			r.unwindDeposits(active, portions, i)
			return fmt.Errorf("deploying %s to %s: %w", portion, e.cfg.Token, err)
		}
		r.sink.Record(types.ProtocolDepositEvent{Token: e.cfg.Token, Amount: portion})
	}
	return nil
}

// unwindDeposits withdraws the portions deployed before index failed.
// Withdrawal errors during unwind are logged and skipped; the tracked
// state is restored regardless so the ledgers stay consistent with the
// refund the vault is about to issue.
func (r *Router) unwindDeposits(active []*assetEntry, portions []sdkmath.Int, failed int) {
	for j := 0; j < failed; j++ {
		e := active[j]
		portion := portions[j]
		if portion.IsZero() {
			continue
		}
		e.cfg.Balance = e.cfg.Balance.Sub(portion)
		r.trackedLiquidBalance = r.trackedLiquidBalance.Add(portion)
		if err := e.adapter.Withdraw(portion); err != nil {
			r.log.Error().
				Err(err).
				Str("token", string(e.cfg.Token)).
				Str("amount", portion.String()).
				Msg("Unwind withdrawal failed")
		}
	}
}

// RedeemFromProtocols produces the requested amount of underlying at the
// vault's account: the tracked liquid buffer is consumed first and any
// remainder is withdrawn from the active assets, targeted by the same weight
// split deposits use but never beyond what a destination really holds.
func (r *Router) RedeemFromProtocols(caller types.Address, amount sdkmath.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.vault == nil {
		return ErrInsufficientLiquidity
	}
	if caller != r.vaultAddr {
		return ErrOnlyVault
	}
	if !amount.IsPositive() {
		return ErrZeroAmount
	}

	fromLiquid := sdkmath.MinInt(r.trackedLiquidBalance, amount)
	fromAssets := amount.Sub(fromLiquid)

	if fromAssets.IsPositive() {
		active := r.activeAssets()
		if len(active) == 0 {
			return ErrInsufficientLiquidity
		}
		if err := r.withdrawFromAssets(fromAssets, active); err != nil {
			return err
		}
	}

	r.trackedLiquidBalance = r.trackedLiquidBalance.Sub(fromLiquid)
	prevObserved := r.lastObservedTotalValue
	r.lastObservedTotalValue = sdkmath.MaxInt(r.lastObservedTotalValue.Sub(amount), sdkmath.ZeroInt())
	if err := r.underlying.Transfer(r.addr, r.vaultAddr, amount); err != nil {
		r.trackedLiquidBalance = r.trackedLiquidBalance.Add(fromLiquid)
		r.lastObservedTotalValue = prevObserved
		return err
	}
	return nil
}

// withdrawFromAssets pulls amount out of the active destinations. The weight
// split sets each destination's target, but every withdrawal is clamped to
// the destination's real current value; whatever a clamped destination could
// not cover is swept from the remaining value elsewhere. Only when the active
// destinations genuinely hold less than the request does the call fail.
func (r *Router) withdrawFromAssets(amount sdkmath.Int, active []*assetEntry) error {
	portions := splitByWeight(amount, active)
	prevBalances := make([]sdkmath.Int, len(active))
	taken := make([]sdkmath.Int, len(active))
	for i, e := range active {
		prevBalances[i] = e.cfg.Balance
		taken[i] = sdkmath.ZeroInt()
	}

	remaining := amount
	for i, e := range active {
		want := sdkmath.MinInt(portions[i], remaining)
		if !want.IsPositive() {
			continue
		}
		got, err := r.takeFromAsset(e, want)
		if err != nil {
			r.rewindWithdrawals(active, prevBalances, taken)
			return err
		}
		taken[i] = got
		remaining = remaining.Sub(got)
	}
	for i, e := range active {
		if !remaining.IsPositive() {
			break
		}
		got, err := r.takeFromAsset(e, remaining)
		if err != nil {
			r.rewindWithdrawals(active, prevBalances, taken)
			return err
		}
		taken[i] = taken[i].Add(got)
		remaining = remaining.Sub(got)
	}
	if remaining.IsPositive() {
		r.rewindWithdrawals(active, prevBalances, taken)
		return fmt.Errorf("%w: %s short", ErrInsufficientLiquidity, remaining)
	}
	return nil
}

// takeFromAsset withdraws up to want from one destination, clamped to its
// current value, and returns the amount actually withdrawn.
func (r *Router) takeFromAsset(e *assetEntry, want sdkmath.Int) (sdkmath.Int, error) {
	avail, err := r.valueOfLocked(e)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("valuing %s: %w", e.cfg.Token, err)
	}
	take := sdkmath.MinInt(want, avail)
	if !take.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	prev := e.cfg.Balance
	e.cfg.Balance = sdkmath.MaxInt(e.cfg.Balance.Sub(take), sdkmath.ZeroInt())
	if err := e.adapter.Withdraw(take); err != nil {
		e.cfg.Balance = prev
		return sdkmath.Int{}, fmt.Errorf("withdrawing %s from %s: %w", take, e.cfg.Token, err)
	}
	r.sink.Record(types.ProtocolWithdrawEvent{Token: e.cfg.Token, Amount: take})
	return take, nil
}

func (r *Router) rewindWithdrawals(active []*assetEntry, prevBalances, taken []sdkmath.Int) {
	for i, e := range active {
		amt := taken[i]
		if amt.IsZero() {
			continue
		}
		e.cfg.Balance = prevBalances[i]
		if err := e.adapter.Deposit(amt); err != nil {
			r.log.Error().
				Err(err).
				Str("token", string(e.cfg.Token)).
				Str("amount", amt.String()).
				Msg("Rewind deposit failed")
		}
	}
}

// splitByWeight divides amount across the active assets proportionally to
// their basis-point weights, flooring each portion. The last active asset
// absorbs the rounding remainder so the portions always sum to amount
// exactly.
func splitByWeight(amount sdkmath.Int, active []*assetEntry) []sdkmath.Int {
	portions := make([]sdkmath.Int, len(active))
	remaining := amount
	for i, e := range active {
		if i == len(active)-1 {
			portions[i] = remaining
			break
		}
		portion := amount.MulRaw(int64(e.cfg.WeightBps)).QuoRaw(types.TotalWeightBps)
		portions[i] = portion
		remaining = remaining.Sub(portion)
	}
	return portions
}
