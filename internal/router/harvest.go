package router

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/types"
)

// harvestResult carries a completed harvest out of the router's lock so the
// vault push happens without holding it. The vault takes the router lock
// ordering the other way around on deposits, so the router must never call
// into the vault while locked.
type harvestResult struct {
	vault    RebaseTarget
	previous sdkmath.Int
	current  sdkmath.Int
	delta    sdkmath.Int
	at       time.Time
}

// AccrueYield harvests any positive value growth since the last observation
// and folds it into the vault's backing and rebase index. A flat or negative
// delta is a logged no-op that leaves the observation baseline untouched.
// Manager-gated.
func (r *Router) AccrueYield(caller types.Address) (types.YieldAccruedEvent, error) {
	r.mu.Lock()
	if !r.managers[caller] {
		r.mu.Unlock()
		return types.YieldAccruedEvent{}, ErrOnlyManager
	}
	res, err := r.harvestLocked()
	r.mu.Unlock()
	if err != nil || !res.delta.IsPositive() {
		return types.YieldAccruedEvent{}, err
	}
	return r.pushAccrual(res)
}

// harvestLocked values the full position, withdraws any growth into the
// tracked liquid balance and advances the observation baseline. Caller holds
// the lock. A zero-delta result with nil error means nothing to accrue.
func (r *Router) harvestLocked() (harvestResult, error) {
	zero := harvestResult{delta: sdkmath.ZeroInt()}
	if r.vault == nil {
		return zero, ErrVaultNotSet
	}

	current, err := r.totalValueLocked()
	if err != nil {
		return zero, fmt.Errorf("accrual valuation: %w", err)
	}

	if current.LT(r.lastObservedTotalValue) {
		r.log.Warn().
			Str("observed", current.String()).
			Str("baseline", r.lastObservedTotalValue.String()).
			Msg("Total value declined, accrual skipped")
		return zero, nil
	}
	delta := current.Sub(r.lastObservedTotalValue)
	if !delta.IsPositive() {
		r.log.Debug().Msg("No yield since last accrual")
		return zero, nil
	}

	harvested, err := r.harvestGrowth()
	if err != nil {
		return zero, fmt.Errorf("harvest: %w", err)
	}
	r.trackedLiquidBalance = r.trackedLiquidBalance.Add(harvested)
	r.lastObservedTotalValue = current

	now := r.now()
	r.lastAccrualTimestamp = now
	return harvestResult{
		vault:    r.vault,
		previous: current.Sub(delta),
		current:  current,
		delta:    delta,
		at:       now,
	}, nil
}

// pushAccrual hands the harvested delta to the vault. Called without the
// router lock held.
func (r *Router) pushAccrual(res harvestResult) (types.YieldAccruedEvent, error) {
	outcome, err := res.vault.ApplyYieldAccrual(r.addr, res.delta)
	if err != nil {
		r.log.Error().
			Err(err).
			Str("delta", res.delta.String()).
			Msg("Vault rejected accrual, harvested yield held liquid")
		return types.YieldAccruedEvent{}, fmt.Errorf("pushing accrual: %w", err)
	}

	ev := types.YieldAccruedEvent{
		PreviousValue: res.previous,
		CurrentValue:  res.current,
		Delta:         res.delta,
		OldIndex:      outcome.OldIndex,
		NewIndex:      outcome.NewIndex,
		Timestamp:     res.at,
	}
	r.log.Info().
		Str("delta", res.delta.String()).
		Str("oldIndex", outcome.OldIndex.String()).
		Str("newIndex", outcome.NewIndex.String()).
		Msg("Yield accrued")
	r.sink.Record(ev)
	return ev, nil
}

// harvestGrowth withdraws each destination's value above its tracked
// principal balance. Growth is taken from where it actually accrued, so a
// destination that stayed flat is never tapped and every principal ledger
// stays truthful regardless of how unevenly the destinations perform.
// Returns the total amount withdrawn; growth already sitting on the liquid
// balance, for example a drained position's final interest, needs no
// withdrawal at all.
func (r *Router) harvestGrowth() (sdkmath.Int, error) {
	taken := make([]sdkmath.Int, len(r.assets))
	total := sdkmath.ZeroInt()
	for i, e := range r.assets {
		taken[i] = sdkmath.ZeroInt()
		value, err := r.valueOfLocked(e)
		if err != nil {
			r.rewindHarvest(taken)
			return sdkmath.Int{}, fmt.Errorf("valuing %s: %w", e.cfg.Token, err)
		}
		excess := value.Sub(e.cfg.Balance)
		if !excess.IsPositive() {
			continue
		}
		if err := e.adapter.Withdraw(excess); err != nil {
			r.rewindHarvest(taken)
			return sdkmath.Int{}, fmt.Errorf("harvesting %s from %s: %w", excess, e.cfg.Token, err)
		}
		r.sink.Record(types.ProtocolWithdrawEvent{Token: e.cfg.Token, Amount: excess})
		taken[i] = excess
		total = total.Add(excess)
	}
	return total, nil
}

func (r *Router) rewindHarvest(taken []sdkmath.Int) {
	for i, amt := range taken {
		if amt.IsNil() || amt.IsZero() {
			continue
		}
		if err := r.assets[i].adapter.Deposit(amt); err != nil {
			r.log.Error().
				Err(err).
				Str("token", string(r.assets[i].cfg.Token)).
				Msg("Harvest rewind failed")
		}
	}
}

// CheckUpkeep reports whether automated accrual should run: the interval
// must be enabled and elapsed, and a fresh valuation must exceed the last
// observed baseline.
func (r *Router) CheckUpkeep() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upkeepNeededLocked()
}

func (r *Router) upkeepNeededLocked() (bool, error) {
	if r.accrualInterval == 0 {
		return false, nil
	}
	if r.now().Sub(r.lastAccrualTimestamp) < r.accrualInterval {
		return false, nil
	}
	current, err := r.totalValueLocked()
	if err != nil {
		return false, err
	}
	return current.GT(r.lastObservedTotalValue), nil
}

// PerformUpkeep re-validates the upkeep predicate and accrues. The
// re-validation means a stale external trigger cannot force an accrual.
func (r *Router) PerformUpkeep() (types.YieldAccruedEvent, error) {
	r.mu.Lock()
	needed, err := r.upkeepNeededLocked()
	if err != nil {
		r.mu.Unlock()
		return types.YieldAccruedEvent{}, err
	}
	if !needed {
		r.mu.Unlock()
		return types.YieldAccruedEvent{}, ErrUpkeepNotNeeded
	}
	res, err := r.harvestLocked()
	r.mu.Unlock()
	if err != nil || !res.delta.IsPositive() {
		return types.YieldAccruedEvent{}, err
	}
	return r.pushAccrual(res)
}

// SetYieldAccrualInterval sets the automation interval in seconds. Zero
// disables automation; any other value below one hour or beyond the duration
// range is rejected.
func (r *Router) SetYieldAccrualInterval(caller types.Address, seconds uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.managers[caller] {
		return ErrOnlyManager
	}
	if seconds > maxAccrualIntervalSeconds {
		return ErrAutomationIntervalTooLong
	}
	if seconds != 0 && time.Duration(seconds)*time.Second < MinAccrualInterval {
		return ErrAutomationIntervalTooShort
	}
	old := uint64(r.accrualInterval / time.Second)
	r.accrualInterval = time.Duration(seconds) * time.Second
	r.log.Info().
		Uint64("oldSeconds", old).
		Uint64("newSeconds", seconds).
		Msg("Accrual interval updated")
	r.sink.Record(types.AccrualIntervalUpdatedEvent{OldSeconds: old, NewSeconds: seconds})
	return nil
}
