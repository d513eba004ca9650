package router_test

import (
	"errors"
	"math"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fi/rvm/internal/oracle"
	"github.com/meridian-fi/rvm/internal/router"
)

func TestTotalValueAcrossAssetTypes(t *testing.T) {
	f := newFixture(t)
	vp := f.addVaultShare(t)
	lp := f.addLendingPool(t)
	rm := f.addRedemptionManager(t)
	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{4000, 3000, 3000}))
	f.deposit(t, unit(100))

	value, err := f.r.TotalValue()
	require.NoError(t, err)
	require.Equal(t, unit(100), value)

	// Shares appreciate, the pool accrues par interest, and the oracle price
	// moves above par.
	require.NoError(t, vp.CreditYield(unit(10)))
	require.NoError(t, lp.CreditInterest(unit(5)))
	round := parRound(f.clock.Now())
	round.Price = sdkmath.NewInt(110_000_000)
	rm.Feed().SetRound(round)

	// 40 -> 50, 30 -> 35, 30 -> 33.
	value, err = f.r.TotalValue()
	require.NoError(t, err)
	require.Equal(t, unit(118), value)
}

func TestValuationOracleFailures(t *testing.T) {
	f := newFixture(t)
	rm := f.addRedemptionManager(t)

	// An empty position never consults the oracle.
	rm.Feed().SetError(errors.New("feed offline"))
	_, err := f.r.TotalValue()
	require.NoError(t, err)
	rm.Feed().SetError(nil)

	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{10_000}))
	f.deposit(t, unit(10))

	// With receipts held, a dead feed fails the whole valuation.
	rm.Feed().SetError(errors.New("feed offline"))
	_, err = f.r.TotalValue()
	require.Error(t, err)
	rm.Feed().SetError(nil)

	stale := parRound(f.clock.Now().Add(-2 * time.Hour))
	rm.Feed().SetRound(stale)
	_, err = f.r.TotalValue()
	require.ErrorIs(t, err, oracle.ErrStaleOraclePrice)

	incomplete := parRound(f.clock.Now())
	incomplete.RoundID = 9
	incomplete.AnsweredInRound = 8
	rm.Feed().SetRound(incomplete)
	_, err = f.r.TotalValue()
	require.ErrorIs(t, err, oracle.ErrIncompleteOracleRound)

	negative := parRound(f.clock.Now())
	negative.Price = sdkmath.ZeroInt()
	rm.Feed().SetRound(negative)
	_, err = f.r.TotalValue()
	require.ErrorIs(t, err, oracle.ErrInvalidOraclePrice)
}

func TestAccrueYieldEndToEnd(t *testing.T) {
	f := newFixture(t)
	vp := f.addVaultShare(t)
	lp := f.addLendingPool(t)
	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{5000, 5000}))
	f.deposit(t, unit(100))

	require.NoError(t, vp.CreditYield(unit(6)))
	require.NoError(t, lp.CreditInterest(unit(4)))

	ev, err := f.r.AccrueYield(managerAddr)
	require.NoError(t, err)
	require.Equal(t, unit(100), ev.PreviousValue)
	require.Equal(t, unit(110), ev.CurrentValue)
	require.Equal(t, unit(10), ev.Delta)
	require.Equal(t, sdkmath.NewInt(1_000_000), ev.OldIndex)
	require.Equal(t, sdkmath.NewInt(1_100_000), ev.NewIndex)

	// The harvested growth sits liquid; the vault rebased every holder up.
	require.Equal(t, unit(10), f.r.TrackedLiquidBalance())
	require.Equal(t, unit(110), f.r.LastObservedTotalValue())
	require.Equal(t, f.clock.Now(), f.r.LastAccrualTimestamp())
	require.Equal(t, unit(110), f.v.TotalAssets())
	require.Equal(t, unit(110), f.v.BalanceOf(aliceAddr))
	require.Equal(t, unit(100), f.v.SharesOf(aliceAddr))
	require.Len(t, f.sink.OfKind("yield_accrued"), 1)

	// Nothing new to accrue right away.
	_, err = f.r.AccrueYield(managerAddr)
	require.NoError(t, err)
	require.Len(t, f.sink.OfKind("yield_accrued"), 1)
}

func TestAccrueYieldTakesGrowthWhereItAccrued(t *testing.T) {
	f := newFixture(t)
	vp := f.addVaultShare(t)
	f.addLendingPool(t)
	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{6000, 4000}))
	f.deposit(t, unit(1000))

	// All growth lands on one leg; the flat leg must not be tapped.
	require.NoError(t, vp.CreditYield(unit(100)))

	ev, err := f.r.AccrueYield(managerAddr)
	require.NoError(t, err)
	require.Equal(t, unit(100), ev.Delta)

	assets := f.r.Assets()
	require.Equal(t, unit(600), assets[0].Balance)
	require.Equal(t, unit(400), assets[1].Balance)
	require.Equal(t, unit(400), f.ledger.BalanceOf(lpAccount))
	require.Equal(t, unit(100), f.r.TrackedLiquidBalance())
	require.Equal(t, unit(1100), f.v.BalanceOf(aliceAddr))
}

func TestRedeemAllAfterConcentratedGrowth(t *testing.T) {
	f := newFixture(t)
	vp := f.addVaultShare(t)
	f.addLendingPool(t)
	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{6000, 4000}))
	f.deposit(t, unit(1000))

	require.NoError(t, vp.CreditYield(unit(100)))
	_, err := f.r.AccrueYield(managerAddr)
	require.NoError(t, err)

	// Every destination can cover its weight-split share of the exit because
	// the harvest left the principal ledgers truthful.
	net, err := f.v.Redeem(aliceAddr, unit(1000), aliceAddr, aliceAddr)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_098_900_000), net)
	require.Equal(t, unit(9000).Add(sdkmath.NewInt(1_098_900_000)), f.ledger.BalanceOf(aliceAddr))
	require.Equal(t, sdkmath.NewInt(1_100_000), f.ledger.BalanceOf(treasuryAddr))

	require.True(t, f.v.TotalAssets().IsZero())
	require.True(t, f.r.TrackedLiquidBalance().IsZero())
	for _, a := range f.r.Assets() {
		require.True(t, a.Balance.IsZero())
	}
}

func TestRedeemCascadesWhenAssetDeclines(t *testing.T) {
	f := newFixture(t)
	rm := f.addRedemptionManager(t)
	f.addLendingPool(t)
	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{5000, 5000}))
	f.deposit(t, unit(100))

	down := parRound(f.clock.Now())
	down.Price = sdkmath.NewInt(80_000_000)
	rm.Feed().SetRound(down)

	// The declined leg covers only 40 of its 45 target; the shortfall is
	// swept from the healthy leg.
	_, err := f.v.Withdraw(aliceAddr, unit(90), aliceAddr, aliceAddr)
	require.NoError(t, err)

	assets := f.r.Assets()
	require.Equal(t, unit(10), assets[0].Balance)
	require.True(t, assets[1].Balance.IsZero())
	require.Equal(t, unit(10), f.ledger.BalanceOf(rmAccount))
	require.True(t, f.ledger.BalanceOf(lpAccount).IsZero())

	// The residual backing has no real value behind it anymore.
	_, err = f.v.Withdraw(aliceAddr, unit(10), aliceAddr, aliceAddr)
	require.ErrorIs(t, err, router.ErrInsufficientLiquidity)
}

func TestAccrueYieldIgnoresPrincipalFlows(t *testing.T) {
	f := newFixture(t)
	f.addLendingPool(t)
	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{10_000}))
	f.deposit(t, unit(100))

	// Fresh principal is not yield.
	ev, err := f.r.AccrueYield(managerAddr)
	require.NoError(t, err)
	require.True(t, ev.Delta.IsNil())

	f.deposit(t, unit(50))
	ev, err = f.r.AccrueYield(managerAddr)
	require.NoError(t, err)
	require.True(t, ev.Delta.IsNil())

	// Neither is an outflow a loss.
	_, err = f.v.Withdraw(aliceAddr, unit(30), aliceAddr, aliceAddr)
	require.NoError(t, err)
	require.Equal(t, unit(120), f.r.LastObservedTotalValue())
	ev, err = f.r.AccrueYield(managerAddr)
	require.NoError(t, err)
	require.True(t, ev.Delta.IsNil())
	require.Empty(t, f.sink.OfKind("yield_accrued"))
}

func TestAccrueYieldDeclineIsNoOp(t *testing.T) {
	f := newFixture(t)
	rm := f.addRedemptionManager(t)
	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{10_000}))
	f.deposit(t, unit(10))

	down := parRound(f.clock.Now())
	down.Price = sdkmath.NewInt(90_000_000)
	rm.Feed().SetRound(down)

	ev, err := f.r.AccrueYield(managerAddr)
	require.NoError(t, err)
	require.True(t, ev.Delta.IsNil())
	// The baseline holds so the decline is made up before anything new
	// accrues.
	require.Equal(t, unit(10), f.r.LastObservedTotalValue())
	require.Equal(t, unit(10), f.v.TotalAssets())
}

func TestAccrueYieldGating(t *testing.T) {
	f := newFixture(t)
	_, err := f.r.AccrueYield(aliceAddr)
	require.ErrorIs(t, err, router.ErrOnlyManager)

	bare, err := router.New(router.Config{
		Address: routerAddr, Owner: ownerAddr, Underlying: f.ledger,
	})
	require.NoError(t, err)
	_, err = bare.AccrueYield(ownerAddr)
	require.ErrorIs(t, err, router.ErrVaultNotSet)
}

func TestSavingsTokenAccrual(t *testing.T) {
	f := newFixture(t)
	sf := f.addSavingsFacility(t)
	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{10_000}))
	f.deposit(t, unit(10))

	require.NoError(t, sf.CreditYield(unit(1)))

	ev, err := f.r.AccrueYield(managerAddr)
	require.NoError(t, err)
	require.Equal(t, unit(1), ev.Delta)
	require.Equal(t, unit(11), f.v.TotalAssets())
	require.Equal(t, unit(1), f.r.TrackedLiquidBalance())
}

func TestUpkeepCycle(t *testing.T) {
	f := newFixture(t)
	lp := f.addLendingPool(t)
	require.NoError(t, f.r.UpdateWeights(managerAddr, []uint64{10_000}))
	f.deposit(t, unit(100))

	// Automation disabled by default.
	needed, err := f.r.CheckUpkeep()
	require.NoError(t, err)
	require.False(t, needed)

	require.ErrorIs(t, f.r.SetYieldAccrualInterval(aliceAddr, 3600), router.ErrOnlyManager)
	require.ErrorIs(t, f.r.SetYieldAccrualInterval(managerAddr, 3599), router.ErrAutomationIntervalTooShort)
	require.ErrorIs(t, f.r.SetYieldAccrualInterval(managerAddr, math.MaxUint64), router.ErrAutomationIntervalTooLong)
	require.NoError(t, f.r.SetYieldAccrualInterval(managerAddr, 3600))
	require.Equal(t, time.Hour, f.r.AccrualInterval())

	// Interval elapsed but no growth.
	needed, err = f.r.CheckUpkeep()
	require.NoError(t, err)
	require.False(t, needed)
	_, err = f.r.PerformUpkeep()
	require.ErrorIs(t, err, router.ErrUpkeepNotNeeded)

	require.NoError(t, lp.CreditInterest(unit(5)))
	needed, err = f.r.CheckUpkeep()
	require.NoError(t, err)
	require.True(t, needed)

	ev, err := f.r.PerformUpkeep()
	require.NoError(t, err)
	require.Equal(t, unit(5), ev.Delta)
	require.Equal(t, unit(105), f.v.TotalAssets())

	// Growth within the interval waits for the next window.
	require.NoError(t, lp.CreditInterest(unit(3)))
	_, err = f.r.PerformUpkeep()
	require.ErrorIs(t, err, router.ErrUpkeepNotNeeded)

	f.clock.Advance(time.Hour)
	ev, err = f.r.PerformUpkeep()
	require.NoError(t, err)
	require.Equal(t, unit(3), ev.Delta)
	require.Equal(t, unit(108), f.v.TotalAssets())

	// Zero disables automation again.
	require.NoError(t, f.r.SetYieldAccrualInterval(managerAddr, 0))
	needed, err = f.r.CheckUpkeep()
	require.NoError(t, err)
	require.False(t, needed)
}
