package vault_test

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/meridian-fi/rvm/internal/token"
	"github.com/meridian-fi/rvm/internal/types"
	"github.com/meridian-fi/rvm/internal/vault"
)

const (
	vaultAddr    = types.Address("vault")
	routerAddr   = types.Address("router")
	ownerAddr    = types.Address("owner")
	treasuryAddr = types.Address("treasury")
	bridgeAddr   = types.Address("bridge")
	aliceAddr    = types.Address("alice")
	bobAddr      = types.Address("bob")
)

func unit(n int64) sdkmath.Int { return sdkmath.NewInt(n * 1_000_000) }

// stubRouter accepts allocations in place and returns funds from its own
// ledger account on redemption. Failures are injectable.
type stubRouter struct {
	addr       types.Address
	vaultAddr  types.Address
	ledger     *token.Ledger
	depositErr error
	redeemErr  error
}

func (s *stubRouter) Address() types.Address { return s.addr }

func (s *stubRouter) DepositToProtocols(caller types.Address, amount sdkmath.Int) error {
	return s.depositErr
}

func (s *stubRouter) RedeemFromProtocols(caller types.Address, amount sdkmath.Int) error {
	if s.redeemErr != nil {
		return s.redeemErr
	}
	return s.ledger.Transfer(s.addr, s.vaultAddr, amount)
}

func newTestVault(t *testing.T) (*vault.Vault, *token.Ledger, *stubRouter, *types.MemorySink) {
	t.Helper()
	ledger := token.NewLedger("USDm", 6)
	require.NoError(t, ledger.Mint(aliceAddr, unit(1000)))
	require.NoError(t, ledger.Mint(bobAddr, unit(1000)))

	sink := types.NewMemorySink()
	v, err := vault.New(vaultAddr, ownerAddr, treasuryAddr, ledger, sink)
	require.NoError(t, err)

	stub := &stubRouter{addr: routerAddr, vaultAddr: vaultAddr, ledger: ledger}
	require.NoError(t, v.SetRouter(ownerAddr, stub))
	require.NoError(t, v.GrantBridge(ownerAddr, bridgeAddr))
	return v, ledger, stub, sink
}

func TestDepositCreditsSharesAtParity(t *testing.T) {
	v, ledger, _, sink := newTestVault(t)

	shares, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)
	require.Equal(t, unit(10), shares)

	require.Equal(t, unit(10), v.BalanceOf(aliceAddr))
	require.Equal(t, unit(10), v.SharesOf(aliceAddr))
	require.Equal(t, unit(10), v.TotalAssets())
	require.Equal(t, unit(10), v.TotalShares())
	require.Equal(t, unit(10), v.TotalSupply())

	// Funds flow through the vault account to the router.
	require.Equal(t, unit(990), ledger.BalanceOf(aliceAddr))
	require.True(t, ledger.BalanceOf(vaultAddr).IsZero())
	require.Equal(t, unit(10), ledger.BalanceOf(routerAddr))

	require.Len(t, sink.OfKind("deposit"), 1)
}

func TestDepositGuards(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, sdkmath.NewInt(999_999), aliceAddr)
	require.ErrorIs(t, err, vault.ErrBelowMinimumDeposit)

	_, err = v.Deposit(aliceAddr, unit(1), types.ZeroAddress)
	require.ErrorIs(t, err, vault.ErrZeroAddress)

	_, err = v.Deposit(aliceAddr, unit(1), vaultAddr)
	require.ErrorIs(t, err, vault.ErrInvalidRecipient)

	require.NoError(t, v.SetBlacklisted(ownerAddr, aliceAddr, true))
	_, err = v.Deposit(aliceAddr, unit(1), aliceAddr)
	require.ErrorIs(t, err, vault.ErrAddressBlacklisted)
	require.NoError(t, v.SetBlacklisted(ownerAddr, aliceAddr, false))

	// Exactly the minimum passes.
	_, err = v.Deposit(aliceAddr, unit(1), aliceAddr)
	require.NoError(t, err)
}

func TestDepositRequiresRouter(t *testing.T) {
	ledger := token.NewLedger("USDm", 6)
	require.NoError(t, ledger.Mint(aliceAddr, unit(10)))
	v, err := vault.New(vaultAddr, ownerAddr, treasuryAddr, ledger, nil)
	require.NoError(t, err)

	_, err = v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.ErrorIs(t, err, vault.ErrRouterNotSet)
}

func TestDepositRollbackOnAllocationFailure(t *testing.T) {
	v, ledger, stub, _ := newTestVault(t)
	stub.depositErr = errors.New("allocation failed")

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.Error(t, err)

	// Nothing sticks: shares, backing and the sender's funds are restored.
	require.True(t, v.TotalShares().IsZero())
	require.True(t, v.TotalAssets().IsZero())
	require.True(t, v.BalanceOf(aliceAddr).IsZero())
	require.Equal(t, unit(1000), ledger.BalanceOf(aliceAddr))
	require.True(t, ledger.BalanceOf(routerAddr).IsZero())
}

func TestAccrualRaisesBalancesWithoutNewShares(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)

	outcome, err := v.ApplyYieldAccrual(routerAddr, unit(5))
	require.NoError(t, err)
	require.Equal(t, unit(10), outcome.OldTotal)
	require.Equal(t, unit(15), outcome.NewTotal)
	require.Equal(t, sdkmath.NewInt(1_000_000), outcome.OldIndex)
	require.Equal(t, sdkmath.NewInt(1_500_000), outcome.NewIndex)

	// Same shares, higher claim.
	require.Equal(t, unit(10), v.SharesOf(aliceAddr))
	require.Equal(t, unit(15), v.BalanceOf(aliceAddr))
	require.Equal(t, unit(15), v.TotalAssets())
}

func TestApplyYieldAccrualGating(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.ApplyYieldAccrual(aliceAddr, unit(1))
	require.ErrorIs(t, err, vault.ErrOnlyRouter)

	_, err = v.ApplyYieldAccrual(routerAddr, sdkmath.ZeroInt())
	require.ErrorIs(t, err, vault.ErrZeroAmount)
}

func TestDepositAfterAccrualMintsFewerShares(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)
	_, err = v.ApplyYieldAccrual(routerAddr, unit(5))
	require.NoError(t, err)

	// Index 1.5: 3 units buy 2 units of shares.
	shares, err := v.Deposit(bobAddr, unit(3), bobAddr)
	require.NoError(t, err)
	require.Equal(t, unit(2), shares)
	require.Equal(t, unit(3), v.BalanceOf(bobAddr))
}

func TestMintRoundsAssetCostUp(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)
	_, err = v.ApplyYieldAccrual(routerAddr, unit(5))
	require.NoError(t, err)

	// 3 shares at index 1.5 cost exactly 4.5 units.
	assets, err := v.Mint(bobAddr, unit(3), bobAddr)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(4_500_000), assets)
	require.Equal(t, unit(3), v.SharesOf(bobAddr))

	// An odd share count rounds the cost up by one base unit.
	assets, err = v.Mint(bobAddr, sdkmath.NewInt(1_000_001), bobAddr)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_500_002), assets)
}

func TestWithdrawBurnsSharesAndPaysFee(t *testing.T) {
	v, ledger, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(100), aliceAddr)
	require.NoError(t, err)

	// Default fee is 10 bps.
	shares, err := v.Withdraw(aliceAddr, unit(10), aliceAddr, aliceAddr)
	require.NoError(t, err)
	require.Equal(t, unit(10), shares)

	require.Equal(t, unit(90), v.SharesOf(aliceAddr))
	require.Equal(t, unit(90), v.TotalAssets())
	require.Equal(t, sdkmath.NewInt(10_000), ledger.BalanceOf(treasuryAddr))
	// 900 after deposit, plus 10 units gross minus the 0.001% fee.
	require.Equal(t, unit(900).Add(sdkmath.NewInt(9_990_000)), ledger.BalanceOf(aliceAddr))
}

func TestWithdrawRejectsOverBacking(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)

	_, err = v.Withdraw(aliceAddr, unit(11), aliceAddr, aliceAddr)
	require.ErrorIs(t, err, vault.ErrInsufficientLiquidity)
}

func TestWithdrawRejectsOverShareBalance(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)
	_, err = v.Deposit(bobAddr, unit(10), bobAddr)
	require.NoError(t, err)

	// Backing covers 20 units but alice only holds 10 units of shares.
	_, err = v.Withdraw(aliceAddr, unit(15), aliceAddr, aliceAddr)
	require.ErrorIs(t, err, vault.ErrInsufficientBalance)
}

func TestRedeemCapsGrossAtBacking(t *testing.T) {
	v, ledger, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)

	// Push the index to 2.0 without adding backing: share value transiently
	// exceeds real assets and the redemption must cap at the backing.
	require.NoError(t, v.UpdateRebaseIndex(routerAddr, sdkmath.NewInt(2_000_000)))
	require.Equal(t, unit(20), v.BalanceOf(aliceAddr))

	net, err := v.Redeem(aliceAddr, unit(10), aliceAddr, aliceAddr)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(9_990_000), net)
	require.True(t, v.TotalAssets().IsZero())
	require.Equal(t, sdkmath.NewInt(10_000), ledger.BalanceOf(treasuryAddr))
}

func TestRedemptionFeeBounds(t *testing.T) {
	v, ledger, _, _ := newTestVault(t)

	require.ErrorIs(t, v.SetRedemptionFee(ownerAddr, 501), vault.ErrFeeTooHigh)
	require.ErrorIs(t, v.SetRedemptionFee(aliceAddr, 100), vault.ErrOnlyOwner)

	_, err := v.Deposit(aliceAddr, unit(100), aliceAddr)
	require.NoError(t, err)

	// Zero fee pays out the full gross amount.
	require.NoError(t, v.SetRedemptionFee(ownerAddr, 0))
	balBefore := ledger.BalanceOf(aliceAddr)
	_, err = v.Withdraw(aliceAddr, unit(10), aliceAddr, aliceAddr)
	require.NoError(t, err)
	require.Equal(t, balBefore.Add(unit(10)), ledger.BalanceOf(aliceAddr))

	// Maximum fee of 500 bps takes exactly 5%.
	require.NoError(t, v.SetRedemptionFee(ownerAddr, 500))
	treasuryBefore := ledger.BalanceOf(treasuryAddr)
	_, err = v.Withdraw(aliceAddr, unit(10), aliceAddr, aliceAddr)
	require.NoError(t, err)
	require.Equal(t, treasuryBefore.Add(sdkmath.NewInt(500_000)), ledger.BalanceOf(treasuryAddr))
}

func TestWithdrawForOwnerSpendsAllowance(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(100), aliceAddr)
	require.NoError(t, err)
	require.NoError(t, v.Approve(aliceAddr, bobAddr, unit(5)))

	_, err = v.Withdraw(bobAddr, unit(3), bobAddr, aliceAddr)
	require.NoError(t, err)
	require.Equal(t, unit(2), v.Allowance(aliceAddr, bobAddr))

	_, err = v.Withdraw(bobAddr, unit(3), bobAddr, aliceAddr)
	require.ErrorIs(t, err, vault.ErrInsufficientAllowance)
}

func TestTransferGhostFirstDepletion(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)
	require.NoError(t, v.BridgeMint(bridgeAddr, aliceAddr, unit(5)))
	require.Equal(t, unit(15), v.BalanceOf(aliceAddr))

	// 8 units: the full 5-unit ghost balance moves first, 3 units of share
	// value cover the rest.
	require.NoError(t, v.Transfer(aliceAddr, bobAddr, unit(8)))
	require.True(t, v.GhostBalanceOf(aliceAddr).IsZero())
	require.Equal(t, unit(5), v.GhostBalanceOf(bobAddr))
	require.Equal(t, unit(7), v.SharesOf(aliceAddr))
	require.Equal(t, unit(3), v.SharesOf(bobAddr))
	require.Equal(t, unit(8), v.BalanceOf(bobAddr))
}

func TestTransferShareLegRoundsUp(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)
	_, err = v.ApplyYieldAccrual(routerAddr, unit(5))
	require.NoError(t, err)

	// At index 1.5 an odd amount does not divide into shares evenly; the
	// conversion rounds up so the recipient receives at least the amount.
	amount := sdkmath.NewInt(1_000_001)
	require.NoError(t, v.Transfer(aliceAddr, bobAddr, amount))
	require.Equal(t, sdkmath.NewInt(666_668), v.SharesOf(bobAddr))
	require.Equal(t, sdkmath.NewInt(1_000_002), v.BalanceOf(bobAddr))
	require.True(t, v.BalanceOf(bobAddr).GTE(amount))
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)
	require.NoError(t, v.Approve(aliceAddr, bobAddr, unit(4)))

	require.NoError(t, v.TransferFrom(bobAddr, aliceAddr, bobAddr, unit(4)))
	require.True(t, v.Allowance(aliceAddr, bobAddr).IsZero())

	err = v.TransferFrom(bobAddr, aliceAddr, bobAddr, unit(1))
	require.ErrorIs(t, err, vault.ErrInsufficientAllowance)
}

func TestGhostBalancesExcludedFromBacking(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	require.NoError(t, v.BridgeMint(bridgeAddr, aliceAddr, unit(50)))

	// Supply includes the ghost balance; backing and shares do not.
	require.Equal(t, unit(50), v.TotalSupply())
	require.Equal(t, unit(50), v.TotalGhostBalance())
	require.True(t, v.TotalAssets().IsZero())
	require.True(t, v.TotalShares().IsZero())

	// Ghost holders cannot redeem against depositor backing.
	_, err := v.Withdraw(aliceAddr, unit(1), aliceAddr, aliceAddr)
	require.ErrorIs(t, err, vault.ErrInsufficientLiquidity)
}

func TestBridgeRoleGating(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	require.ErrorIs(t, v.BridgeMint(aliceAddr, bobAddr, unit(1)), vault.ErrOnlyBridge)
	require.ErrorIs(t, v.BridgeBurn(aliceAddr, bobAddr, unit(1)), vault.ErrOnlyBridge)
	require.ErrorIs(t, v.BridgeBurnSelf(aliceAddr, unit(1)), vault.ErrOnlyBridge)
	require.ErrorIs(t, v.BridgeBurnFrom(aliceAddr, bobAddr, unit(1)), vault.ErrOnlyBridge)

	require.ErrorIs(t, v.BridgeMint(bridgeAddr, vaultAddr, unit(1)), vault.ErrInvalidRecipient)

	require.NoError(t, v.RevokeBridge(ownerAddr, bridgeAddr))
	require.ErrorIs(t, v.BridgeMint(bridgeAddr, aliceAddr, unit(1)), vault.ErrOnlyBridge)
}

func TestBridgeBurnVariants(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	require.NoError(t, v.BridgeMint(bridgeAddr, aliceAddr, unit(10)))
	require.NoError(t, v.BridgeMint(bridgeAddr, bridgeAddr, unit(5)))

	require.NoError(t, v.BridgeBurn(bridgeAddr, aliceAddr, unit(2)))
	require.Equal(t, unit(8), v.GhostBalanceOf(aliceAddr))

	require.NoError(t, v.BridgeBurnSelf(bridgeAddr, unit(5)))
	require.True(t, v.GhostBalanceOf(bridgeAddr).IsZero())

	// BurnFrom needs an allowance from the account.
	err := v.BridgeBurnFrom(bridgeAddr, aliceAddr, unit(3))
	require.ErrorIs(t, err, vault.ErrInsufficientAllowance)
	require.NoError(t, v.Approve(aliceAddr, bridgeAddr, unit(3)))
	require.NoError(t, v.BridgeBurnFrom(bridgeAddr, aliceAddr, unit(3)))
	require.Equal(t, unit(5), v.GhostBalanceOf(aliceAddr))
	require.True(t, v.Allowance(aliceAddr, bridgeAddr).IsZero())

	err = v.BridgeBurn(bridgeAddr, aliceAddr, unit(100))
	require.ErrorIs(t, err, vault.ErrInsufficientBalance)
}

func TestPauseBlocksOperations(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)

	require.NoError(t, v.SetPaused(ownerAddr, true))
	require.True(t, v.Paused())

	_, err = v.Deposit(aliceAddr, unit(1), aliceAddr)
	require.ErrorIs(t, err, vault.ErrVaultPaused)
	_, err = v.Withdraw(aliceAddr, unit(1), aliceAddr, aliceAddr)
	require.ErrorIs(t, err, vault.ErrVaultPaused)
	require.ErrorIs(t, v.Transfer(aliceAddr, bobAddr, unit(1)), vault.ErrVaultPaused)
	require.ErrorIs(t, v.Approve(aliceAddr, bobAddr, unit(1)), vault.ErrVaultPaused)
	require.ErrorIs(t, v.BridgeMint(bridgeAddr, aliceAddr, unit(1)), vault.ErrVaultPaused)

	require.NoError(t, v.SetPaused(ownerAddr, false))
	_, err = v.Deposit(aliceAddr, unit(1), aliceAddr)
	require.NoError(t, err)
}

func TestUpdateRebaseIndexMonotone(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	require.ErrorIs(t, v.UpdateRebaseIndex(aliceAddr, sdkmath.NewInt(2_000_000)), vault.ErrOnlyRouter)

	require.NoError(t, v.UpdateRebaseIndex(routerAddr, sdkmath.NewInt(2_000_000)))
	err := v.UpdateRebaseIndex(routerAddr, sdkmath.NewInt(1_999_999))
	require.ErrorIs(t, err, vault.ErrIndexDecrease)

	// Equal is allowed.
	require.NoError(t, v.UpdateRebaseIndex(routerAddr, sdkmath.NewInt(2_000_000)))
}

func TestRescueDonatedTokens(t *testing.T) {
	v, ledger, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)

	// A donation straight to the vault account changes nothing the vault
	// recognizes.
	require.NoError(t, ledger.Transfer(bobAddr, vaultAddr, unit(7)))
	require.Equal(t, unit(10), v.TotalAssets())
	require.Equal(t, unit(10), v.BalanceOf(aliceAddr))

	_, err = v.RescueDonatedTokens(aliceAddr, treasuryAddr)
	require.ErrorIs(t, err, vault.ErrOnlyOwner)

	rescued, err := v.RescueDonatedTokens(ownerAddr, treasuryAddr)
	require.NoError(t, err)
	require.Equal(t, unit(7), rescued)
	require.Equal(t, unit(7), ledger.BalanceOf(treasuryAddr))

	// Nothing left to rescue.
	rescued, err = v.RescueDonatedTokens(ownerAddr, treasuryAddr)
	require.NoError(t, err)
	require.True(t, rescued.IsZero())
}

func TestPreviewsMatchExecution(t *testing.T) {
	v, _, _, _ := newTestVault(t)

	_, err := v.Deposit(aliceAddr, unit(10), aliceAddr)
	require.NoError(t, err)
	_, err = v.ApplyYieldAccrual(routerAddr, unit(5))
	require.NoError(t, err)

	previewShares := v.PreviewDeposit(unit(3))
	shares, err := v.Deposit(bobAddr, unit(3), bobAddr)
	require.NoError(t, err)
	require.Equal(t, previewShares, shares)

	previewAssets := v.PreviewMint(unit(2))
	assets, err := v.Mint(bobAddr, unit(2), bobAddr)
	require.NoError(t, err)
	require.Equal(t, previewAssets, assets)

	previewBurn := v.PreviewWithdraw(unit(3))
	burned, err := v.Withdraw(bobAddr, unit(3), bobAddr, bobAddr)
	require.NoError(t, err)
	require.Equal(t, previewBurn, burned)

	previewNet := v.PreviewRedeem(unit(1))
	net, err := v.Redeem(bobAddr, unit(1), bobAddr, bobAddr)
	require.NoError(t, err)
	require.Equal(t, previewNet, net)
}
