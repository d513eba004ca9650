/*

Fungible-token surface of the vault claim, ghost-balance bridge path and the
administrative entry points. Transfers operate over the combined balance
(share value plus ghost balance); when a transfer spans both, the ghost
portion is depleted first so purely-bridged value moves without touching
share accounting.

*/

package vault

import (
	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/types"
	"github.com/meridian-fi/rvm/internal/utils"
)

// Transfer moves `amount` of combined balance from sender to recipient.
func (v *Vault) Transfer(sender, to types.Address, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transferLocked(sender, to, amount)
}

// TransferFrom moves `amount` from `from` to `to` spending the caller's
// allowance.
func (v *Vault) TransferFrom(caller, from, to types.Address, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if amount.IsNil() || amount.IsZero() {
		return ErrZeroAmount
	}
	remaining := v.allowanceOf(from, caller)
	if remaining.LT(amount) {
		return ErrInsufficientAllowance
	}
	if err := v.transferLocked(from, to, amount); err != nil {
		return err
	}
	v.setAllowance(from, caller, remaining.Sub(amount))
	return nil
}

// Approve sets the spender's allowance over the owner's combined balance.
// A zero amount resets the allowance.
func (v *Vault) Approve(owner, spender types.Address, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.paused {
		return ErrVaultPaused
	}
	if owner.IsZero() || spender.IsZero() {
		return ErrZeroAddress
	}
	if amount.IsNil() || amount.IsNegative() {
		return ErrZeroAmount
	}
	v.setAllowance(owner, spender, amount)
	v.sink.Record(types.ApprovalEvent{Owner: owner, Spender: spender, Amount: amount})
	return nil
}

// Allowance returns the spender's remaining allowance.
func (v *Vault) Allowance(owner, spender types.Address) sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.allowanceOf(owner, spender)
}

func (v *Vault) transferLocked(sender, to types.Address, amount sdkmath.Int) error {
	if v.paused {
		return ErrVaultPaused
	}
	if sender.IsZero() || to.IsZero() {
		return ErrZeroAddress
	}
	if v.blacklist[sender] || v.blacklist[to] {
		return ErrAddressBlacklisted
	}
	if amount.IsNil() || amount.IsZero() {
		return ErrZeroAmount
	}
	if v.balanceLocked(sender).LT(amount) {
		return ErrInsufficientBalance
	}

	// Ghost-first depletion: bridged value moves without touching share
	// accounting; only the remainder is converted to shares. The conversion
	// rounds up so the recipient never receives less value than amount.
	ghostMove := sdkmath.MinInt(v.ghostOf(sender), amount)
	rest := amount.Sub(ghostMove)
	if ghostMove.IsPositive() {
		v.ghostBalance[sender] = v.ghostOf(sender).Sub(ghostMove)
		v.ghostBalance[to] = v.ghostOf(to).Add(ghostMove)
	}
	if rest.IsPositive() {
		sharesMove, err := utils.MulDivCeil(rest, types.OneIndex(), v.rebaseIndex)
		if err != nil {
			return err
		}
		v.sharesOf[sender] = v.shareBalance(sender).Sub(sharesMove)
		v.sharesOf[to] = v.shareBalance(to).Add(sharesMove)
	}
	v.sink.Record(types.TransferEvent{From: sender, To: to, Amount: amount})
	return nil
}

// Bridge path. Ghost balances are value already backed on a counterpart
// ledger elsewhere; counting them as local backing would double-count and
// dilute genuine depositors, so these entry points never touch totalShares,
// rebaseIndex or totalDepositedAssets.

// BridgeMint credits `amount` of ghost balance to the recipient.
func (v *Vault) BridgeMint(caller, to types.Address, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.bridges[caller] {
		return ErrOnlyBridge
	}
	if v.paused {
		return ErrVaultPaused
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	if to == v.addr {
		return ErrInvalidRecipient
	}
	if v.blacklist[to] {
		return ErrAddressBlacklisted
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroAmount
	}
	v.ghostBalance[to] = v.ghostOf(to).Add(amount)
	v.totalGhostBalance = v.totalGhostBalance.Add(amount)
	v.log.Info().
		Str("to", string(to)).
		Str("amount", amount.String()).
		Msg("Ghost balance minted by bridge")
	v.sink.Record(types.GhostMintEvent{To: to, Amount: amount})
	return nil
}

// BridgeBurn destroys `amount` of the account's ghost balance.
func (v *Vault) BridgeBurn(caller, account types.Address, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.bridges[caller] {
		return ErrOnlyBridge
	}
	return v.burnGhostLocked(account, amount)
}

// BridgeBurnSelf destroys `amount` of the bridge caller's own ghost balance.
func (v *Vault) BridgeBurnSelf(caller types.Address, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.bridges[caller] {
		return ErrOnlyBridge
	}
	return v.burnGhostLocked(caller, amount)
}

// BridgeBurnFrom destroys `amount` of the account's ghost balance, spending
// the bridge caller's allowance.
func (v *Vault) BridgeBurnFrom(caller, account types.Address, amount sdkmath.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.bridges[caller] {
		return ErrOnlyBridge
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroAmount
	}
	remaining := v.allowanceOf(account, caller)
	if remaining.LT(amount) {
		return ErrInsufficientAllowance
	}
	if err := v.burnGhostLocked(account, amount); err != nil {
		return err
	}
	v.setAllowance(account, caller, remaining.Sub(amount))
	return nil
}

func (v *Vault) burnGhostLocked(account types.Address, amount sdkmath.Int) error {
	if v.paused {
		return ErrVaultPaused
	}
	if account.IsZero() {
		return ErrZeroAddress
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroAmount
	}
	ghost := v.ghostOf(account)
	if ghost.LT(amount) {
		return ErrInsufficientBalance
	}
	v.ghostBalance[account] = ghost.Sub(amount)
	v.totalGhostBalance = v.totalGhostBalance.Sub(amount)
	v.log.Info().
		Str("account", string(account)).
		Str("amount", amount.String()).
		Msg("Ghost balance burned by bridge")
	v.sink.Record(types.GhostBurnEvent{From: account, Amount: amount})
	return nil
}

// Administration. Narrow, validated entry points the router and bridge rely
// on; owner-gated.

// SetRouter registers the yield router.
func (v *Vault) SetRouter(caller types.Address, router AssetRouter) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if router == nil || router.Address().IsZero() {
		return ErrZeroAddress
	}
	old := v.routerAddr
	v.router = router
	v.routerAddr = router.Address()
	v.sink.Record(types.RouterUpdatedEvent{OldRouter: old, NewRouter: v.routerAddr})
	return nil
}

// SetTreasury updates the fee recipient.
func (v *Vault) SetTreasury(caller, treasury types.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if treasury.IsZero() {
		return ErrZeroAddress
	}
	old := v.treasury
	v.treasury = treasury
	v.sink.Record(types.TreasuryUpdatedEvent{OldTreasury: old, NewTreasury: treasury})
	return nil
}

// SetRedemptionFee updates the redemption fee, capped at 5%.
func (v *Vault) SetRedemptionFee(caller types.Address, bps uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if bps > MaxRedemptionFeeBps {
		return ErrFeeTooHigh
	}
	old := v.redemptionFeeBps
	v.redemptionFeeBps = bps
	v.sink.Record(types.RedemptionFeeUpdatedEvent{OldBps: old, NewBps: bps})
	return nil
}

// GrantBridge gives an address the ghost mint/burn role.
func (v *Vault) GrantBridge(caller, bridge types.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if bridge.IsZero() {
		return ErrZeroAddress
	}
	v.bridges[bridge] = true
	return nil
}

// RevokeBridge removes the ghost mint/burn role.
func (v *Vault) RevokeBridge(caller, bridge types.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	delete(v.bridges, bridge)
	return nil
}

// SetBlacklisted adds or removes an account from the blacklist.
func (v *Vault) SetBlacklisted(caller, account types.Address, blacklisted bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	if account.IsZero() {
		return ErrZeroAddress
	}
	if blacklisted {
		v.blacklist[account] = true
	} else {
		delete(v.blacklist, account)
	}
	v.sink.Record(types.BlacklistEvent{Account: account, Blacklisted: blacklisted})
	return nil
}

// SetPaused toggles the pause flag.
func (v *Vault) SetPaused(caller types.Address, paused bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return ErrOnlyOwner
	}
	v.paused = paused
	v.sink.Record(types.PauseEvent{Paused: paused})
	return nil
}

// RescueDonatedTokens transfers any underlying sitting on the vault's
// account beyond its internally tracked balance to the recipient. Funds the
// ledger recognizes are never touched.
func (v *Vault) RescueDonatedTokens(caller, recipient types.Address) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if caller != v.owner {
		return sdkmath.Int{}, ErrOnlyOwner
	}
	if recipient.IsZero() {
		return sdkmath.Int{}, ErrZeroAddress
	}
	raw := v.underlying.BalanceOf(v.addr)
	excess := raw.Sub(v.trackedLiquid)
	if !excess.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	if err := v.underlying.Transfer(v.addr, recipient, excess); err != nil {
		return sdkmath.Int{}, err
	}
	v.log.Info().
		Str("recipient", string(recipient)).
		Str("amount", excess.String()).
		Msg("Donated tokens rescued from vault")
	v.sink.Record(types.DonationRescuedEvent{Recipient: recipient, Amount: excess})
	return excess, nil
}
