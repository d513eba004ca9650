/*

Core domain types shared by the vault, the router and the protocol adapters.
All amounts are integers scaled to the underlying asset's smallest unit
(6-decimal convention) and use cosmossdk.io/math for overflow-safe arithmetic.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// Address identifies an account on the in-process token ledgers. It plays the
// role of msg.sender / contract addresses in the original deployment model:
// every state-mutating operation receives the caller's address explicitly.
type Address string

// ZeroAddress is the null account. Operations reject it everywhere.
const ZeroAddress Address = ""

// IsZero reports whether the address is the null account.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// AssetType is the closed set of yield destination classes the router knows
// how to value. The variant is resolved once at registration time and stored
// alongside the asset configuration.
type AssetType uint8

const (
	// AssetTypeVaultShare is a tokenized-vault destination with a
	// deterministic share to asset conversion rate.
	AssetTypeVaultShare AssetType = iota
	// AssetTypeLendingReceipt is a lending-pool destination whose receipt
	// token is par-valued 1:1 to the underlying.
	AssetTypeLendingReceipt
	// AssetTypeOracleValuedReceipt is a fixed-redemption-manager destination
	// whose holdings are valued through an external price oracle.
	AssetTypeOracleValuedReceipt
	// AssetTypeSavingsToken is a PSM-style swap-then-stake destination valued
	// through the savings token's own exchange rate.
	AssetTypeSavingsToken
)

// Valid reports whether the asset type is a known variant.
func (t AssetType) Valid() bool {
	return t <= AssetTypeSavingsToken
}

func (t AssetType) String() string {
	switch t {
	case AssetTypeVaultShare:
		return "vault_share"
	case AssetTypeLendingReceipt:
		return "lending_receipt"
	case AssetTypeOracleValuedReceipt:
		return "oracle_valued_receipt"
	case AssetTypeSavingsToken:
		return "savings_token"
	default:
		return "unknown"
	}
}

// Fixed-point and registry conventions.
const (
	// IndexScalar is the rebase index base unit: 1_000_000 represents 1.0.
	IndexScalar = 1_000_000
	// TotalWeightBps is the required sum of all nonzero allocation weights.
	TotalWeightBps = 10_000
	// MaxYieldAssets caps the router registry size.
	MaxYieldAssets = 10
)

// OneIndex is the neutral rebase index (share price of exactly 1.0).
func OneIndex() sdkmath.Int {
	return sdkmath.NewInt(IndexScalar)
}

// YieldAsset describes one registered yield destination.
type YieldAsset struct {
	// Token is the receipt token the destination issues to the router.
	Token Address `json:"token"`
	// Underlying is the asset the destination accepts and pays out.
	Underlying Address `json:"underlying"`
	// Counterparty is the external protocol's account.
	Counterparty Address `json:"counterparty"`
	// Type selects the valuation branch.
	Type AssetType `json:"type"`
	// WeightBps is the asset's share of new allocations in basis points.
	WeightBps uint64 `json:"weight_bps"`
	// Balance is the router's tracked principal deployed at this destination,
	// in underlying units. Updated only by explicit deposit/withdraw/drain
	// flows, never by raw balance observation.
	Balance sdkmath.Int `json:"balance"`
}

// SkyConfig holds the collaborator addresses for SavingsToken destinations:
// the swap facility, the intermediate token it swaps into, and the savings
// token that intermediate is staked as.
type SkyConfig struct {
	SwapFacility      Address `json:"swap_facility"`
	IntermediateToken Address `json:"intermediate_token"`
	SavingsToken      Address `json:"savings_token"`
}
