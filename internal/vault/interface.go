package vault

import (
	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/types"
)

// AssetRouter is the narrow interface the vault uses to move custodied funds.
// Both operations are restricted on the router side to the registered vault
// caller; the vault never reaches deeper into the router's state.
type AssetRouter interface {
	// Address is the router's account on the underlying token ledger. The
	// vault transfers funds there before asking for allocation.
	Address() types.Address

	// DepositToProtocols fans the amount out across active yield
	// destinations. The funds must already sit on the router's account.
	DepositToProtocols(caller types.Address, amount sdkmath.Int) error

	// RedeemFromProtocols pulls the amount back to the vault's account,
	// drawing the router's liquid buffer first, then active destinations
	// proportionally.
	RedeemFromProtocols(caller types.Address, amount sdkmath.Int) error
}
