/*

Protocol adapters: the uniform deposit/withdraw/value surface each yield
destination implements. The router treats all four variants identically
except for the valuation branch, which it resolves from the asset type
recorded at registration time.

*/

package protocols

import (
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/types"
)

var (
	ErrZeroAmount         = errors.New("amount is zero")
	ErrManagerUnavailable = errors.New("redemption manager is unavailable")
	ErrInsufficientFunds  = errors.New("protocol holds insufficient funds")
)

// Adapter is the contract every yield destination implements towards the
// router. Deposit pulls underlying from the router's account into the
// protocol; Withdraw returns exactly the requested underlying amount to the
// router's account. Both either fully succeed or leave ledgers untouched.
type Adapter interface {
	Deposit(amount sdkmath.Int) error
	Withdraw(amount sdkmath.Int) error

	// ReceiptToken identifies the receipt token the destination issues.
	ReceiptToken() types.Address
	// ReceiptBalance returns the router's current receipt holdings.
	ReceiptBalance() sdkmath.Int
}

// ShareConverter is the extra accessor VaultShare destinations expose: a
// deterministic receipt-share to underlying-asset conversion.
type ShareConverter interface {
	ConvertToAssets(shares sdkmath.Int) sdkmath.Int
}

// RateProvider is the extra accessor SavingsToken destinations expose: the
// savings token's underlying-per-share exchange rate as an integer fraction.
type RateProvider interface {
	ExchangeRate() (num, den sdkmath.Int)
}

func validatePositive(amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return ErrZeroAmount
	}
	return nil
}
