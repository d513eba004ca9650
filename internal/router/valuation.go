package router

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/oracle"
	"github.com/meridian-fi/rvm/internal/types"
	"github.com/meridian-fi/rvm/internal/utils"
)

// TotalValue returns the router's full position in underlying terms: the
// tracked liquid balance plus each registered destination valued by its
// type-specific accessor. Raw donated balances never enter the sum. Any
// single valuation failure fails the whole call.
func (r *Router) TotalValue() (sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalValueLocked()
}

func (r *Router) totalValueLocked() (sdkmath.Int, error) {
	total := r.trackedLiquidBalance
	for _, e := range r.assets {
		value, err := r.valueOfLocked(e)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("valuing %s: %w", e.cfg.Token, err)
		}
		total = total.Add(value)
	}
	return total, nil
}

// valueOfLocked values one destination through the accessor resolved at
// registration time.
func (r *Router) valueOfLocked(e *assetEntry) (sdkmath.Int, error) {
	receipts := e.adapter.ReceiptBalance()
	if !receipts.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}

	switch e.cfg.Type {
	case types.AssetTypeVaultShare:
		return e.shareConv.ConvertToAssets(receipts), nil

	case types.AssetTypeLendingReceipt:
		// Interest-accruing receipts redeem one to one for underlying.
		return receipts, nil

	case types.AssetTypeOracleValuedReceipt:
		round, err := e.feed.LatestRound()
		if err != nil {
			return sdkmath.Int{}, err
		}
		if err := oracle.Validate(round, r.now()); err != nil {
			return sdkmath.Int{}, err
		}
		scale := sdkmath.NewIntWithDecimal(1, e.feed.Decimals())
		return utils.MulDivFloor(receipts, round.Price, scale)

	case types.AssetTypeSavingsToken:
		num, den := e.rate.ExchangeRate()
		return utils.MulDivFloor(receipts, num, den)

	default:
		return sdkmath.Int{}, fmt.Errorf("%w: %d", ErrInvalidAssetType, e.cfg.Type)
	}
}
