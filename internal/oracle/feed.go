/*

Price feed validation for oracle-valued yield destinations. A reading must
pass all three checks (freshness, positive price, complete round) before the
router may use it; a failed reading fails the entire valuation call, since
minting decisions downstream depend on a trustworthy total value.

*/

package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/meridian-fi/rvm/internal/logger"
)

var (
	ErrStaleOraclePrice     = errors.New("oracle price is stale")
	ErrInvalidOraclePrice   = errors.New("oracle price is invalid")
	ErrIncompleteOracleRound = errors.New("oracle round is incomplete")
)

// MaxPriceAge is the staleness threshold for oracle readings.
const MaxPriceAge = time.Hour

var oracleLogger = logger.GetForComponent("oracle_validator")

// RoundData is one oracle reading.
type RoundData struct {
	// Price is the asset price scaled by 10^Decimals of the feed.
	Price sdkmath.Int
	// UpdatedAt is when the round was last updated.
	UpdatedAt time.Time
	// RoundID identifies the round the reading was requested in.
	RoundID uint64
	// AnsweredInRound identifies the round the answer was computed in.
	AnsweredInRound uint64
}

// PriceFeed exposes the latest oracle round for one asset.
type PriceFeed interface {
	// LatestRound returns the most recent reading.
	LatestRound() (RoundData, error)
	// Decimals returns the feed's price precision.
	Decimals() int
}

// Validate checks a reading against the three acceptance conditions and
// returns the first violation found. now is injected for testability.
func Validate(round RoundData, now time.Time) error {
	if age := now.Sub(round.UpdatedAt); age > MaxPriceAge {
		return fmt.Errorf("%w: updated %s ago (max %s)", ErrStaleOraclePrice, age, MaxPriceAge)
	}
	if round.Price.IsNil() || !round.Price.IsPositive() {
		return fmt.Errorf("%w: price %s is not positive", ErrInvalidOraclePrice, round.Price)
	}
	if round.AnsweredInRound < round.RoundID {
		return fmt.Errorf("%w: answered in round %d, requested round %d",
			ErrIncompleteOracleRound, round.AnsweredInRound, round.RoundID)
	}
	return nil
}

// StaticFeed is a settable in-memory feed used by the simulated redemption
// manager and by tests.
type StaticFeed struct {
	mu       sync.Mutex
	round    RoundData
	decimals int
	failErr  error
}

// NewStaticFeed creates a feed with the given precision and an initial round.
func NewStaticFeed(decimals int, round RoundData) *StaticFeed {
	return &StaticFeed{round: round, decimals: decimals}
}

// SetRound replaces the latest reading.
func (f *StaticFeed) SetRound(round RoundData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = round
	oracleLogger.Debug().
		Str("price", round.Price.String()).
		Uint64("roundId", round.RoundID).
		Time("updatedAt", round.UpdatedAt).
		Msg("Oracle round updated")
}

// SetError makes LatestRound fail until cleared with a nil error.
func (f *StaticFeed) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failErr = err
}

// LatestRound returns the current reading.
func (f *StaticFeed) LatestRound() (RoundData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return RoundData{}, f.failErr
	}
	return f.round, nil
}

// Decimals returns the feed precision.
func (f *StaticFeed) Decimals() int {
	return f.decimals
}
