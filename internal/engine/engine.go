package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meridian-fi/rvm/internal/logger"
	"github.com/meridian-fi/rvm/internal/router"
	"github.com/meridian-fi/rvm/internal/state"
	"github.com/meridian-fi/rvm/internal/types"
)

// Keeper drives the automated accrual loop: each cycle it evaluates the
// router's upkeep predicate and, when it fires, performs the accrual and
// persists a snapshot of the outcome.
type Keeper struct {
	logger      zerolog.Logger
	yieldRouter *router.Router
	persist     bool

	cycleCount int
}

// Config holds the configuration for creating a new Keeper instance.
type Config struct {
	Router *router.Router
	// Persist enables writing accrual snapshots to the database.
	Persist bool
}

// NewKeeper creates a new Keeper instance with dependency injection.
func NewKeeper(cfg Config) (*Keeper, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}

	k := &Keeper{
		logger:      logger.GetForComponent("keeper"),
		yieldRouter: cfg.Router,
		persist:     cfg.Persist,
	}

	k.logger.Info().
		Bool("persist", cfg.Persist).
		Msg("Keeper instance created")

	return k, nil
}

// RunLoop starts the main keeper loop with the specified interval.
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().
		Dur("interval", interval).
		Msg("Starting keeper main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	k.cycleCount++
	k.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.cycleCount++
			k.RunCycle(ctx)
		}
	}
}

// RunCycle executes one upkeep evaluation.
func (k *Keeper) RunCycle(ctx context.Context) {
	cycleID := uuid.New().String()
	cycleLogger := k.logger.With().
		Str("cycle_id", cycleID).
		Int("cycle", k.cycleCount).
		Logger()

	needed, err := k.yieldRouter.CheckUpkeep()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: upkeep check failed.")
		return
	}
	if !needed {
		cycleLogger.Debug().Msg("Upkeep not needed")
		return
	}

	cycleLogger.Info().Msg("Upkeep needed, performing accrual")
	ev, err := k.yieldRouter.PerformUpkeep()
	if err != nil {
		// A competing accrual may have satisfied the predicate between the
		// check and the perform.
		cycleLogger.Warn().Err(err).Msg("Upkeep did not complete")
		return
	}

	cycleLogger.Info().
		Str("delta", ev.Delta.String()).
		Str("newIndex", ev.NewIndex.String()).
		Msg("Accrual cycle completed")

	if !k.persist {
		return
	}
	snapshot := types.AccrualSnapshot{
		CycleID:     cycleID,
		Timestamp:   ev.Timestamp,
		ValueBefore: ev.PreviousValue,
		ValueAfter:  ev.CurrentValue,
		Delta:       ev.Delta,
		IndexBefore: ev.OldIndex,
		IndexAfter:  ev.NewIndex,
	}
	if _, err := state.SaveAccrualSnapshot(snapshot); err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to persist accrual snapshot")
	}
}
