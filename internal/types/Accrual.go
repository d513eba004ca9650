package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// AccrualSnapshot captures one completed harvest cycle for the operational
// history store and the status API.
type AccrualSnapshot struct {
	SnapshotID  int64       `json:"snapshot_id"`
	CycleID     string      `json:"cycle_id"`
	Timestamp   time.Time   `json:"timestamp"`
	ValueBefore sdkmath.Int `json:"value_before"`
	ValueAfter  sdkmath.Int `json:"value_after"`
	Delta       sdkmath.Int `json:"delta"`
	IndexBefore sdkmath.Int `json:"index_before"`
	IndexAfter  sdkmath.Int `json:"index_after"`
}

// AccrualOutcome reports the vault-side effect of one applied yield delta.
type AccrualOutcome struct {
	OldTotal sdkmath.Int `json:"old_total"`
	NewTotal sdkmath.Int `json:"new_total"`
	OldIndex sdkmath.Int `json:"old_index"`
	NewIndex sdkmath.Int `json:"new_index"`
}

// WeightUpdateRecord captures one weight transition, including any tolerated
// drain failures, for auditing.
type WeightUpdateRecord struct {
	RecordID     int64     `json:"record_id"`
	Timestamp    time.Time `json:"timestamp"`
	Tokens       []string  `json:"tokens"`
	Weights      []int64   `json:"weights"`
	DrainFailure []string  `json:"drain_failures"`
}
