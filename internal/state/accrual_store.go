package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/meridian-fi/rvm/internal/types"
)

// SaveAccrualSnapshot persists one completed harvest to the database.
func SaveAccrualSnapshot(snapshot types.AccrualSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO accrual_snapshots (
			cycle_id, snapshot_timestamp,
			value_before, value_after, delta,
			index_before, index_after
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRow(
		query,
		snapshot.CycleID, snapshot.Timestamp,
		snapshot.ValueBefore.String(), snapshot.ValueAfter.String(), snapshot.Delta.String(),
		snapshot.IndexBefore.String(), snapshot.IndexAfter.String(),
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save accrual snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Str("cycle_id", snapshot.CycleID).
		Str("delta", snapshot.Delta.String()).
		Msg("Accrual snapshot saved to database")

	return snapshotID, nil
}

// GetRecentAccruals returns the latest accrual snapshots, newest first.
func GetRecentAccruals(limit int) ([]types.AccrualSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT snapshot_id, cycle_id, snapshot_timestamp,
		       value_before, value_after, delta,
		       index_before, index_after
		FROM accrual_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query accrual snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.AccrualSnapshot
	for rows.Next() {
		var s types.AccrualSnapshot
		var valueBefore, valueAfter, delta, indexBefore, indexAfter string
		if err := rows.Scan(
			&s.SnapshotID, &s.CycleID, &s.Timestamp,
			&valueBefore, &valueAfter, &delta,
			&indexBefore, &indexAfter,
		); err != nil {
			return nil, fmt.Errorf("failed to scan accrual snapshot: %w", err)
		}
		s.ValueBefore, err = parseNumeric(valueBefore)
		if err != nil {
			return nil, err
		}
		s.ValueAfter, err = parseNumeric(valueAfter)
		if err != nil {
			return nil, err
		}
		s.Delta, err = parseNumeric(delta)
		if err != nil {
			return nil, err
		}
		s.IndexBefore, err = parseNumeric(indexBefore)
		if err != nil {
			return nil, err
		}
		s.IndexAfter, err = parseNumeric(indexAfter)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accrual snapshots: %w", err)
	}

	return snapshots, nil
}

// parseNumeric converts a NUMERIC column read as text into an integer amount.
func parseNumeric(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid numeric value from database: %q", s)
	}
	return v, nil
}
