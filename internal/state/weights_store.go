package state

import (
	"fmt"

	"github.com/lib/pq" // PostgreSQL driver for array support
	"github.com/rs/zerolog/log"

	"github.com/meridian-fi/rvm/internal/types"
)

// SaveWeightUpdate persists one weight transition, including any tolerated
// drain failures.
func SaveWeightUpdate(record types.WeightUpdateRecord) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO weight_updates (update_timestamp, tokens, weights, drain_failures)
		VALUES ($1, $2, $3, $4)
		RETURNING record_id;
	`

	var recordID int64
	err := DB.QueryRow(
		query,
		record.Timestamp,
		pq.Array(record.Tokens),
		pq.Array(record.Weights),
		pq.Array(record.DrainFailure),
	).Scan(&recordID)
	if err != nil {
		return 0, fmt.Errorf("failed to save weight update: %w", err)
	}

	log.Info().
		Int64("record_id", recordID).
		Int("assets", len(record.Tokens)).
		Msg("Weight update saved to database")

	return recordID, nil
}

// GetRecentWeightUpdates returns the latest weight transitions, newest first.
func GetRecentWeightUpdates(limit int) ([]types.WeightUpdateRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT record_id, update_timestamp, tokens, weights, drain_failures
		FROM weight_updates
		ORDER BY update_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query weight updates: %w", err)
	}
	defer rows.Close()

	var records []types.WeightUpdateRecord
	for rows.Next() {
		var r types.WeightUpdateRecord
		if err := rows.Scan(
			&r.RecordID, &r.Timestamp,
			pq.Array(&r.Tokens), pq.Array(&r.Weights), pq.Array(&r.DrainFailure),
		); err != nil {
			return nil, fmt.Errorf("failed to scan weight update: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating weight updates: %w", err)
	}

	return records, nil
}
