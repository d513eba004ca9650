package state

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/meridian-fi/rvm/internal/types"
)

// JournalSink writes every recorded event to the event_journal table and
// folds weight transitions into the weight_updates history. Recording is fire
// and forget: a failed insert is logged and dropped so a database hiccup can
// never fail a vault or router operation.
type JournalSink struct {
	mu sync.Mutex
	// Drain failures surface before the weight update that caused them;
	// they are held here and attached to the next weight record.
	pendingDrainFailures []string
}

// NewJournalSink returns a sink backed by the global connection pool.
func NewJournalSink() *JournalSink { return &JournalSink{} }

// Record implements types.EventSink.
func (s *JournalSink) Record(ev types.Event) {
	if DB == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("kind", ev.Kind()).Msg("Failed to marshal event for journal")
		return
	}

	query := `INSERT INTO event_journal (kind, payload) VALUES ($1, $2);`
	if _, err := DB.Exec(query, ev.Kind(), payload); err != nil {
		log.Error().Err(err).Str("kind", ev.Kind()).Msg("Failed to journal event")
	}

	switch e := ev.(type) {
	case types.DrainFailedEvent:
		s.mu.Lock()
		s.pendingDrainFailures = append(s.pendingDrainFailures,
			fmt.Sprintf("%s: %s", e.Token, e.Reason))
		s.mu.Unlock()
	case types.WeightsUpdatedEvent:
		s.saveWeightRecord(e)
	}
}

func (s *JournalSink) saveWeightRecord(ev types.WeightsUpdatedEvent) {
	s.mu.Lock()
	failures := s.pendingDrainFailures
	s.pendingDrainFailures = nil
	s.mu.Unlock()

	record := types.WeightUpdateRecord{
		Timestamp:    time.Now(),
		Tokens:       make([]string, len(ev.Tokens)),
		Weights:      make([]int64, len(ev.Weights)),
		DrainFailure: failures,
	}
	for i, token := range ev.Tokens {
		record.Tokens[i] = string(token)
	}
	for i, w := range ev.Weights {
		record.Weights[i] = int64(w)
	}
	if _, err := SaveWeightUpdate(record); err != nil {
		log.Error().Err(err).Msg("Failed to persist weight update record")
	}
}

// JournalEntry is one persisted event row.
type JournalEntry struct {
	EventID   int64           `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

// GetRecentEvents returns the latest journal entries, newest first. An empty
// kind matches all kinds.
func GetRecentEvents(kind string, limit int) ([]JournalEntry, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT event_id, event_timestamp, kind, payload
		FROM event_journal
		WHERE $1 = '' OR kind = $1
		ORDER BY event_timestamp DESC
		LIMIT $2;
	`

	rows, err := DB.Query(query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query event journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var payload []byte
		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Kind, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event journal: %w", err)
	}

	return entries, nil
}
