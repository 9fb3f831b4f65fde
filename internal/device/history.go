package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyTimeLayout has fixed width so that string order is time order.
	historyTimeLayout = "2006-01-02T15:04:05.000Z"
)

// HistoryEntry is one recorded state change.
type HistoryEntry struct {
	ID         int64        `json:"id"`
	Target     DeviceTarget `json:"target"`
	Value      any          `json:"value"`
	RecordedAt time.Time    `json:"recordedAt"`
}

// HistoryRepository persists accepted state changes to SQLite.
//
// It implements StateSink, so registering it on the StateStore records
// every change that was published.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a repository on an open SQLite connection.
//
// Parameters:
//   - db: Open SQLite connection with the state_history table migrated
//
// Returns:
//   - *HistoryRepository: Repository instance ready for use
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Name identifies the sink in logs.
func (r *HistoryRepository) Name() string { return "history" }

// RecordState inserts change into state_history.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - change: Accepted state change
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *HistoryRepository) RecordState(ctx context.Context, change StateChange) error {
	if err := change.Target.Validate(); err != nil {
		return err
	}
	valueJSON, err := json.Marshal(change.Value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}
	at := change.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO state_history (channel, identifier, contact, value, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		change.Target.Channel,
		change.Target.Identifier,
		change.Target.Contact,
		string(valueJSON),
		at.UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// List returns recent entries for target, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - target: Contact to read history for
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Entries ordered by recorded_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *HistoryRepository) List(ctx context.Context, target DeviceTarget, limit int) ([]HistoryEntry, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, value, recorded_at
		 FROM state_history
		 WHERE channel = ? AND identifier = ? AND contact = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		target.Channel, target.Identifier, target.Contact, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		entry := HistoryEntry{Target: target}
		var valueJSON sql.NullString
		var recordedAt string

		if err := rows.Scan(&entry.ID, &valueJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if valueJSON.Valid {
			if err := json.Unmarshal([]byte(valueJSON.String), &entry.Value); err != nil {
				return nil, fmt.Errorf("unmarshalling value: %w", err)
			}
		}
		if entry.RecordedAt, err = parseHistoryTimestamp(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Latest returns the newest entry of every recorded target.
func (r *HistoryRepository) Latest(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT h.id, h.channel, h.identifier, h.contact, h.value, h.recorded_at
		 FROM state_history h
		 WHERE h.id = (
			SELECT x.id FROM state_history x
			WHERE x.channel = h.channel AND x.identifier = h.identifier AND x.contact = h.contact
			ORDER BY x.recorded_at DESC, x.id DESC
			LIMIT 1
		 )
		 ORDER BY h.channel, h.identifier, h.contact`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying latest state history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var valueJSON sql.NullString
		var recordedAt string

		if err := rows.Scan(&entry.ID, &entry.Target.Channel, &entry.Target.Identifier, &entry.Target.Contact, &valueJSON, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if valueJSON.Valid {
			if err := json.Unmarshal([]byte(valueJSON.String), &entry.Value); err != nil {
				return nil, fmt.Errorf("unmarshalling value: %w", err)
			}
		}
		if entry.RecordedAt, err = parseHistoryTimestamp(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *HistoryRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(historyTimeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// parseHistoryTimestamp parses a timestamp stored in SQLite.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("recorded_at is empty")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing recorded_at: %w", err)
	}
	return t, nil
}
