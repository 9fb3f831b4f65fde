package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteMirror keeps the last fetched process catalog in SQLite so the
// station can keep automating while the cloud is unreachable.
type SQLiteMirror struct {
	db     *sql.DB
	logger Logger
}

// NewSQLiteMirror creates a mirror on an open SQLite connection.
func NewSQLiteMirror(db *sql.DB) *SQLiteMirror {
	return &SQLiteMirror{db: db, logger: noopLogger{}}
}

// SetLogger sets the logger used to report skipped rows.
func (m *SQLiteMirror) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Save replaces the mirrored catalog with processes in one transaction.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - processes: Full catalog as last fetched
//
// Returns:
//   - error: nil on success, otherwise the marshalling or database error
func (m *SQLiteMirror) Save(ctx context.Context, processes []StateTriggerProcess) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM process_mirror"); err != nil {
		return fmt.Errorf("clearing process mirror: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range processes {
		p := &processes[i]
		doc, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshalling process %s: %w", p.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO process_mirror (id, alias, document, updated_at) VALUES (?, ?, ?, ?)",
			p.ID, p.Alias, string(doc), now,
		); err != nil {
			return fmt.Errorf("inserting process %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Load returns the mirrored catalog ordered by ID. Rows that no longer
// decode are skipped with a warning.
func (m *SQLiteMirror) Load(ctx context.Context) ([]StateTriggerProcess, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT document FROM process_mirror ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("querying process mirror: %w", err)
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning process mirror: %w", err)
		}
		docs = append(docs, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating process mirror: %w", err)
	}

	processes, skipped := DecodeProcesses(docs)
	for _, err := range skipped {
		m.logger.Warn("skipping malformed mirrored process", "error", err)
	}
	return processes, nil
}
