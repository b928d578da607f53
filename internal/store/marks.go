package store

import (
	"context"
	"fmt"
	"time"

	"github.com/christopherklint97/billr/internal/dedup"
)

const (
	markProcessed = "processed"
	markDismissed = "dismissed"
)

// Marks persists processed/dismissed email ids for one owner. It
// implements dedup.Persister.
type Marks struct {
	db      *DB
	ownerID string
}

func (db *DB) Marks(ownerID string) *Marks {
	return &Marks{db: db, ownerID: ownerID}
}

func (m *Marks) MarkProcessed(ctx context.Context, ids []string) error {
	return m.mark(ctx, ids, markProcessed)
}

func (m *Marks) MarkDismissed(ctx context.Context, ids []string) error {
	return m.mark(ctx, ids, markDismissed)
}

func (m *Marks) mark(ctx context.Context, ids []string, kind string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO email_marks (owner_id, email_id, kind, marked_at) VALUES (?, ?, ?, ?)`,
			m.ownerID, id, kind, now,
		); err != nil {
			return fmt.Errorf("marking %s %s: %w", id, kind, err)
		}
	}
	return tx.Commit()
}

func (m *Marks) ids(ctx context.Context, kind string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT email_id FROM email_marks WHERE owner_id = ? AND kind = ?`, m.ownerID, kind)
	if err != nil {
		return nil, fmt.Errorf("querying %s ids: %w", kind, err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

// Snapshot loads everything a dedup.Tracker needs for this owner.
func (m *Marks) Snapshot(ctx context.Context) (dedup.Snapshot, error) {
	processed, err := m.ids(ctx, markProcessed)
	if err != nil {
		return dedup.Snapshot{}, err
	}
	dismissed, err := m.ids(ctx, markDismissed)
	if err != nil {
		return dedup.Snapshot{}, err
	}
	billed, err := m.db.BilledEmailIDs(ctx, m.ownerID)
	if err != nil {
		return dedup.Snapshot{}, err
	}
	return dedup.Snapshot{Processed: processed, Dismissed: dismissed, Billed: billed}, nil
}
