package store

import (
	"context"
	"fmt"
	"time"

	"github.com/christopherklint97/billr/internal/billing"
)

func (db *DB) AddCorrection(ctx context.Context, ownerID string, c billing.Correction) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO corrections (owner_id, original, corrected, created_at) VALUES (?, ?, ?, ?)`,
		ownerID, c.Original, c.Corrected, c.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting correction: %w", err)
	}
	return nil
}

// RecentCorrections returns up to limit corrections, newest first.
func (db *DB) RecentCorrections(ctx context.Context, ownerID string, limit int) ([]billing.Correction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT original, corrected, created_at FROM corrections
		 WHERE owner_id = ? ORDER BY id DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying corrections: %w", err)
	}
	defer rows.Close()

	var out []billing.Correction
	for rows.Next() {
		var c billing.Correction
		var created string
		if err := rows.Scan(&c.Original, &c.Corrected, &created); err != nil {
			return nil, fmt.Errorf("scanning correction: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			c.CreatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
