package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/christopherklint97/billr/internal/billing"
)

// SaveSuggestions queues pending suggestions so they can be reviewed
// after the scan that produced them has exited.
func (db *DB) SaveSuggestions(ctx context.Context, ownerID string, suggestions []billing.Suggestion) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, s := range suggestions {
		ids, err := json.Marshal(s.EmailIDs)
		if err != nil {
			return fmt.Errorf("encoding suggestion ids: %w", err)
		}
		preview, err := json.Marshal(s.Preview)
		if err != nil {
			return fmt.Errorf("encoding suggestion preview: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO suggestions (id, owner_id, email_ids, preview, created_at) VALUES (?, ?, ?, ?, ?)`,
			s.ID, ownerID, string(ids), string(preview), now,
		); err != nil {
			return fmt.Errorf("saving suggestion %s: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// ListSuggestions returns queued suggestions with their source emails
// attached where they are cached. Suggestions naming an email that a stored
// entry of the owner already references are left out.
func (db *DB) ListSuggestions(ctx context.Context, ownerID string) ([]billing.Suggestion, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT s.id, s.email_ids, s.preview FROM suggestions s
		WHERE s.owner_id = ?
		AND NOT EXISTS (
			SELECT 1 FROM json_each(s.email_ids) j
			JOIN entry_emails ee ON ee.owner_id = s.owner_id AND ee.email_id = j.value
		)
		ORDER BY s.created_at ASC, s.id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying suggestions: %w", err)
	}
	defer rows.Close()

	var out []billing.Suggestion
	for rows.Next() {
		var s billing.Suggestion
		var ids, preview string
		if err := rows.Scan(&s.ID, &ids, &preview); err != nil {
			return nil, fmt.Errorf("scanning suggestion: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &s.EmailIDs); err != nil {
			return nil, fmt.Errorf("decoding suggestion %s ids: %w", s.ID, err)
		}
		if err := json.Unmarshal([]byte(preview), &s.Preview); err != nil {
			return nil, fmt.Errorf("decoding suggestion %s preview: %w", s.ID, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		for _, id := range out[i].EmailIDs {
			if e, err := db.GetEmail(ctx, id); err == nil {
				out[i].Emails = append(out[i].Emails, e)
			}
		}
	}
	return out, nil
}

func (db *DB) DeleteSuggestion(ctx context.Context, ownerID, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM suggestions WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return fmt.Errorf("deleting suggestion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("suggestion %s: %w", id, ErrNotFound)
	}
	return nil
}
