package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/christopherklint97/billr/internal/billing"
)

const entryColumns = `id, owner_id, email_ids, description, hours, matter, rate, status, auto_generated, archived,
	synced_at, external_id, external_url, sync_error, created_at`

// AddEntry stores a new entry. Every email id is registered in
// entry_emails in the same transaction; an id already billed for this
// owner fails the whole insert with ErrAlreadyBilled.
func (db *DB) AddEntry(ctx context.Context, ownerID string, data billing.NewEntry, rate float64, target string, autoGenerated bool) (billing.Entry, error) {
	status := data.Status
	if status == "" {
		status = billing.StatusDraft
	}
	e := billing.Entry{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		EmailIDs:      append([]string(nil), data.EmailIDs...),
		Description:   data.Description,
		Hours:         data.Hours,
		Matter:        data.Matter,
		Rate:          rate,
		Status:        status,
		AutoGenerated: autoGenerated,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}

	idsJSON, err := json.Marshal(nonNil(e.EmailIDs))
	if err != nil {
		return billing.Entry{}, fmt.Errorf("encoding email ids: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Entry{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (id, owner_id, email_ids, description, hours, matter, rate, status, target, auto_generated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, ownerID, string(idsJSON), e.Description, e.Hours, e.Matter, e.Rate, string(e.Status),
		target, boolInt(autoGenerated), e.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return billing.Entry{}, fmt.Errorf("inserting entry: %w", err)
	}

	for _, emailID := range e.EmailIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entry_emails (owner_id, email_id, entry_id) VALUES (?, ?, ?)`,
			ownerID, emailID, e.ID,
		); err != nil {
			if isConstraint(err) {
				return billing.Entry{}, fmt.Errorf("email %s: %w", emailID, ErrAlreadyBilled)
			}
			return billing.Entry{}, fmt.Errorf("linking email %s: %w", emailID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return billing.Entry{}, fmt.Errorf("committing entry: %w", err)
	}
	return e, nil
}

// UpdateEntry writes the mutable fields of an entry back.
func (db *DB) UpdateEntry(ctx context.Context, ownerID string, e billing.Entry) (billing.Entry, error) {
	var syncedAt any
	if !e.Sync.SyncedAt.IsZero() {
		syncedAt = e.Sync.SyncedAt.UTC().Format(time.RFC3339)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE entries SET description = ?, hours = ?, matter = ?, rate = ?, status = ?, archived = ?,
		 synced_at = ?, external_id = ?, external_url = ?, sync_error = ?
		 WHERE id = ? AND owner_id = ?`,
		e.Description, e.Hours, e.Matter, e.Rate, string(e.Status), boolInt(e.Archived),
		syncedAt, nullStr(e.Sync.ExternalID), nullStr(e.Sync.URL), nullStr(e.Sync.Error),
		e.ID, ownerID,
	)
	if err != nil {
		return billing.Entry{}, fmt.Errorf("updating entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return billing.Entry{}, fmt.Errorf("entry %s: %w", e.ID, ErrNotFound)
	}
	return db.GetEntry(ctx, ownerID, e.ID)
}

func (db *DB) GetEntry(ctx context.Context, ownerID, id string) (billing.Entry, error) {
	entries, err := db.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries WHERE owner_id = ? AND id = ?`, ownerID, id)
	if err != nil {
		return billing.Entry{}, err
	}
	if len(entries) == 0 {
		return billing.Entry{}, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return entries[0], nil
}

func (db *DB) ListEntriesByStatus(ctx context.Context, ownerID string, status billing.EntryStatus) ([]billing.Entry, error) {
	return db.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE owner_id = ? AND status = ? AND archived = 0
		 ORDER BY created_at ASC`,
		ownerID, string(status))
}

// ListEntries returns non-archived entries created at or after since.
func (db *DB) ListEntries(ctx context.Context, ownerID string, since time.Time) ([]billing.Entry, error) {
	return db.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM entries
		 WHERE owner_id = ? AND created_at >= ? AND archived = 0
		 ORDER BY created_at ASC`,
		ownerID, since.UTC().Format(time.RFC3339))
}

// BilledEmailIDs lists every email id referenced by any entry of the owner.
func (db *DB) BilledEmailIDs(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT email_id FROM entry_emails WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying billed emails: %w", err)
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (db *DB) queryEntries(ctx context.Context, query string, args ...any) ([]billing.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var entries []billing.Entry
	for rows.Next() {
		var e billing.Entry
		var idsJSON, status, createdStr string
		var autoGen, archived int
		var syncedAt, externalID, externalURL, syncErr sql.NullString

		if err := rows.Scan(
			&e.ID, &e.OwnerID, &idsJSON, &e.Description, &e.Hours, &e.Matter, &e.Rate, &status,
			&autoGen, &archived, &syncedAt, &externalID, &externalURL, &syncErr, &createdStr,
		); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}

		if err := json.Unmarshal([]byte(idsJSON), &e.EmailIDs); err != nil {
			return nil, fmt.Errorf("decoding email ids for entry %s: %w", e.ID, err)
		}
		if len(e.EmailIDs) == 0 {
			e.EmailIDs = nil
		}
		e.Status = billing.EntryStatus(status)
		e.AutoGenerated = autoGen != 0
		e.Archived = archived != 0
		e.Sync.ExternalID = externalID.String
		e.Sync.URL = externalURL.String
		e.Sync.Error = syncErr.String
		if syncedAt.Valid {
			if t, err := time.Parse(time.RFC3339, syncedAt.String); err == nil {
				e.Sync.SyncedAt = t
			}
		}
		if t, err := time.Parse(time.RFC3339, createdStr); err == nil {
			e.CreatedAt = t
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func isConstraint(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
