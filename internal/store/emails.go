package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/christopherklint97/billr/internal/billing"
)

// SaveEmails caches fetched messages. Emails are immutable, so an id
// seen before is left untouched.
func (db *DB) SaveEmails(ctx context.Context, emails []billing.Email) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, e := range emails {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO emails (id, sender, subject, body, received_at) VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.Sender, e.Subject, e.Body, e.ReceivedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return 0, fmt.Errorf("saving email %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing emails: %w", err)
	}
	return inserted, nil
}

// ListEmails returns cached emails received at or after since, oldest first.
func (db *DB) ListEmails(ctx context.Context, since time.Time) ([]billing.Email, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, sender, subject, body, received_at FROM emails
		 WHERE received_at >= ? ORDER BY received_at ASC, id ASC`,
		since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", err)
	}
	defer rows.Close()

	var out []billing.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) GetEmail(ctx context.Context, id string) (billing.Email, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, sender, subject, body, received_at FROM emails WHERE id = ?`, id)
	e, err := scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Email{}, fmt.Errorf("email %s: %w", id, ErrNotFound)
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmail(s scanner) (billing.Email, error) {
	var e billing.Email
	var received string
	if err := s.Scan(&e.ID, &e.Sender, &e.Subject, &e.Body, &received); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("scanning email: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, received); err == nil {
		e.ReceivedAt = t
	}
	return e, nil
}
