package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/christopherklint97/billr/internal/billing"
)

// UpsertMatters replaces the given matters (matched by name) and keeps
// their order for listing. Rule order within a matter is preserved as-is.
func (db *DB) UpsertMatters(ctx context.Context, matters []billing.Matter) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for i, m := range matters {
		rules := m.Rules
		if rules == nil {
			rules = []billing.BillingRule{}
		}
		data, err := json.Marshal(rules)
		if err != nil {
			return fmt.Errorf("encoding rules for %q: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO matters (name, rate, rules, position) VALUES (?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET rate = excluded.rate, rules = excluded.rules, position = excluded.position`,
			m.Name, m.Rate, string(data), i,
		); err != nil {
			return fmt.Errorf("upserting matter %q: %w", m.Name, err)
		}
	}
	return tx.Commit()
}

func (db *DB) ListMatters(ctx context.Context) ([]billing.Matter, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, rate, rules FROM matters ORDER BY position ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying matters: %w", err)
	}
	defer rows.Close()

	var matters []billing.Matter
	for rows.Next() {
		var m billing.Matter
		var rules string
		if err := rows.Scan(&m.Name, &m.Rate, &rules); err != nil {
			return nil, fmt.Errorf("scanning matter: %w", err)
		}
		if err := json.Unmarshal([]byte(rules), &m.Rules); err != nil {
			return nil, fmt.Errorf("decoding rules for %q: %w", m.Name, err)
		}
		matters = append(matters, m)
	}
	return matters, rows.Err()
}

func (db *DB) DeleteMatter(ctx context.Context, name string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM matters WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting matter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("matter %q: %w", name, ErrNotFound)
	}
	return nil
}
