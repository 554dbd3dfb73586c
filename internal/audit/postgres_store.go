package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentpay/firewall/internal/idgen"
)

// PostgresStore persists the decision audit log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, e *Entry) error {
	id := e.ID
	if id == "" {
		id = idgen.WithPrefix("aud_")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, intent_id, recipient, amount, currency, protocol,
			outcome, layer, reason, transaction_id, escrow_id, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		id, e.IntentID, e.Recipient, e.Amount, e.Currency, e.Protocol,
		string(e.Outcome), nullString(e.Layer), nullString(e.Reason),
		nullString(e.TransactionID), nullString(e.EscrowID), e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: record entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intent_id, recipient, amount, currency, protocol,
			   outcome, COALESCE(layer, ''), COALESCE(reason, ''),
			   COALESCE(transaction_id, ''), COALESCE(escrow_id, ''), recorded_at
		FROM audit_log
		ORDER BY recorded_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func (s *PostgresStore) ListByIntent(ctx context.Context, intentID string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, intent_id, recipient, amount, currency, protocol,
			   outcome, COALESCE(layer, ''), COALESCE(reason, ''),
			   COALESCE(transaction_id, ''), COALESCE(escrow_id, ''), recorded_at
		FROM audit_log
		WHERE intent_id = $1
		ORDER BY recorded_at DESC
	`, intentID)
	if err != nil {
		return nil, fmt.Errorf("audit: list by intent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		var e Entry
		var outcome string
		if err := rows.Scan(
			&e.ID, &e.IntentID, &e.Recipient, &e.Amount, &e.Currency, &e.Protocol,
			&outcome, &e.Layer, &e.Reason, &e.TransactionID, &e.EscrowID, &e.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Outcome = Outcome(outcome)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
