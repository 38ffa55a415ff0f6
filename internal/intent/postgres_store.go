package intent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists intents in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const intentColumns = `order_id, payer, payee, asset, amount, metadata,
	release_delay, status, escrow_id, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, intent *Intent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		intent.OrderID, intent.Payer, intent.Payee, intent.Asset,
		intent.Amount, intent.Metadata, intent.ReleaseDelay, intent.Status,
		intent.EscrowID, intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, orderID string) (*Intent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM order_intents WHERE order_id = $1`, orderID)

	var in Intent
	err := row.Scan(&in.OrderID, &in.Payer, &in.Payee, &in.Asset, &in.Amount,
		&in.Metadata, &in.ReleaseDelay, &in.Status, &in.EscrowID,
		&in.CreatedAt, &in.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan intent: %w", err)
	}
	return &in, nil
}

func (s *PostgresStore) Update(ctx context.Context, intent *Intent) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE order_intents SET status = $2, escrow_id = $3, updated_at = $4
		WHERE order_id = $1`,
		intent.OrderID, intent.Status, intent.EscrowID, intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update intent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return ErrIntentNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, status Status, limit int) ([]*Intent, error) {
	q := `SELECT ` + intentColumns + ` FROM order_intents`
	var args []interface{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += ` ORDER BY created_at, order_id`
	if limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query intents: %w", err)
	}
	defer rows.Close()

	var out []*Intent
	for rows.Next() {
		var in Intent
		if err := rows.Scan(&in.OrderID, &in.Payer, &in.Payee, &in.Asset, &in.Amount,
			&in.Metadata, &in.ReleaseDelay, &in.Status, &in.EscrowID,
			&in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		out = append(out, &in)
	}
	return out, rows.Err()
}
