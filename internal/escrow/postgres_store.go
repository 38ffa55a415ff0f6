package escrow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists escrows in PostgreSQL. The unique index on
// order_id enforces the write-once order binding; a violation surfaces as
// ErrDuplicateOrderID.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an existing connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `id, order_id, payer, payee, asset, amount, metadata,
	fee_bips, fee_collector, status, created_at, release_after,
	dispute_reason, dispute_raised_by, winner, settled_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, escrow *Escrow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrows (`+escrowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		escrow.ID, escrow.OrderID, escrow.Payer, escrow.Payee, escrow.Asset,
		escrow.Amount, escrow.Metadata, escrow.FeeBips, escrow.FeeCollector,
		escrow.Status, escrow.CreatedAt, escrow.ReleaseAfter,
		escrow.DisputeReason, escrow.DisputeRaisedBy, escrow.Winner,
		escrow.SettledAt, escrow.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateOrderID
		}
		return fmt.Errorf("failed to insert escrow: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id)
	return scanEscrow(row)
}

func (s *PostgresStore) GetByOrderID(ctx context.Context, orderID string) (*Escrow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE order_id = $1`, orderID)
	return scanEscrow(row)
}

func (s *PostgresStore) Update(ctx context.Context, escrow *Escrow) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escrows SET
			status = $2, dispute_reason = $3, dispute_raised_by = $4,
			winner = $5, settled_at = $6, updated_at = $7
		WHERE id = $1`,
		escrow.ID, escrow.Status, escrow.DisputeReason, escrow.DisputeRaisedBy,
		escrow.Winner, escrow.SettledAt, escrow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update escrow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return ErrEscrowNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Escrow, error) {
	return s.query(ctx,
		`SELECT `+escrowColumns+` FROM escrows ORDER BY created_at, id`+limitClause(limit))
}

func (s *PostgresStore) ListByParticipant(ctx context.Context, participant string, limit int) ([]*Escrow, error) {
	return s.query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE lower(payer) = lower($1) OR lower(payee) = lower($1)
		ORDER BY created_at, id`+limitClause(limit), participant)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Escrow, error) {
	return s.query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status = $1
		ORDER BY created_at, id`+limitClause(limit), status)
}

func (s *PostgresStore) ListReleasable(ctx context.Context, before time.Time, limit int) ([]*Escrow, error) {
	return s.query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE status = $1 AND release_after <= $2
		ORDER BY release_after, id`+limitClause(limit), StatusFunded, before)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...interface{}) ([]*Escrow, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query escrows: %w", err)
	}
	defer rows.Close()

	var out []*Escrow
	for rows.Next() {
		esc, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, esc)
	}
	return out, rows.Err()
}

func limitClause(limit int) string {
	if limit > 0 {
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEscrow(row rowScanner) (*Escrow, error) {
	var esc Escrow
	var settledAt sql.NullTime
	err := row.Scan(
		&esc.ID, &esc.OrderID, &esc.Payer, &esc.Payee, &esc.Asset,
		&esc.Amount, &esc.Metadata, &esc.FeeBips, &esc.FeeCollector,
		&esc.Status, &esc.CreatedAt, &esc.ReleaseAfter,
		&esc.DisputeReason, &esc.DisputeRaisedBy, &esc.Winner,
		&settledAt, &esc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan escrow: %w", err)
	}
	if settledAt.Valid {
		t := settledAt.Time
		esc.SettledAt = &t
	}
	return &esc, nil
}

// PostgresEventStore persists the append-only event history.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates an event store over an existing pool.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

func (s *PostgresEventStore) Append(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO escrow_events (id, type, escrow_id, order_id, actor, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.Type, event.EscrowID, event.OrderID, event.Actor,
		data, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) ListByEscrow(ctx context.Context, escrowID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		return s.queryEvents(ctx, `
			SELECT id, type, escrow_id, order_id, actor, data, created_at
			FROM escrow_events WHERE escrow_id = $1
			ORDER BY created_at, id`, escrowID)
	}
	// Keep the newest N, oldest first, matching the in-memory store.
	events, err := s.queryEvents(ctx, `
		SELECT id, type, escrow_id, order_id, actor, data, created_at
		FROM escrow_events WHERE escrow_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2`, escrowID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *PostgresEventStore) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	events, err := s.queryEvents(ctx, `
		SELECT id, type, escrow_id, order_id, actor, data, created_at
		FROM escrow_events ORDER BY created_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	// Oldest first, matching the in-memory store.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *PostgresEventStore) queryEvents(ctx context.Context, q string, args ...interface{}) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var e Event
		var data []byte
		if err := rows.Scan(&e.ID, &e.Type, &e.EscrowID, &e.OrderID, &e.Actor, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
