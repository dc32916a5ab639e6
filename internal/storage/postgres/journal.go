package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/checkout"
)

const (
	insertTransitionSQL = `INSERT INTO checkout_transitions
		(attempt_id, order_id, from_state, to_state, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	listTransitionsSQL = `SELECT attempt_id, order_id, from_state, to_state, reason, occurred_at
		FROM checkout_transitions WHERE attempt_id = $1 ORDER BY id`
)

var _ checkout.Journal = (*JournalRepository)(nil)

// JournalRepository appends checkout transitions to checkout_transitions.
type JournalRepository struct {
	pool *pgxpool.Pool
}

// NewJournalRepository returns a JournalRepository that uses the given pool.
func NewJournalRepository(pool *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{pool: pool}
}

// Record appends one transition.
func (r *JournalRepository) Record(ctx context.Context, t checkout.Transition) error {
	_, err := r.pool.Exec(ctx, insertTransitionSQL,
		t.AttemptID, t.OrderID, string(t.From), string(t.To), t.Reason, t.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording transition %s->%s of %q: %w", t.From, t.To, t.AttemptID, err)
	}
	return nil
}

// History returns the transitions of one attempt in the order they happened.
func (r *JournalRepository) History(ctx context.Context, attemptID string) ([]checkout.Transition, error) {
	rows, err := r.pool.Query(ctx, listTransitionsSQL, attemptID)
	if err != nil {
		return nil, fmt.Errorf("listing transitions of %q: %w", attemptID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (checkout.Transition, error) {
		var (
			t        checkout.Transition
			from, to string
			at       time.Time
		)
		err := row.Scan(&t.AttemptID, &t.OrderID, &from, &to, &t.Reason, &at)
		t.From = checkout.State(from)
		t.To = checkout.State(to)
		t.At = at
		return t, err
	})
}
