package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/checkout"
)

const (
	insertIssueSQL = `INSERT INTO reconciliation_issues
		(attempt_id, order_id, payment_reference, total, cause, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (attempt_id, payment_reference) DO NOTHING`

	listOpenIssuesSQL = `SELECT id, attempt_id, order_id, payment_reference, total, cause, detected_at
		FROM reconciliation_issues
		WHERE resolved_at IS NULL AND detected_at >= $1
		ORDER BY detected_at, id`

	resolveIssueSQL = `UPDATE reconciliation_issues SET resolved_at = $2
		WHERE id = $1 AND resolved_at IS NULL`
)

// Issue is a stored reconciliation inconsistency.
type Issue struct {
	ID               int64           `json:"id"`
	AttemptID        string          `json:"attempt_id"`
	OrderID          string          `json:"order_id"`
	PaymentReference string          `json:"payment_reference"`
	Total            decimal.Decimal `json:"total"`
	Cause            string          `json:"cause"`
	DetectedAt       time.Time       `json:"detected_at"`
}

var _ checkout.Reporter = (*ReconciliationRepository)(nil)

// ReconciliationRepository is the ledger of captured payments whose order
// could not be confirmed.
type ReconciliationRepository struct {
	pool *pgxpool.Pool
}

// NewReconciliationRepository returns a ReconciliationRepository that uses
// the given pool.
func NewReconciliationRepository(pool *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{pool: pool}
}

// ReportInconsistency stores inc. Reporting the same attempt and payment
// reference twice keeps the first record.
func (r *ReconciliationRepository) ReportInconsistency(ctx context.Context, inc checkout.Inconsistency) error {
	_, err := r.pool.Exec(ctx, insertIssueSQL,
		inc.AttemptID, inc.OrderID, inc.PaymentReference, inc.Total, inc.Cause, inc.DetectedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storing inconsistency for order %q: %w", inc.OrderID, err)
	}
	return nil
}

// EachOpen streams unresolved issues detected at or after since to fn, oldest
// first. Iteration stops at the first error fn returns.
func (r *ReconciliationRepository) EachOpen(ctx context.Context, since time.Time, fn func(Issue) error) error {
	rows, err := r.pool.Query(ctx, listOpenIssuesSQL, since.UTC())
	if err != nil {
		return fmt.Errorf("listing open issues: %w", err)
	}
	var issue Issue
	_, err = pgx.ForEachRow(rows, []any{
		&issue.ID, &issue.AttemptID, &issue.OrderID, &issue.PaymentReference,
		&issue.Total, &issue.Cause, &issue.DetectedAt,
	}, func() error {
		return fn(issue)
	})
	if err != nil {
		return fmt.Errorf("reading open issues: %w", err)
	}
	return nil
}

// Resolve marks an issue handled. It reports whether the issue was open.
func (r *ReconciliationRepository) Resolve(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, resolveIssueSQL, id, at.UTC())
	if err != nil {
		return false, fmt.Errorf("resolving issue %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
