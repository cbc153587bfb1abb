package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palsapos/payments/internal/payment/application"
	"github.com/palsapos/payments/internal/payment/domain"
)

const uniqueViolation = "23505"

type Repository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewRepository(log *slog.Logger, pool *pgxpool.Pool) *Repository {
	return &Repository{log: log, pool: pool}
}

func (r *Repository) GetOrder(ctx context.Context, code string) (domain.Order, error) {
	var o domain.Order
	err := r.pool.QueryRow(ctx,
		`SELECT code, customer, total_cents, status, created_at, updated_at
		 FROM orders WHERE code = $1`, code).
		Scan(&o.Code, &o.Customer, &o.TotalCents, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

// CreateOrder seeds an order row; the storefront owns order creation, this
// exists for tooling and tests.
func (r *Repository) CreateOrder(ctx context.Context, o domain.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (code, customer, total_cents, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (code) DO NOTHING`,
		o.Code, o.Customer, o.TotalCents, o.Status, o.CreatedAt, o.UpdatedAt)
	return err
}

// CreateAttempt locks the order row, re-checks that it is payable and
// inserts the attempt. The partial unique index on active attempts turns
// the loser of a concurrent initiation into ErrDuplicatePaymentInProgress.
func (r *Repository) CreateAttempt(ctx context.Context, a domain.PaymentAttempt) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var status domain.OrderStatus
	err = tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE code = $1 FOR UPDATE`, a.OrderCode).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if status != domain.OrderPending {
		return domain.ErrOrderNotPayable
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO payment_attempts
			(id, order_code, method, phone, amount_cents, reference, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.OrderCode, a.Method, a.Phone, a.AmountCents, a.Reference, a.State, a.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicatePaymentInProgress
		}
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) MarkAttemptPending(ctx context.Context, attemptID string, corr domain.Correlation) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE payment_attempts
		 SET state = $2, checkout_request_id = NULLIF($3, ''), merchant_request_id = NULLIF($4, '')
		 WHERE id = $1 AND state = $5`,
		attemptID, domain.AttemptPendingConfirmation,
		corr.CheckoutRequestID, corr.MerchantRequestID, domain.AttemptInitiated)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (r *Repository) MarkAttemptFailed(ctx context.Context, attemptID, reason string, resolvedAt time.Time) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE payment_attempts
		 SET state = $2, failure_reason = $3, resolved_at = $4
		 WHERE id = $1 AND state IN ($5, $6)`,
		attemptID, domain.AttemptFailed, reason, resolvedAt,
		domain.AttemptInitiated, domain.AttemptPendingConfirmation)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (r *Repository) GetAttemptByCheckoutID(ctx context.Context, checkoutRequestID string) (domain.PaymentAttempt, error) {
	return r.scanAttempt(ctx, r.pool,
		`SELECT id, order_code, method, phone, amount_cents,
			COALESCE(checkout_request_id, ''), COALESCE(merchant_request_id, ''),
			reference, state, receipt_number, payer_phone, failure_reason,
			created_at, resolved_at
		 FROM payment_attempts WHERE checkout_request_id = $1`, checkoutRequestID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) scanAttempt(ctx context.Context, q querier, sql string, args ...any) (domain.PaymentAttempt, error) {
	var a domain.PaymentAttempt
	err := q.QueryRow(ctx, sql, args...).Scan(
		&a.ID, &a.OrderCode, &a.Method, &a.Phone, &a.AmountCents,
		&a.CheckoutRequestID, &a.MerchantRequestID,
		&a.Reference, &a.State, &a.ReceiptNumber, &a.PayerPhone, &a.FailureReason,
		&a.CreatedAt, &a.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PaymentAttempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.PaymentAttempt{}, err
	}
	return a, nil
}

// ResolveSuccess applies a success callback exactly once: the attempt is
// locked, already-terminal attempts short-circuit, and the attempt update,
// order confirmation and outbox event share one transaction.
func (r *Repository) ResolveSuccess(ctx context.Context, checkoutRequestID string, receipt application.Receipt, resolvedAt time.Time, eventType string, payload []byte, traceparent string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	a, err := r.scanAttempt(ctx, tx,
		`SELECT id, order_code, method, phone, amount_cents,
			COALESCE(checkout_request_id, ''), COALESCE(merchant_request_id, ''),
			reference, state, receipt_number, payer_phone, failure_reason,
			created_at, resolved_at
		 FROM payment_attempts WHERE checkout_request_id = $1 FOR UPDATE`, checkoutRequestID)
	if err != nil {
		return false, err
	}
	if a.State.Terminal() {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`UPDATE payment_attempts
		 SET state = $2, receipt_number = $3, payer_phone = $4, resolved_at = $5
		 WHERE id = $1`,
		a.ID, domain.AttemptSucceeded, receipt.ReceiptNumber, receipt.PayerPhone, resolvedAt)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE code = $1 AND status = $4`,
		a.OrderCode, domain.OrderConfirmed, resolvedAt, domain.OrderPending)
	if err != nil {
		return false, err
	}

	if err := insertOutbox(ctx, tx, a.OrderCode, eventType, payload, traceparent); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ResolveFailure resolves the attempt and leaves the order pending so the
// customer can retry with another method.
func (r *Repository) ResolveFailure(ctx context.Context, checkoutRequestID, reason string, resolvedAt time.Time, eventType string, payload []byte, traceparent string) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	a, err := r.scanAttempt(ctx, tx,
		`SELECT id, order_code, method, phone, amount_cents,
			COALESCE(checkout_request_id, ''), COALESCE(merchant_request_id, ''),
			reference, state, receipt_number, payer_phone, failure_reason,
			created_at, resolved_at
		 FROM payment_attempts WHERE checkout_request_id = $1 FOR UPDATE`, checkoutRequestID)
	if err != nil {
		return false, err
	}
	if a.State.Terminal() {
		return false, tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`UPDATE payment_attempts
		 SET state = $2, failure_reason = $3, resolved_at = $4
		 WHERE id = $1`,
		a.ID, domain.AttemptFailed, reason, resolvedAt)
	if err != nil {
		return false, err
	}

	if err := insertOutbox(ctx, tx, a.OrderCode, eventType, payload, traceparent); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, orderCode, eventType string, payload []byte, traceparent string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, status)
		 VALUES ('payment', $1, $2, $3, $4, 'pending')`,
		orderCode, eventType, payload, traceparent)
	return err
}

// ExpireStale times out every non-terminal attempt older than the cutoff.
// The state guard in the WHERE clause is what serializes the sweep against
// a concurrent callback: only one of them observes a non-terminal row.
func (r *Repository) ExpireStale(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx,
		`UPDATE payment_attempts
		 SET state = $1, resolved_at = now()
		 WHERE state IN ($2, $3) AND created_at < $4`,
		domain.AttemptTimedOut, domain.AttemptInitiated, domain.AttemptPendingConfirmation, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
