package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/palsapos/payments/internal/payment/domain"
)

// Receipt is the audit record extracted from a successful provider
// callback.
type Receipt struct {
	ReceiptNumber   string
	PayerPhone      string
	AmountCents     int64
	TransactionDate string
}

// Repository persists orders and payment attempts. Each mutating method is
// one transaction; CreateAttempt and the Resolve methods take row locks so
// concurrent initiations and replayed callbacks serialize in the database.
type Repository interface {
	GetOrder(ctx context.Context, code string) (domain.Order, error)

	// CreateAttempt locks the order row, re-checks it is payable and
	// inserts the attempt. A second non-terminal attempt for the same
	// order fails with ErrDuplicatePaymentInProgress.
	CreateAttempt(ctx context.Context, a domain.PaymentAttempt) error

	// MarkAttemptPending moves initiated -> pending_confirmation once the
	// gateway has assigned correlation identifiers.
	MarkAttemptPending(ctx context.Context, attemptID string, corr domain.Correlation) error

	// MarkAttemptFailed resolves an attempt that never reached the
	// provider (gateway rejection at initiation).
	MarkAttemptFailed(ctx context.Context, attemptID, reason string, resolvedAt time.Time) error

	GetAttemptByCheckoutID(ctx context.Context, checkoutRequestID string) (domain.PaymentAttempt, error)

	// ResolveSuccess transitions attempt -> succeeded and order ->
	// confirmed, writing the outbox event in the same transaction.
	// Returns false without error when the attempt is already terminal.
	ResolveSuccess(ctx context.Context, checkoutRequestID string, receipt Receipt, resolvedAt time.Time, eventType string, payload []byte, traceparent string) (bool, error)

	// ResolveFailure transitions attempt -> failed; the order stays
	// pending and becomes eligible for another attempt.
	ResolveFailure(ctx context.Context, checkoutRequestID, reason string, resolvedAt time.Time, eventType string, payload []byte, traceparent string) (bool, error)

	// ExpireStale times out non-terminal attempts created before the
	// cutoff and returns how many rows it touched.
	ExpireStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Gateway is the mobile-money provider client.
type Gateway interface {
	Authenticate(ctx context.Context) (string, error)
	STKPush(ctx context.Context, orderCode string, amountKES int64, phone string) (domain.Correlation, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (json.RawMessage, error)
}

// Deduper drops replayed callback deliveries before they hit the database.
// Seen is a read-only membership check; callers Mark a delivery only after
// its transaction commits, so a transiently failed delivery stays retryable.
type Deduper interface {
	CallbackKey(checkoutRequestID string, resultCode int) string
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}
