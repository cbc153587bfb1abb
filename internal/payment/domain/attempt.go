package domain

import "time"

type AttemptState string

const (
	AttemptInitiated           AttemptState = "initiated"
	AttemptPendingConfirmation AttemptState = "pending_confirmation"
	AttemptSucceeded           AttemptState = "succeeded"
	AttemptFailed              AttemptState = "failed"
	AttemptTimedOut            AttemptState = "timed_out"
)

func (s AttemptState) Terminal() bool {
	switch s {
	case AttemptSucceeded, AttemptFailed, AttemptTimedOut:
		return true
	}
	return false
}

// Correlation is the identifier pair assigned by the gateway at
// initiation; the checkout request id keys the asynchronous callback.
type Correlation struct {
	CheckoutRequestID string
	MerchantRequestID string
}

// PaymentAttempt is one outbound push-payment request. Attempts are never
// deleted; a resolved attempt keeps its provider receipt for reconciliation.
type PaymentAttempt struct {
	ID                string
	OrderCode         string
	Method            Method
	Phone             string
	AmountCents       int64
	CheckoutRequestID string
	MerchantRequestID string
	Reference         string
	State             AttemptState
	ReceiptNumber     string
	PayerPhone        string
	FailureReason     string
	CreatedAt         time.Time
	ResolvedAt        *time.Time
}
