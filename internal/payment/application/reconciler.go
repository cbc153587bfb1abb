package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/palsapos/payments/internal/payment/domain"
	"github.com/palsapos/payments/pkg/clock"
	"github.com/palsapos/payments/pkg/metrics"
	"github.com/palsapos/payments/pkg/tracing"
)

const (
	EventPaymentConfirmed = "PaymentConfirmed"
	EventPaymentFailed    = "PaymentFailed"
)

// Callback is the parsed provider notification for one attempt.
type Callback struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	Receipt           Receipt
}

// MetadataItem is one name/value entry of the provider's callback
// metadata list.
type MetadataItem struct {
	Name  string
	Value any
}

// ReceiptFromMetadata extracts the known fields from callback metadata.
// Unknown names are ignored; the provider sends amounts in whole KES and
// phone numbers as JSON numbers.
func ReceiptFromMetadata(items []MetadataItem) Receipt {
	var r Receipt
	for _, item := range items {
		switch item.Name {
		case "Amount":
			if v, ok := asFloat(item.Value); ok {
				r.AmountCents = int64(math.Round(v * 100))
			}
		case "MpesaReceiptNumber":
			r.ReceiptNumber = asString(item.Value)
		case "TransactionDate":
			r.TransactionDate = asString(item.Value)
		case "PhoneNumber":
			r.PayerPhone = asString(item.Value)
		}
	}
	return r
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%.0f", s)
	case json.Number:
		return s.String()
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// Reconciler applies asynchronous provider callbacks to in-flight
// attempts exactly once.
type Reconciler struct {
	log     *slog.Logger
	repo    Repository
	dedupe  Deduper
	clock   clock.Clock
	metrics *metrics.Payments
}

func NewReconciler(log *slog.Logger, repo Repository, dedupe Deduper, clk clock.Clock, m *metrics.Payments) *Reconciler {
	return &Reconciler{
		log:     log,
		repo:    repo,
		dedupe:  dedupe,
		clock:   clk,
		metrics: m,
	}
}

// HandleCallback reconciles one callback delivery. Duplicate deliveries
// and callbacks for already-resolved attempts are no-ops; a callback for
// an unknown correlation id returns ErrAttemptNotFound, which the HTTP
// boundary still acknowledges to the provider.
func (r *Reconciler) HandleCallback(ctx context.Context, cb Callback) error {
	var dedupKey string
	if r.dedupe != nil {
		dedupKey = r.dedupe.CallbackKey(cb.CheckoutRequestID, cb.ResultCode)
		seen, err := r.dedupe.Seen(ctx, dedupKey)
		if err != nil {
			// Dedup is a fast path; the terminal-state check below
			// remains the authority.
			r.log.Error("callback dedup check failed", "key", dedupKey, "err", err)
		} else if seen {
			r.log.Info("duplicate callback delivery skipped",
				"checkout_request_id", cb.CheckoutRequestID)
			r.metrics.Callbacks.WithLabelValues("duplicate").Inc()
			return nil
		}
	}

	attempt, err := r.repo.GetAttemptByCheckoutID(ctx, cb.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, domain.ErrAttemptNotFound) {
			// Legitimate for late callbacks after a timeout sweep.
			r.log.Warn("callback for unknown attempt",
				"checkout_request_id", cb.CheckoutRequestID, "result_code", cb.ResultCode)
			r.metrics.Callbacks.WithLabelValues("orphaned").Inc()
		}
		return err
	}
	if attempt.State.Terminal() {
		r.log.Info("callback for resolved attempt ignored",
			"checkout_request_id", cb.CheckoutRequestID, "state", attempt.State)
		r.metrics.Callbacks.WithLabelValues("duplicate").Inc()
		r.markDelivered(ctx, dedupKey)
		return nil
	}

	now := r.clock.Now()
	traceparent := tracing.TraceparentFromContext(ctx)

	if cb.ResultCode == 0 {
		payload, err := json.Marshal(domain.PaymentConfirmed{
			OrderCode:     attempt.OrderCode,
			AttemptID:     attempt.ID,
			Method:        attempt.Method,
			AmountCents:   attempt.AmountCents,
			ReceiptNumber: cb.Receipt.ReceiptNumber,
			PayerPhone:    cb.Receipt.PayerPhone,
		})
		if err != nil {
			return err
		}

		applied, err := r.repo.ResolveSuccess(ctx, cb.CheckoutRequestID, cb.Receipt, now, EventPaymentConfirmed, payload, traceparent)
		if err != nil {
			return err
		}
		r.markDelivered(ctx, dedupKey)
		if !applied {
			r.metrics.Callbacks.WithLabelValues("duplicate").Inc()
			return nil
		}

		r.metrics.Succeeded.Inc()
		r.metrics.Callbacks.WithLabelValues("success").Inc()
		r.log.Info("payment confirmed",
			"order_code", attempt.OrderCode,
			"checkout_request_id", cb.CheckoutRequestID,
			"receipt_number", cb.Receipt.ReceiptNumber)
		return nil
	}

	reason := cb.ResultDesc
	if reason == "" {
		reason = fmt.Sprintf("provider result code %d", cb.ResultCode)
	}
	payload, err := json.Marshal(domain.PaymentFailed{
		OrderCode:   attempt.OrderCode,
		AttemptID:   attempt.ID,
		Method:      attempt.Method,
		AmountCents: attempt.AmountCents,
		Reason:      reason,
	})
	if err != nil {
		return err
	}

	applied, err := r.repo.ResolveFailure(ctx, cb.CheckoutRequestID, reason, now, EventPaymentFailed, payload, traceparent)
	if err != nil {
		return err
	}
	r.markDelivered(ctx, dedupKey)
	if !applied {
		r.metrics.Callbacks.WithLabelValues("duplicate").Inc()
		return nil
	}

	r.metrics.Failed.Inc()
	r.metrics.Callbacks.WithLabelValues("failure").Inc()
	r.log.Warn("payment failed",
		"order_code", attempt.OrderCode,
		"checkout_request_id", cb.CheckoutRequestID,
		"result_code", cb.ResultCode,
		"reason", reason)
	return nil
}

// markDelivered records the delivery marker once the database holds a
// terminal outcome for it. A delivery that failed before this point never
// gets marked, so the provider's retry is processed rather than dropped.
func (r *Reconciler) markDelivered(ctx context.Context, key string) {
	if r.dedupe == nil || key == "" {
		return
	}
	if err := r.dedupe.Mark(ctx, key); err != nil {
		r.log.Error("callback dedup mark failed", "key", key, "err", err)
	}
}
