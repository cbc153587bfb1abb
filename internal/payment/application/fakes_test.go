package application

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/palsapos/payments/internal/payment/domain"
	"github.com/palsapos/payments/pkg/metrics"
)

func newTestMetrics() *metrics.Payments {
	return metrics.NewPayments(prometheus.NewRegistry())
}

type outboxRecord struct {
	Type    string
	Payload []byte
}

// fakeRepo mirrors the postgres repository's locking semantics with a
// single mutex: one non-terminal attempt per order, terminal states final.
type fakeRepo struct {
	mu         sync.Mutex
	orders     map[string]domain.Order
	attempts   map[string]domain.PaymentAttempt
	byCheckout map[string]string
	events     []outboxRecord
}

func newFakeRepo(orders ...domain.Order) *fakeRepo {
	r := &fakeRepo{
		orders:     make(map[string]domain.Order),
		attempts:   make(map[string]domain.PaymentAttempt),
		byCheckout: make(map[string]string),
	}
	for _, o := range orders {
		r.orders[o.Code] = o
	}
	return r
}

func (r *fakeRepo) GetOrder(_ context.Context, code string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[code]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (r *fakeRepo) CreateAttempt(_ context.Context, a domain.PaymentAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[a.OrderCode]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if !o.Payable() {
		return domain.ErrOrderNotPayable
	}
	for _, existing := range r.attempts {
		if existing.OrderCode == a.OrderCode && !existing.State.Terminal() {
			return domain.ErrDuplicatePaymentInProgress
		}
	}
	r.attempts[a.ID] = a
	return nil
}

func (r *fakeRepo) MarkAttemptPending(_ context.Context, attemptID string, corr domain.Correlation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	a.State = domain.AttemptPendingConfirmation
	a.CheckoutRequestID = corr.CheckoutRequestID
	a.MerchantRequestID = corr.MerchantRequestID
	r.attempts[attemptID] = a
	if corr.CheckoutRequestID != "" {
		r.byCheckout[corr.CheckoutRequestID] = attemptID
	}
	return nil
}

func (r *fakeRepo) MarkAttemptFailed(_ context.Context, attemptID, reason string, resolvedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[attemptID]
	if !ok {
		return domain.ErrAttemptNotFound
	}
	a.State = domain.AttemptFailed
	a.FailureReason = reason
	a.ResolvedAt = &resolvedAt
	r.attempts[attemptID] = a
	return nil
}

func (r *fakeRepo) GetAttemptByCheckoutID(_ context.Context, checkoutRequestID string) (domain.PaymentAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCheckout[checkoutRequestID]
	if !ok {
		return domain.PaymentAttempt{}, domain.ErrAttemptNotFound
	}
	return r.attempts[id], nil
}

func (r *fakeRepo) ResolveSuccess(_ context.Context, checkoutRequestID string, receipt Receipt, resolvedAt time.Time, eventType string, payload []byte, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCheckout[checkoutRequestID]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	a := r.attempts[id]
	if a.State.Terminal() {
		return false, nil
	}

	a.State = domain.AttemptSucceeded
	a.ReceiptNumber = receipt.ReceiptNumber
	a.PayerPhone = receipt.PayerPhone
	a.ResolvedAt = &resolvedAt
	r.attempts[id] = a

	o := r.orders[a.OrderCode]
	if o.Status == domain.OrderPending {
		o.Status = domain.OrderConfirmed
		r.orders[a.OrderCode] = o
	}

	r.events = append(r.events, outboxRecord{Type: eventType, Payload: payload})
	return true, nil
}

func (r *fakeRepo) ResolveFailure(_ context.Context, checkoutRequestID, reason string, resolvedAt time.Time, eventType string, payload []byte, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byCheckout[checkoutRequestID]
	if !ok {
		return false, domain.ErrAttemptNotFound
	}
	a := r.attempts[id]
	if a.State.Terminal() {
		return false, nil
	}

	a.State = domain.AttemptFailed
	a.FailureReason = reason
	a.ResolvedAt = &resolvedAt
	r.attempts[id] = a

	r.events = append(r.events, outboxRecord{Type: eventType, Payload: payload})
	return true, nil
}

func (r *fakeRepo) ExpireStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, a := range r.attempts {
		if !a.State.Terminal() && a.CreatedAt.Before(cutoff) {
			now := cutoff
			a.State = domain.AttemptTimedOut
			a.ResolvedAt = &now
			r.attempts[id] = a
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) attemptsForOrder(code string) []domain.PaymentAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.PaymentAttempt
	for _, a := range r.attempts {
		if a.OrderCode == code {
			out = append(out, a)
		}
	}
	return out
}

func (r *fakeRepo) order(code string) domain.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orders[code]
}

func (r *fakeRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeGateway struct {
	mu       sync.Mutex
	corr     domain.Correlation
	pushErr  error
	snapshot json.RawMessage
	queryErr error
	authErr  error
	pushes   int
}

func (g *fakeGateway) Authenticate(context.Context) (string, error) {
	if g.authErr != nil {
		return "", g.authErr
	}
	return "tok", nil
}

func (g *fakeGateway) STKPush(_ context.Context, _ string, _ int64, _ string) (domain.Correlation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes++
	if g.pushErr != nil {
		return domain.Correlation{}, g.pushErr
	}
	return g.corr, nil
}

func (g *fakeGateway) QueryStatus(context.Context, string) (json.RawMessage, error) {
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return g.snapshot, nil
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (d *fakeDeduper) CallbackKey(checkoutRequestID string, resultCode int) string {
	return checkoutRequestID + ":" + string(rune('0'+resultCode%10))
}

func (d *fakeDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key], nil
}

func (d *fakeDeduper) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = true
	return nil
}
