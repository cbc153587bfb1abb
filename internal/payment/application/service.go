package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/palsapos/payments/internal/msisdn"
	"github.com/palsapos/payments/internal/payment/domain"
	"github.com/palsapos/payments/pkg/clock"
	"github.com/palsapos/payments/pkg/metrics"
)

// Service orchestrates payment initiation: it validates the order and
// method, persists the attempt under the per-order uniqueness guard and
// dispatches to the method handler.
type Service struct {
	log      *slog.Logger
	repo     Repository
	gateway  Gateway
	registry *domain.Registry
	clock    clock.Clock
	metrics  *metrics.Payments
}

func NewService(log *slog.Logger, repo Repository, gateway Gateway, registry *domain.Registry, clk clock.Clock, m *metrics.Payments) *Service {
	return &Service{
		log:      log,
		repo:     repo,
		gateway:  gateway,
		registry: registry,
		clock:    clk,
		metrics:  m,
	}
}

type InitiateInput struct {
	OrderCode string
	Method    domain.Method
	Phone     string
	BankCode  string
}

type InitiateResult struct {
	AttemptID         string
	OrderCode         string
	Method            domain.Method
	MethodName        string
	State             domain.AttemptState
	Message           string
	Instructions      string
	Reference         string
	CheckoutRequestID string
	AmountCents       int64
	FeeCents          int64
	TotalCents        int64
	BankDetails       *BankDetails
}

// InitiatePayment runs the validation chain from order lookup to phone
// classification, then creates the attempt and dispatches it. The
// repository closes the race between concurrent initiations; exactly one
// caller gets past CreateAttempt for a given order.
func (s *Service) InitiatePayment(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	order, err := s.repo.GetOrder(ctx, in.OrderCode)
	if err != nil {
		return InitiateResult{}, err
	}
	if !order.Payable() {
		return InitiateResult{}, domain.ErrOrderNotPayable
	}

	desc, err := s.registry.Get(in.Method)
	if err != nil {
		return InitiateResult{}, err
	}
	if err := s.registry.ValidateAmount(in.Method, order.TotalCents); err != nil {
		return InitiateResult{}, err
	}

	var phone string
	if in.Method.MobileMoney() {
		// The provider charges whole shillings only; truncating here would
		// collect less than the order total.
		if order.TotalCents%100 != 0 {
			return InitiateResult{}, domain.ErrAmountOutOfRange
		}
		phone = msisdn.Normalize(in.Phone)
		if !msisdn.Matches(phone, desc.Network) {
			return InitiateResult{}, domain.ErrInvalidPhoneNumber
		}
	}

	now := s.clock.Now()
	attempt := domain.PaymentAttempt{
		ID:          uuid.NewString(),
		OrderCode:   order.Code,
		Method:      in.Method,
		Phone:       phone,
		AmountCents: order.TotalCents,
		Reference:   s.reference(in.Method, order.Code),
		State:       domain.AttemptInitiated,
		CreatedAt:   now,
	}
	if err := s.repo.CreateAttempt(ctx, attempt); err != nil {
		return InitiateResult{}, err
	}
	s.metrics.Initiated.WithLabelValues(string(in.Method)).Inc()

	fee := desc.Fee(order.TotalCents)
	result := InitiateResult{
		AttemptID:   attempt.ID,
		OrderCode:   order.Code,
		Method:      in.Method,
		MethodName:  desc.Name,
		State:       attempt.State,
		Reference:   attempt.Reference,
		AmountCents: order.TotalCents,
		FeeCents:    fee,
		TotalCents:  order.TotalCents + fee,
	}

	switch in.Method {
	case domain.MethodMpesa:
		return s.dispatchMpesa(ctx, attempt, result)
	case domain.MethodAirtelMoney, domain.MethodTkash, domain.MethodEquitel:
		return s.dispatchSimulatedPush(ctx, attempt, desc, result)
	case domain.MethodBankTransfer:
		details := bankDetailsFor(in.BankCode)
		result.BankDetails = &details
		result.Message = "Bank transfer details provided. Please complete payment."
		result.Instructions = "Transfer the amount to the provided account and upload payment slip"
		return result, nil
	case domain.MethodCash:
		result.Message = "Cash payment selected. Please pay at collection."
		result.Instructions = "Pay cash when collecting your order"
		return result, nil
	case domain.MethodCard:
		result.Message = "Card payment gateway will open shortly."
		result.Instructions = "You will be redirected to secure payment gateway"
		return result, nil
	}
	return result, nil
}

// dispatchMpesa pushes through the gateway and records the correlation
// identifiers. A gateway failure resolves the attempt immediately so the
// order can be retried, and the error is surfaced for generic reporting.
func (s *Service) dispatchMpesa(ctx context.Context, attempt domain.PaymentAttempt, result InitiateResult) (InitiateResult, error) {
	// Exact by the whole-shilling check in InitiatePayment.
	amountKES := attempt.AmountCents / 100

	corr, err := s.gateway.STKPush(ctx, attempt.OrderCode, amountKES, attempt.Phone)
	if err != nil {
		s.log.Error("stk push failed",
			"order_code", attempt.OrderCode, "method", attempt.Method, "err", err)
		if markErr := s.repo.MarkAttemptFailed(ctx, attempt.ID, err.Error(), s.clock.Now()); markErr != nil {
			s.log.Error("mark attempt failed error", "attempt_id", attempt.ID, "err", markErr)
		}
		s.metrics.Failed.Inc()
		return InitiateResult{}, err
	}

	if err := s.repo.MarkAttemptPending(ctx, attempt.ID, corr); err != nil {
		return InitiateResult{}, err
	}

	result.State = domain.AttemptPendingConfirmation
	result.CheckoutRequestID = corr.CheckoutRequestID
	result.Reference = corr.CheckoutRequestID
	result.Message = "Payment request sent to your phone. Please enter your M-Pesa PIN."
	s.log.Info("stk push accepted",
		"order_code", attempt.OrderCode, "checkout_request_id", corr.CheckoutRequestID)
	return result, nil
}

// dispatchSimulatedPush covers the networks without a live gateway
// integration yet: the attempt waits for out-of-band confirmation under a
// locally generated reference.
func (s *Service) dispatchSimulatedPush(ctx context.Context, attempt domain.PaymentAttempt, desc domain.MethodDescriptor, result InitiateResult) (InitiateResult, error) {
	if err := s.repo.MarkAttemptPending(ctx, attempt.ID, domain.Correlation{}); err != nil {
		return InitiateResult{}, err
	}
	result.State = domain.AttemptPendingConfirmation
	result.Message = fmt.Sprintf("%s payment request sent. Please check your phone.", desc.Name)

	switch attempt.Method {
	case domain.MethodAirtelMoney:
		result.Instructions = "Dial *185# or check your Airtel Money app to complete payment"
	case domain.MethodTkash:
		result.Instructions = "Dial *460# to complete your T-Kash payment"
	case domain.MethodEquitel:
		result.Instructions = "Check your Equitel SIM toolkit or dial *247# to complete payment"
	}

	s.log.Info("payment initiated",
		"order_code", attempt.OrderCode, "method", attempt.Method, "reference", attempt.Reference)
	return result, nil
}

func (s *Service) reference(method domain.Method, orderCode string) string {
	ts := s.clock.Now().Unix()
	switch method {
	case domain.MethodAirtelMoney:
		return fmt.Sprintf("AM-%d", ts)
	case domain.MethodTkash:
		return fmt.Sprintf("TK-%d", ts)
	case domain.MethodEquitel:
		return fmt.Sprintf("EQ-%d", ts)
	case domain.MethodBankTransfer:
		return "BT-" + orderCode
	case domain.MethodCash:
		return "CASH-" + orderCode
	case domain.MethodCard:
		return fmt.Sprintf("CARD-%d", ts)
	}
	return ""
}

// QueryStatus is a read-only passthrough to the gateway; authoritative
// state changes arrive only via the callback path.
func (s *Service) QueryStatus(ctx context.Context, checkoutRequestID string) (json.RawMessage, error) {
	return s.gateway.QueryStatus(ctx, checkoutRequestID)
}

// Methods returns the catalog in stable order.
func (s *Service) Methods() []domain.MethodDescriptor {
	return s.registry.Methods()
}

// ValidatePhone normalizes a raw number and checks it against the
// method's network table.
func (s *Service) ValidatePhone(method domain.Method, raw string) (string, msisdn.Network, error) {
	desc, err := s.registry.Get(method)
	if err != nil {
		return "", "", err
	}
	if !method.MobileMoney() {
		return "", "", domain.ErrUnknownPaymentMethod
	}

	phone := msisdn.Normalize(raw)
	if !msisdn.Matches(phone, desc.Network) {
		return phone, "", domain.ErrInvalidPhoneNumber
	}

	network, _ := msisdn.Classify(phone)
	return phone, network, nil
}

// ProbeGateway checks the credentials with a live token exchange. Used by
// the configuration test endpoint.
func (s *Service) ProbeGateway(ctx context.Context) error {
	_, err := s.gateway.Authenticate(ctx)
	return err
}
