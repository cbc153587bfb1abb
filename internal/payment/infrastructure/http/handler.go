package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/palsapos/payments/internal/payment/application"
	"github.com/palsapos/payments/internal/payment/domain"
)

type Handler struct {
	log        *slog.Logger
	service    *application.Service
	reconciler *application.Reconciler
	// missingConfig lists unset gateway settings, reported by the
	// configuration test endpoint.
	missingConfig []string
	tracer        trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, reconciler *application.Reconciler, missingConfig []string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		reconciler:    reconciler,
		missingConfig: missingConfig,
		tracer:        otel.Tracer("payment-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/methods", h.listMethods)
	r.Post("/{method}/initiate", h.initiate)
	r.Post("/validate-phone", h.validatePhone)
	r.Post("/mpesa/check-status", h.checkStatus)
	r.Post("/mpesa/callback", h.callback)
	r.Post("/mpesa/timeout", h.timeout)
	r.Get("/mpesa/test-config", h.testConfig)

	return r
}

type initiateReq struct {
	OrderCode   string `json:"order_code"`
	PhoneNumber string `json:"phone_number"`
	BankCode    string `json:"bank_code"`
}

type initiateResp struct {
	Success           bool                     `json:"success"`
	Message           string                   `json:"message"`
	AttemptID         string                   `json:"attempt_id,omitempty"`
	OrderCode         string                   `json:"order_code,omitempty"`
	Method            domain.Method            `json:"method,omitempty"`
	State             domain.AttemptState      `json:"state,omitempty"`
	Reference         string                   `json:"reference,omitempty"`
	CheckoutRequestID string                   `json:"checkout_request_id,omitempty"`
	Instructions      string                   `json:"instructions,omitempty"`
	AmountCents       int64                    `json:"amount_cents,omitempty"`
	FeeCents          int64                    `json:"fee_cents,omitempty"`
	TotalCents        int64                    `json:"total_cents,omitempty"`
	BankDetails       *application.BankDetails `json:"bank_details,omitempty"`
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "InitiatePayment")
	defer span.End()

	var req initiateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	res, err := h.service.InitiatePayment(ctx, application.InitiateInput{
		OrderCode: req.OrderCode,
		Method:    domain.Method(chi.URLParam(r, "method")),
		Phone:     req.PhoneNumber,
		BankCode:  req.BankCode,
	})
	if err != nil {
		h.writeInitiateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, initiateResp{
		Success:           true,
		Message:           res.Message,
		AttemptID:         res.AttemptID,
		OrderCode:         res.OrderCode,
		Method:            res.Method,
		State:             res.State,
		Reference:         res.Reference,
		CheckoutRequestID: res.CheckoutRequestID,
		Instructions:      res.Instructions,
		AmountCents:       res.AmountCents,
		FeeCents:          res.FeeCents,
		TotalCents:        res.TotalCents,
		BankDetails:       res.BankDetails,
	})
}

// writeInitiateError maps the validation taxonomy to client-facing status
// codes. Gateway faults come out as 502 with a generic message; provider
// detail stays in the logs.
func (h *Handler) writeInitiateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrOrderNotPayable):
		writeError(w, http.StatusConflict, "order is not payable")
	case errors.Is(err, domain.ErrDuplicatePaymentInProgress):
		writeError(w, http.StatusConflict, "a payment for this order is already in progress")
	case errors.Is(err, domain.ErrUnknownPaymentMethod):
		writeError(w, http.StatusBadRequest, "unknown payment method")
	case errors.Is(err, domain.ErrAmountOutOfRange):
		writeError(w, http.StatusBadRequest, "amount outside method limits")
	case errors.Is(err, domain.ErrInvalidPhoneNumber):
		writeError(w, http.StatusBadRequest, "invalid phone number for this payment method")
	default:
		writeError(w, http.StatusBadGateway, "payment service temporarily unavailable")
	}
}

func (h *Handler) listMethods(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"currency": "KES",
		"methods":  h.service.Methods(),
	})
}

type validatePhoneReq struct {
	Method      domain.Method `json:"method"`
	PhoneNumber string        `json:"phone_number"`
}

func (h *Handler) validatePhone(w http.ResponseWriter, r *http.Request) {
	var req validatePhoneReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	phone, network, err := h.service.ValidatePhone(req.Method, req.PhoneNumber)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownPaymentMethod):
			writeError(w, http.StatusBadRequest, "unknown payment method")
		case errors.Is(err, domain.ErrInvalidPhoneNumber):
			writeJSON(w, http.StatusOK, map[string]any{
				"valid":        false,
				"phone_number": phone,
				"message":      "phone number does not match the method's network",
			})
		default:
			writeError(w, http.StatusBadGateway, "payment service temporarily unavailable")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":        true,
		"phone_number": phone,
		"network":      network,
	})
}

type checkStatusReq struct {
	CheckoutRequestID string `json:"checkout_request_id"`
}

func (h *Handler) checkStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CheckStatus")
	defer span.End()

	var req checkStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CheckoutRequestID == "" {
		writeError(w, http.StatusBadRequest, "checkout_request_id is required")
		return
	}

	snapshot, err := h.service.QueryStatus(ctx, req.CheckoutRequestID)
	if err != nil {
		h.log.Error("status query failed", "checkout_request_id", req.CheckoutRequestID, "err", err)
		writeError(w, http.StatusBadGateway, "payment service temporarily unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(snapshot)
}

// darajaCallback is the provider's nested callback envelope.
type darajaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// callback ingests the provider's asynchronous result. The ack body only
// tells the provider the callback was received; business failures are still
// acked so the provider does not retry forever.
func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PaymentCallback")
	defer span.End()

	var env darajaCallback
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		h.log.Warn("unparseable callback", "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 1, "ResultDesc": "Failed"})
		return
	}

	sc := env.Body.StkCallback
	items := make([]application.MetadataItem, 0, len(sc.CallbackMetadata.Item))
	for _, it := range sc.CallbackMetadata.Item {
		items = append(items, application.MetadataItem{Name: it.Name, Value: it.Value})
	}

	err := h.reconciler.HandleCallback(ctx, application.Callback{
		CheckoutRequestID: sc.CheckoutRequestID,
		MerchantRequestID: sc.MerchantRequestID,
		ResultCode:        sc.ResultCode,
		ResultDesc:        sc.ResultDesc,
		Receipt:           application.ReceiptFromMetadata(items),
	})
	if err != nil && !errors.Is(err, domain.ErrAttemptNotFound) {
		h.log.Error("callback processing failed", "checkout_request_id", sc.CheckoutRequestID, "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 1, "ResultDesc": "Failed"})
		return
	}
	if errors.Is(err, domain.ErrAttemptNotFound) {
		h.log.Warn("callback for unknown attempt", "checkout_request_id", sc.CheckoutRequestID)
	}

	writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Success"})
}

// timeout is the provider's queue-timeout fallback. It carries no result
// for the attempt; the sweep resolves stale attempts on its own schedule.
func (h *Handler) timeout(w http.ResponseWriter, r *http.Request) {
	h.log.Warn("provider timeout notification received")
	writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Success"})
}

func (h *Handler) testConfig(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "TestGatewayConfig")
	defer span.End()

	if len(h.missingConfig) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"configured": false,
			"missing":    h.missingConfig,
		})
		return
	}

	if err := h.service.ProbeGateway(ctx); err != nil {
		h.log.Error("gateway probe failed", "err", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"configured": true,
			"reachable":  false,
			"message":    "credential check against the gateway failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"reachable":  true,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}
