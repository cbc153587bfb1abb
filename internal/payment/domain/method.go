package domain

import (
	"github.com/shopspring/decimal"

	"github.com/palsapos/payments/internal/msisdn"
)

type Method string

const (
	MethodMpesa        Method = "mpesa"
	MethodAirtelMoney  Method = "airtel_money"
	MethodTkash        Method = "tkash"
	MethodEquitel      Method = "equitel"
	MethodBankTransfer Method = "bank_transfer"
	MethodCash         Method = "cash"
	MethodCard         Method = "card"
)

// MobileMoney reports whether the method needs a payee MSISDN.
func (m Method) MobileMoney() bool {
	switch m {
	case MethodMpesa, MethodAirtelMoney, MethodTkash, MethodEquitel:
		return true
	}
	return false
}

// MethodDescriptor is static per-method configuration: display data,
// transaction limits in cents and the merchant fee percentage.
type MethodDescriptor struct {
	Code        Method         `json:"code"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Network     msisdn.Network `json:"network"`
	USSD        string         `json:"ussd"`
	FeePercent  float64        `json:"fee_percentage"`
	MinCents    int64          `json:"min_amount_cents"`
	MaxCents    int64          `json:"max_amount_cents"`
}

// Registry holds the method catalog. Built once at startup, read-only after.
type Registry struct {
	methods []MethodDescriptor
	byCode  map[Method]MethodDescriptor
}

func NewRegistry() *Registry {
	methods := []MethodDescriptor{
		{
			Code:        MethodMpesa,
			Name:        "M-Pesa",
			Description: "Pay using Safaricom M-Pesa",
			Network:     msisdn.Safaricom,
			USSD:        "*334#",
			MinCents:    100,
			MaxCents:    30_000_000,
		},
		{
			Code:        MethodAirtelMoney,
			Name:        "Airtel Money",
			Description: "Pay using Airtel Money",
			Network:     msisdn.Airtel,
			USSD:        "*185#",
			MinCents:    100,
			MaxCents:    15_000_000,
		},
		{
			Code:        MethodTkash,
			Name:        "T-Kash",
			Description: "Pay using Telkom T-Kash",
			Network:     msisdn.Telkom,
			USSD:        "*460#",
			MinCents:    100,
			MaxCents:    10_000_000,
		},
		{
			Code:        MethodEquitel,
			Name:        "Equitel",
			Description: "Pay using Equity Bank Equitel",
			Network:     msisdn.Equitel,
			USSD:        "*247#",
			MinCents:    100,
			MaxCents:    20_000_000,
		},
		{
			Code:        MethodBankTransfer,
			Name:        "Bank Transfer",
			Description: "Direct bank transfer or mobile banking",
			USSD:        "Various",
			MinCents:    100,
			MaxCents:    1_000_000_000,
		},
		{
			Code:        MethodCash,
			Name:        "Cash Payment",
			Description: "Pay cash on delivery/collection",
			USSD:        "N/A",
			MinCents:    100,
			MaxCents:    100_000_000,
		},
		{
			Code:        MethodCard,
			Name:        "Debit/Credit Card",
			Description: "Pay using Visa or Mastercard",
			USSD:        "N/A",
			FeePercent:  2.5,
			MinCents:    100,
			MaxCents:    500_000_000,
		},
	}

	byCode := make(map[Method]MethodDescriptor, len(methods))
	for _, m := range methods {
		byCode[m.Code] = m
	}
	return &Registry{methods: methods, byCode: byCode}
}

// Methods returns descriptors in declaration order, stable for UI listings.
func (r *Registry) Methods() []MethodDescriptor {
	out := make([]MethodDescriptor, len(r.methods))
	copy(out, r.methods)
	return out
}

func (r *Registry) Get(code Method) (MethodDescriptor, error) {
	m, ok := r.byCode[code]
	if !ok {
		return MethodDescriptor{}, ErrUnknownPaymentMethod
	}
	return m, nil
}

// Fee returns the merchant fee in cents, rounded to the nearest cent.
// Mobile money carries no merchant fee; only cards do.
func (m MethodDescriptor) Fee(amountCents int64) int64 {
	if m.FeePercent == 0 {
		return 0
	}
	fee := decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromFloat(m.FeePercent)).
		Div(decimal.NewFromInt(100)).
		Round(0)
	return fee.IntPart()
}

func (r *Registry) Fee(code Method, amountCents int64) (int64, error) {
	m, ok := r.byCode[code]
	if !ok {
		return 0, ErrUnknownPaymentMethod
	}
	return m.Fee(amountCents), nil
}

func (r *Registry) ValidateAmount(code Method, amountCents int64) error {
	m, ok := r.byCode[code]
	if !ok {
		return ErrUnknownPaymentMethod
	}
	if amountCents < m.MinCents || amountCents > m.MaxCents {
		return ErrAmountOutOfRange
	}
	return nil
}
