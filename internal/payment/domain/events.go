package domain

// Events published through the outbox for the notification consumers.

type PaymentConfirmed struct {
	OrderCode     string `json:"order_code"`
	AttemptID     string `json:"attempt_id"`
	Method        Method `json:"method"`
	AmountCents   int64  `json:"amount_cents"`
	ReceiptNumber string `json:"receipt_number"`
	PayerPhone    string `json:"payer_phone"`
}

type PaymentFailed struct {
	OrderCode   string `json:"order_code"`
	AttemptID   string `json:"attempt_id"`
	Method      Method `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}
