package domain

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderRejected  OrderStatus = "rejected"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is owned by the store; payments only read it and move it
// pending -> confirmed on a successful attempt.
type Order struct {
	Code       string
	Customer   string
	TotalCents int64
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (o Order) Payable() bool {
	return o.Status == OrderPending
}
