package domain

import "errors"

var (
	ErrOrderNotFound              = errors.New("order not found")
	ErrOrderNotPayable            = errors.New("order is not payable")
	ErrUnknownPaymentMethod       = errors.New("unknown payment method")
	ErrAmountOutOfRange           = errors.New("amount out of range for payment method")
	ErrInvalidPhoneNumber         = errors.New("invalid phone number for payment method")
	ErrDuplicatePaymentInProgress = errors.New("another payment is already in progress for this order")
	ErrAttemptNotFound            = errors.New("payment attempt not found")
	ErrAttemptTerminal            = errors.New("payment attempt already resolved")
)
