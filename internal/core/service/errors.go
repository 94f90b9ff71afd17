package service

import "errors"

var (
	ErrInvalidTable        = errors.New("invalid table number")
	ErrInvalidDelta        = errors.New("quantity delta must be positive")
	ErrNegativeQuantity    = errors.New("quantity must not be negative")
	ErrCreationFailed      = errors.New("order creation failed")
	ErrNoActiveOrder       = errors.New("no active order")
	ErrOrderClosed         = errors.New("order is no longer pending")
	ErrPaymentWindowClosed = errors.New("payment window has closed")
	ErrPaymentFailed       = errors.New("payment confirmation failed")
	ErrCancelRejected      = errors.New("cancellation rejected")
	ErrCancelNotConfirmed  = errors.New("cancellation not confirmed")
	ErrQRUnavailable       = errors.New("qr code not available")
	ErrBusy                = errors.New("another action is in progress")
)
