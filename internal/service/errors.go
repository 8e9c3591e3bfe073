package service

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrNotStarted        = errors.New("order preparation not started")
	ErrUnknownStrategy   = errors.New("unknown estimation strategy")
)
