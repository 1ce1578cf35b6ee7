package inventory

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrHoldNotActive     = errors.New("hold is not active")
	ErrHoldExpired       = errors.New("hold expired")
)
