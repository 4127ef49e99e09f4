package state

import "errors"

// Terminal instruction errors. The processor performs no local recovery:
// any of these aborts the whole instruction and discards its state changes.
var (
	ErrAlreadyInitialized = errors.New("account already initialized")
	ErrNotInitialized     = errors.New("account not initialized")
	ErrInvalidParameter   = errors.New("invalid parameter")
	ErrUnauthorized       = errors.New("account not authorized")
	ErrNotFound           = errors.New("order not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)
