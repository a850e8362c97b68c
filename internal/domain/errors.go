package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrFeeMismatch       = errors.New("paid amount does not match listing fee")
	ErrPriceMismatch     = errors.New("paid amount does not match asking price")
	ErrUnauthorized      = errors.New("signature authorization failed")
	ErrNotSeller         = errors.New("caller is not the listing seller")
	ErrListingClosed     = errors.New("listing already sold or canceled")
	ErrReentrantCall     = errors.New("reentrant ledger call")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotTokenHolder    = errors.New("sender does not hold the token")
	ErrLockHeld          = errors.New("lock already held")
)
