package domain

import "errors"

// Every registry operation fails as a whole with exactly one of these.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrPaused       = errors.New("registry paused")

	// mint
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrPriceTooLow      = errors.New("price below minimum")
	ErrEventInPast      = errors.New("event date in the past")
	ErrMintCapExceeded  = errors.New("mint cap exceeded")

	// list
	ErrNotOwner             = errors.New("caller is not the owner")
	ErrAlreadyUsed          = errors.New("ticket already used")
	ErrEventAlreadyOccurred = errors.New("event already occurred")
	ErrCooldownActive       = errors.New("resale cooldown active")
	ErrPriceExceedsCap      = errors.New("price exceeds resale cap")

	// buy
	ErrNotListed         = errors.New("ticket not listed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSelfPurchase      = errors.New("seller cannot buy own listing")
	ErrRateLimitExceeded = errors.New("buy rate limit exceeded")
	ErrTransferFailed    = errors.New("fund transfer failed")

	// validate
	ErrAlreadyScanned = errors.New("ticket already scanned")

	ErrTicketNotFound = errors.New("ticket not found")
	ErrInvalidRoyalty = errors.New("royalty exceeds maximum")
	ErrReentrancy     = errors.New("registry busy")
)
