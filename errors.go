package settle

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("settle: no store configured")
	ErrStoreClosed = errors.New("settle: store closed")

	// Not found errors.
	ErrRunNotFound      = errors.New("settle: run not found")
	ErrSignalNotFound   = errors.New("settle: signal not found")
	ErrHoldNotFound     = errors.New("settle: hold not found")
	ErrOrderNotFound    = errors.New("settle: order not found")
	ErrTransferNotFound = errors.New("settle: transfer not found")
	ErrMarketNotFound   = errors.New("settle: market not found")
	ErrEntryNotFound    = errors.New("settle: entry not found")
	ErrNoMatch          = errors.New("settle: no run matches correlation id")

	// Conflict errors.
	ErrRunAlreadyExists = errors.New("settle: run already exists")

	// State errors.
	ErrInvalidState       = errors.New("settle: invalid state transition")
	ErrMaxAttemptsReached = errors.New("settle: max attempts reached")

	// Ledger and market errors.
	ErrInsufficientFunds = errors.New("settle: insufficient available balance")
	ErrHoldReleased      = errors.New("settle: hold already released")
	ErrMarketSettled     = errors.New("settle: market already settled")
)
