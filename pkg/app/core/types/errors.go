package types

import "errors"

// Error taxonomy. Callers classify failures with errors.Is; everything
// else wraps one of these with fmt.Errorf("...: %w", ...).
var (
	// ErrValidation marks malformed input rejected before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientBalance is a business rejection: the account's
	// available funds cannot cover the request. No state change.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientCollateral is a business rejection: locked
	// collateral does not cover outstanding requirements. No state change.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrNotFound marks an unknown market, order, or option.
	ErrNotFound = errors.New("not found")

	// ErrState marks a storage failure. Fatal to the current block: all
	// block-local mutations roll back.
	ErrState = errors.New("state error")
)
