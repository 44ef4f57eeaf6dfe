package errs

import "errors"

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound  = errors.New("not_found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
	ErrInvalid   = errors.New("invalid")
	// ErrUnprocessable is used for semantic validation failures (HTTP 422)
	ErrUnprocessable = errors.New("unprocessable")
	// ErrAlreadyLinked indicates a transaction already belongs to a link group
	ErrAlreadyLinked = errors.New("already_linked")
	// ErrMixedCurrency indicates group members would not share a currency
	ErrMixedCurrency = errors.New("mixed_currency")
)
