package billing

import "errors"

var (
	// ErrValidation covers operator input problems: reading order, missing
	// fields, duplicate bill for a customer/month. Nothing is written when it
	// is returned.
	ErrValidation = errors.New("billing: validation failed")

	// ErrRateNotFound means the customer type has no configured rates.
	// Callers that compute previews treat this as "no pricing available" and
	// fall back to zero rates instead of failing the form.
	ErrRateNotFound = errors.New("billing: no rates configured for customer type")

	// ErrConcurrency means a settlement lost a race on the customer's credit
	// balance. The caller should reload the bills and retry the settlement.
	ErrConcurrency = errors.New("billing: concurrent settlement detected, retry with fresh data")
)
