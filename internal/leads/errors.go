package leads

import "errors"

var (
	// ErrMissingPhoneKey is returned when a lead is upserted without a phone key
	ErrMissingPhoneKey = errors.New("phone key is required")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("lead not found")
)
