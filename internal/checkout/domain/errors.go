package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrInvalidCoupon = errors.New("invalid coupon")
	ErrUnknownCoupon = errors.New("coupon not found")
)

// ValidationError rejects a checkout before any side effect.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
