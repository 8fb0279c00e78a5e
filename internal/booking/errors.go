package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hackgods/handyman-booking/internal/access"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConcurrentModification = errors.New("booking was modified concurrently, refetch and retry")
	ErrPaymentFailure         = errors.New("payment failed")
	ErrUpstreamUnavailable    = errors.New("upstream service unavailable")
	ErrServiceInUse           = errors.New("service is referenced by bookings and cannot be edited")
	ErrPaymentInProgress      = errors.New("a payment for this booking is already being processed")

	// ErrAccessDenied is re-exported so callers can classify with one package.
	ErrAccessDenied = access.ErrAccessDenied
)

// ValidationError carries per-field messages for malformed input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func fieldError(field, msg string) error {
	v := &ValidationError{}
	v.add(field, msg)
	return v
}

// PaymentError is a gateway decline. Reason is the gateway's message.
type PaymentError struct {
	Reason        string
	TransactionID string
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPaymentFailure, e.Reason)
}

func (e *PaymentError) Is(target error) bool {
	return target == ErrPaymentFailure
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}
