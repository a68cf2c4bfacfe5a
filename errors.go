package conduct

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore     = errors.New("conduct: no store configured")
	ErrStoreClosed = errors.New("conduct: store closed")

	// Not found errors.
	ErrWorkflowNotFound    = errors.New("conduct: workflow not found")
	ErrRunNotFound         = errors.New("conduct: run not found")
	ErrOrderNotFound       = errors.New("conduct: order not found")
	ErrFulfillmentNotFound = errors.New("conduct: fulfillment not found")
	ErrLineItemNotFound    = errors.New("conduct: line item not found")
	ErrEventNotFound       = errors.New("conduct: event not found")
	ErrProviderNotFound    = errors.New("conduct: shipping provider not found")

	// Concurrency errors.
	ErrVersionConflict = errors.New("conduct: version conflict")
	ErrKeyInProgress   = errors.New("conduct: idempotency key in progress")

	// State errors.
	ErrInvalidTransition = errors.New("conduct: invalid label state transition")
)

// Kind classifies an error into the closed set callers pattern-match on.
// Controllers map Validation/NotFound/Conflict to 4xx responses and
// everything else to 5xx.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindExternalProvider
	KindTimeout
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExternalProvider:
		return "external_provider"
	case KindTimeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error is a kind-carrying error. Use E to construct one and KindOf to
// classify any error back into a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// E builds an Error of the given kind. The optional cause is wrapped
// and visible to errors.Is/As.
func E(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. Kind-carrying errors report their own kind;
// sentinel errors map to their natural kind; context deadline expiry
// maps to KindTimeout; everything else is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, ErrWorkflowNotFound),
		errors.Is(err, ErrRunNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrFulfillmentNotFound),
		errors.Is(err, ErrLineItemNotFound),
		errors.Is(err, ErrEventNotFound),
		errors.Is(err, ErrProviderNotFound):
		return KindNotFound
	case errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrKeyInProgress),
		errors.Is(err, ErrInvalidTransition):
		return KindConflict
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	return KindInternal
}

// IsRetryable reports whether the caller may safely re-run the whole
// operation from scratch. Version conflicts and timeouts qualify;
// validation failures never do.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConflict, KindTimeout:
		return !errors.Is(err, ErrInvalidTransition)
	default:
		return false
	}
}
