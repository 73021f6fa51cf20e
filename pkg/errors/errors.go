package errors

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers of the checkout flow.
var (
	ErrValidation  = errors.New("validation error")
	ErrCard        = errors.New("card error")
	ErrAuth        = errors.New("auth error")
	ErrNotFound    = errors.New("not found")
	ErrGateway     = errors.New("gateway error")
	ErrPersistence = errors.New("persistence error")

	// ErrConfiguration is an ErrAuth raised before any network call when the
	// gateway access token is missing or malformed.
	ErrConfiguration = fmt.Errorf("%w: gateway access token missing or malformed", ErrAuth)
)

// Store-level sentinels.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrCardNotFound        = errors.New("card not found")
	ErrNilTransaction      = errors.New("transaction is nil")
	ErrNilUser             = errors.New("user is nil")
	ErrNilCard             = errors.New("card is nil")
	ErrInvalidStatus       = errors.New("invalid transaction status")
	ErrInvalidMethod       = errors.New("invalid payment method")
	ErrEmptyUpdate         = errors.New("nothing to update")
	ErrTransactionClosed   = errors.New("transaction already closed without payment")
)

// Error is a classified failure. Message is safe to show to the buyer; Err
// keeps the underlying cause for logs.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error kind, so errors.Is(err, ErrCard) works on wrapped values.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && errors.Is(e.Kind, target)
}

func newError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func Validation(message string) *Error {
	return newError(ErrValidation, message, nil)
}

func Card(message string, cause error) *Error {
	return newError(ErrCard, message, cause)
}

func Auth(message string, cause error) *Error {
	return newError(ErrAuth, message, cause)
}

func Configuration(message string) *Error {
	return newError(ErrConfiguration, message, nil)
}

func NotFound(message string, cause error) *Error {
	return newError(ErrNotFound, message, cause)
}

func Gateway(message string, cause error) *Error {
	return newError(ErrGateway, message, cause)
}

func Persistence(message string, cause error) *Error {
	return newError(ErrPersistence, message, cause)
}

// UserMessage returns the buyer-facing text for err. Unclassified errors get a
// generic message so raw causes never leak.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
