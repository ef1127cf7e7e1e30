package ledger

import (
	"errors"
	"fmt"
)

const (
	// MaxBalance is the highest balance an account may hold.
	MaxBalance int64 = 1_000_000
	// MaxSingleCharge bounds the amount of one charge.
	MaxSingleCharge int64 = 1_000_000
)

var (
	// ErrInvalidArgument reports a non-positive user id or amount.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLimitExceeded reports a charge above the single charge cap or one
	// that would push the balance above MaxBalance.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrInsufficientBalance reports a use larger than the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ValidationError carries one of the sentinel kinds above together with a
// caller facing message. errors.Is matches it against its Kind.
type ValidationError struct {
	Kind    error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.Kind }

func invalidArgument(format string, args ...any) error {
	return &ValidationError{Kind: ErrInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

func limitExceeded(format string, args ...any) error {
	return &ValidationError{Kind: ErrLimitExceeded, Message: fmt.Sprintf(format, args...)}
}

func insufficientBalance(format string, args ...any) error {
	return &ValidationError{Kind: ErrInsufficientBalance, Message: fmt.Sprintf(format, args...)}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "error"
	}
}
