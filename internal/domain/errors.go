package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransaction matches every client-correctable transfer rejection.
	ErrInvalidTransaction    = errors.New("invalid transaction")
	// ErrDependencyUnavailable additionally matches rejections caused by an
	// unreachable or failing sibling service, which a client may retry.
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	ErrInvalidStateTransition = errors.New("transaction: invalid state transition")
	ErrAlreadyFinalized       = errors.New("transaction: already finalized")
)

// Reason is the stable, machine-readable cause of a rejected transfer.
type Reason string

const (
	ReasonMissingAccountID         Reason = "missing-account-id"
	ReasonSameAccount              Reason = "same-account"
	ReasonNonPositiveAmount        Reason = "non-positive-amount"
	ReasonAmountPrecision          Reason = "amount-precision"
	ReasonAmountTooLarge           Reason = "amount-too-large"
	ReasonAccountIDTooLong         Reason = "account-id-too-long"
	ReasonDescriptionTooLong       Reason = "description-too-long"
	ReasonAccountNotActive         Reason = "account-not-active"
	ReasonAccountValidationFailed  Reason = "account-validation-failed"
	ReasonCustomerValidationFailed Reason = "customer-validation-failed"
	ReasonInsufficientFunds        Reason = "insufficient-funds"
	ReasonBalanceValidationFailed  Reason = "balance-validation-failed"
	ReasonTransferFailed           Reason = "transfer-failed"
)

// TransferError is the failure result of an orchestration step.
type TransferError struct {
	Reason  Reason
	Message string
	Cause   error

	dependency bool
}

// Invalid builds a rejection with no underlying cause.
func Invalid(reason Reason, message string) *TransferError {
	return &TransferError{Reason: reason, Message: message}
}

// InvalidWithCause builds a rejection wrapping cause.
func InvalidWithCause(reason Reason, message string, cause error) *TransferError {
	return &TransferError{Reason: reason, Message: message, Cause: cause}
}

// DependencyFailure builds a rejection caused by a sibling service failure.
func DependencyFailure(reason Reason, message string, cause error) *TransferError {
	return &TransferError{Reason: reason, Message: message, Cause: cause, dependency: true}
}

// Error appends the cause unless Message already ends with it.
func (e *TransferError) Error() string {
	if e.Cause == nil || strings.HasSuffix(e.Message, e.Cause.Error()) {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *TransferError) Unwrap() []error {
	errs := []error{ErrInvalidTransaction}
	if e.dependency {
		errs = append(errs, ErrDependencyUnavailable)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// DependencyUnavailable reports whether the rejection came from a sibling service failure.
func (e *TransferError) DependencyUnavailable() bool {
	return e.dependency
}
