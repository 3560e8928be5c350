package economy

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the economy service.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrChapterNotFound      = errors.New("chapter not found")
	ErrStoryNotFound        = errors.New("story not found")
	ErrNotPurchasable       = errors.New("chapter is not gated")
	ErrNotPurchasableBy     = errors.New("chapter has no price for method")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAlreadyCheckedIn     = errors.New("already checked in today")
	ErrGrantExists          = errors.New("unlock grant already exists")
	ErrCheckInExists        = errors.New("check-in already recorded")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidBalanceKind   = errors.New("invalid balance kind")
	ErrInvalidUnlockMethod  = errors.New("invalid unlock method")
	ErrInvalidMetadata      = errors.New("invalid metadata")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrTransactionFailed    = errors.New("transaction failed")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// domainSentinels are returned to callers as-is; everything else that
// surfaces out of a transaction scope is a TransactionFailed.
var domainSentinels = []error{
	ErrAccountNotFound,
	ErrChapterNotFound,
	ErrStoryNotFound,
	ErrNotPurchasable,
	ErrNotPurchasableBy,
	ErrInsufficientFunds,
	ErrAlreadyCheckedIn,
	ErrInvalidAmount,
	ErrInvalidBalanceKind,
	ErrInvalidUnlockMethod,
	ErrInvalidMetadata,
}

func asTransactionFailure(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range domainSentinels {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
}
