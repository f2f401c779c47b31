package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrQuotaExceeded     = errors.New("wallet quota exceeded")
	ErrDuplicateAddress  = errors.New("address already authorized")
	ErrAlreadyAuthorized = errors.New("draft already authorized")
	ErrNotFound          = errors.New("wallet not found")
	ErrNoDraft           = errors.New("no draft wallet")
)

// ValidationError reports bad user input on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type QuotaExceededError struct {
	Class string
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s wallet quota exceeded (%d of %d used)", e.Class, e.Used, e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

type DuplicateAddressError struct {
	Address string
}

func (e *DuplicateAddressError) Error() string {
	return fmt.Sprintf("address %s already belongs to an authorized wallet", e.Address)
}

func (e *DuplicateAddressError) Is(target error) bool {
	return target == ErrDuplicateAddress
}

// AlreadyAuthorizedError carries the wallet created by the first submission.
type AlreadyAuthorizedError struct {
	Wallet Wallet
}

func (e *AlreadyAuthorizedError) Error() string {
	return fmt.Sprintf("draft %s already authorized as wallet %s", e.Wallet.DraftID, e.Wallet.ID)
}

func (e *AlreadyAuthorizedError) Is(target error) bool {
	return target == ErrAlreadyAuthorized
}
