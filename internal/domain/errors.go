package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidImage        = errors.New("invalid image")
	ErrRemoteTransient     = errors.New("remote transient failure")
	ErrRemoteRejected      = errors.New("remote rejected")
	ErrStorageFailure      = errors.New("storage failure")
	ErrLedgerDebitRace     = errors.New("ledger debit rejected")
	ErrHistoryFailure      = errors.New("history failure")
	ErrCancelled           = errors.New("cancelled")
	ErrBatchActive         = errors.New("batch still active")
)

// Job error codes exposed to callers.
const (
	CodeInsufficientCredits = "insufficient_credits"
	CodeInvalidImage        = "invalid_image"
	CodeRemoteTransient     = "remote_transient"
	CodeRemoteRejected      = "remote_rejected"
	CodeStorageFailure      = "storage_failure"
	CodeLedgerDebitRace     = "ledger_debit_race"
	CodeHistoryFailure      = "history_failure"
	CodeCancelled           = "cancelled"
	CodeInternal            = "internal"
)

// InsufficientCreditsError reports a batch-level or job-level credit shortfall.
type InsufficientCreditsError struct {
	Needed  int64
	Balance int64
}

// Shortfall returns how many credits are missing.
func (e *InsufficientCreditsError) Shortfall() int64 {
	if e.Needed <= e.Balance {
		return 0
	}
	return e.Needed - e.Balance
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d (short %d)", e.Needed, e.Balance, e.Shortfall())
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewJobError maps err to a stable job error code and a short message.
func NewJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	return &JobError{Code: ErrorCode(err), Message: err.Error()}
}

// ErrorCode returns the job error code for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrLedgerDebitRace):
		return CodeLedgerDebitRace
	case errors.Is(err, ErrInsufficientCredits):
		return CodeInsufficientCredits
	case errors.Is(err, ErrInvalidImage):
		return CodeInvalidImage
	case errors.Is(err, ErrRemoteTransient):
		return CodeRemoteTransient
	case errors.Is(err, ErrRemoteRejected):
		return CodeRemoteRejected
	case errors.Is(err, ErrStorageFailure):
		return CodeStorageFailure
	case errors.Is(err, ErrHistoryFailure):
		return CodeHistoryFailure
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	default:
		return CodeInternal
	}
}
