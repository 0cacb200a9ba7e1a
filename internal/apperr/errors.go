// Package apperr defines the error taxonomy of the escrow core. Handlers map
// these onto HTTP statuses; nothing below the handler layer knows about HTTP.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound means the escrow id does not exist.
var ErrNotFound = errors.New("escrow not found")

// ValidationError is malformed or missing required input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// StateConflictError means the operation's precondition on the current status
// is not met. The caller must re-read state before deciding to retry.
type StateConflictError struct {
	Current  string
	Required string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("escrow status is %s, operation requires %s", e.Current, e.Required)
}

func StateConflict(current, required string) error {
	return &StateConflictError{Current: current, Required: required}
}

// JudgeUnavailableError means the judging call failed or timed out. The escrow
// status is unchanged and verify may be retried.
type JudgeUnavailableError struct {
	Err error
}

func (e *JudgeUnavailableError) Error() string {
	return fmt.Sprintf("judge unavailable: %v", e.Err)
}

func (e *JudgeUnavailableError) Unwrap() error { return e.Err }

func JudgeUnavailable(err error) error {
	return &JudgeUnavailableError{Err: err}
}

// SettlementFailedError means one or both transfer legs failed. Any
// transaction id actually obtained is carried so the caller can persist it;
// a retried payout must not re-submit a leg that already succeeded.
type SettlementFailedError struct {
	WorkerTx string
	TollTx   string
	Err      error
}

func (e *SettlementFailedError) Error() string {
	return fmt.Sprintf("settlement failed: %v", e.Err)
}

func (e *SettlementFailedError) Unwrap() error { return e.Err }
