package core

import (
	"errors"
	"fmt"
)

// AuthError reports a broker login or credential failure. It is surfaced to
// the user verbatim and always leaves the session with
// BrokerAuthenticated=false.
type AuthError struct {
	Broker string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s authentication failed: %s: %v", e.Broker, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s authentication failed: %s", e.Broker, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// BrokerError reports a failed broker call. It is caught at the tool-call
// boundary and reported as a failed tool result; the turn continues.
type BrokerError struct {
	Op   string // broker operation, e.g. "get_quote"
	Code string // machine-readable cause, e.g. "AB1004"
	Err  error
}

func (e *BrokerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker %s failed (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("broker %s failed: %v", e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// ValidationError rejects malformed trade arguments before a pending trade
// intent is ever created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CompletionError reports a completion-service failure. It is retried once
// with backoff before the turn degrades to a canned response.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion service: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// InvariantViolation is returned by the session store when an update would
// leave a session in an inconsistent state. The update is rejected atomically.
type InvariantViolation struct {
	UserID string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("session invariant violated for user %s: %s", e.UserID, e.Reason)
}

// Sentinel errors for the confirmation protocol and broker lifecycle.
var (
	// ErrNothingToConfirm is returned when CONFIRM arrives with no live
	// pending trade intent. It is a user-visible notice, not a failure.
	ErrNothingToConfirm = errors.New("nothing to confirm")

	// ErrExpiredConfirmation is returned when CONFIRM arrives after the
	// pending intent's expiry. The trade is not executed.
	ErrExpiredConfirmation = errors.New("confirmation expired")

	// ErrNoBroker is returned when a broker call is attempted without a
	// logged-in broker handle.
	ErrNoBroker = errors.New("no broker connected")
)
