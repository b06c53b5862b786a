package gateway

import (
	"fmt"
	"time"
)

// Kind is the machine-readable classification carried by every rejection.
type Kind string

const (
	KindAuthentication Kind = "authentication_error"
	KindRateLimit      Kind = "rate_limit_exceeded"
	KindSpendingCap    Kind = "spending_cap_exceeded"
	KindBlocked        Kind = "blocked_recipient"
	KindPayloadTooBig  Kind = "payload_too_large"
	KindLedger         Kind = "ledger_submission_failure"
	KindDecryption     Kind = "decryption_failure"
	KindNotFound       Kind = "not_found"
	KindInvalidRequest Kind = "invalid_request"
	// KindStore marks a transient backing-store outage; unlike KindBlocked
	// or KindSpendingCap it says nothing about the request itself.
	KindStore Kind = "store_unavailable"
)

// RelayError pairs a kind with a human hint. Transport code maps kinds to
// HTTP statuses; nothing below the boundary looks at status codes.
type RelayError struct {
	Kind       Kind
	Message    string
	Hint       string
	RetryAfter time.Duration
	// OutcomeUnknown marks ledger failures where the transaction may have
	// landed anyway; clients should query before resubmitting.
	OutcomeUnknown bool

	err error
}

func (e *RelayError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RelayError) Unwrap() error { return e.err }

func authenticationError(msg string) *RelayError {
	return &RelayError{Kind: KindAuthentication, Message: msg}
}

// RateLimited is the quota rejection; the transport layer builds it because
// the per-identity window lives in front of this package.
func RateLimited(retryAfter time.Duration, hint string) *RelayError {
	return &RelayError{
		Kind:       KindRateLimit,
		Message:    "too many requests",
		Hint:       hint,
		RetryAfter: retryAfter,
	}
}

func storeUnavailable(msg string, err error) *RelayError {
	return &RelayError{
		Kind:    KindStore,
		Message: msg,
		Hint:    "try again shortly",
		err:     err,
	}
}

func spendingCapExceeded(usage, cap uint64) *RelayError {
	return &RelayError{
		Kind:    KindSpendingCap,
		Message: "daily spending limit reached",
		Hint:    fmt.Sprintf("used %d of %d lamports today; try again after the day rolls over", usage, cap),
	}
}

func blockedRecipient() *RelayError {
	return &RelayError{
		Kind:    KindBlocked,
		Message: "recipient has blocked this sender",
	}
}

func payloadTooLarge(size, limit int) *RelayError {
	return &RelayError{
		Kind:    KindPayloadTooBig,
		Message: "payload too large",
		Hint:    fmt.Sprintf("payload is %d bytes, limit is %d", size, limit),
	}
}

func ledgerFailure(err error, outcomeUnknown bool) *RelayError {
	hint := "submission failed; safe to retry"
	if outcomeUnknown {
		hint = "outcome unknown; query the ledger for a matching transaction before retrying"
	}
	return &RelayError{
		Kind:           KindLedger,
		Message:        "ledger submission failed",
		Hint:           hint,
		OutcomeUnknown: outcomeUnknown,
		err:            err,
	}
}

func invalidRequest(msg string) *RelayError {
	return &RelayError{Kind: KindInvalidRequest, Message: msg}
}

func notFound(msg string) *RelayError {
	return &RelayError{Kind: KindNotFound, Message: msg}
}
