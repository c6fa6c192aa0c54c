package service

import (
	"errors"
	"fmt"
)

// Gateways surface three distinguishable error classes so callers can branch:
// auth failures need an operator, network failures retry on the next tick,
// rejections skip the one trade or quote that was refused.

// ErrNoCredentials is returned by a gateway factory when the venue requires
// keys and the resolved credentials are empty. The runner records it as a
// non-fatal "missing credentials" condition and retries every tick.
var ErrNoCredentials = errors.New("exchange credentials are not configured")

// AuthError means the exchange refused the key itself (revoked, forbidden).
// Retrying cannot help; an operator has to act.
type AuthError struct {
	Exchange string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth: %s", e.Exchange, e.Reason)
}

// NetworkError wraps a transient transport or rate-limit failure.
type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// RejectionError is an exchange-side refusal of one specific request:
// insufficient funds, bad precision, market closed. The request was
// understood and denied; the connection and the keys are fine.
type RejectionError struct {
	Code string
	Msg  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("exchange rejected request: %s (%s)", e.Msg, e.Code)
}

// Rejection codes produced by the paper gateway; real adapters map venue
// codes onto the same vocabulary.
const (
	RejectInsufficientFunds = "insufficient_funds"
	RejectBadPrecision      = "bad_precision"
	RejectUnknownOrder      = "unknown_order"
	RejectUnknownPair       = "unknown_pair"
)

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// RejectionCode extracts the code of a rejection, or "" for other errors.
func RejectionCode(err error) string {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
