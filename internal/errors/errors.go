// Package errors classifies the failures that can surface from a market
// data fetch so callers can tell retryable transport conditions apart from
// fatal exchange errors, unsupported requests, and malformed input.
//
// Only transport and rate-limit errors are retryable; everything else
// fails fast on first occurrence. A fetch either returns a complete table
// or one classified error — partial results are never returned silently.
package errors

import (
	"errors"
	"fmt"
)

// Kind is the failure classification.
type Kind string

const (
	// KindTransport marks network or timeout failures. Retryable.
	KindTransport Kind = "transport"
	// KindRateLimit marks HTTP 429 or an exchange-equivalent throttle
	// response. Retryable with exponential backoff.
	KindRateLimit Kind = "rate_limit"
	// KindBan marks HTTP 418 (IP ban). Never retried.
	KindBan Kind = "ban"
	// KindExchange marks a protocol/application failure: a non-success
	// exchange error envelope or an unexpected HTTP status. The error
	// message carries the raw envelope for diagnosis.
	KindExchange Kind = "exchange"
	// KindUnsupported marks a data type, interval, or period the adapter
	// does not implement. Distinct from "no data in range", which is a
	// valid empty result.
	KindUnsupported Kind = "unsupported"
	// KindBadInput marks malformed caller input: an untranslatable
	// symbol or an unparseable time value.
	KindBadInput Kind = "bad_input"
)

// Error is a classified failure. Op identifies where it happened
// (e.g. "okx.fetch_ohlcv"), Err holds the underlying cause when there
// is one.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error may be retried.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimit
}

// Transport wraps a network/timeout failure.
func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// RateLimit builds a rate-limit error.
func RateLimit(op, format string, args ...any) error {
	return &Error{Kind: KindRateLimit, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Banned builds a ban error.
func Banned(op, format string, args ...any) error {
	return &Error{Kind: KindBan, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Exchange builds a protocol/application error carrying the raw envelope.
func Exchange(op, format string, args ...any) error {
	return &Error{Kind: KindExchange, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Unsupported builds an unsupported-operation error.
func Unsupported(op, format string, args ...any) error {
	return &Error{Kind: KindUnsupported, Op: op, Message: fmt.Sprintf(format, args...)}
}

// BadInput builds a malformed-input error.
func BadInput(op, format string, args ...any) error {
	return &Error{Kind: KindBadInput, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and op to an existing error, preserving the chain.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from err, or an empty Kind when the
// error was never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a retryable classification.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// IsUnsupported reports whether err marks an unsupported operation.
func IsUnsupported(err error) bool { return KindOf(err) == KindUnsupported }

// IsBanned reports whether err marks an IP ban.
func IsBanned(err error) bool { return KindOf(err) == KindBan }

// IsRateLimit reports whether err marks a rate-limit condition.
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }

// IsBadInput reports whether err marks malformed caller input.
func IsBadInput(err error) bool { return KindOf(err) == KindBadInput }
