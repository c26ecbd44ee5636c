package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an exchange failure.
type Kind int

const (
	// KindTransient covers timeouts and configured non-fatal statuses or
	// messages. Reads may be retried; at the cycle boundary the failure is
	// logged and the cycle skipped.
	KindTransient Kind = iota + 1
	// KindFatal covers auth failures, malformed requests, insufficient
	// funds and anything not matching the transient allow-lists.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// ErrInsufficientMarketData marks an order book with an empty bid or ask
// side. It is a no-op signal for the current cycle, not a failure.
var ErrInsufficientMarketData = errors.New("exchange returned an empty order book side")

// Error is a classified exchange failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s exchange error (status %d): %s", e.Op, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s exchange error: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AmbiguousWriteError reports a failed order placement or cancellation whose
// real-world effect is unknown. It is always escalated to the supervisor and
// never silently retried: a blind resend risks duplicate capital exposure.
type AmbiguousWriteError struct {
	Op       string
	MarketID string
	Err      error
}

func (e *AmbiguousWriteError) Error() string {
	return fmt.Sprintf("%s on %s failed and its outcome could not be confirmed: %v", e.Op, e.MarketID, e.Err)
}

func (e *AmbiguousWriteError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err carries a transient classification.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

// IsFatal reports whether err carries a fatal classification.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindFatal
}

// IsAmbiguousWrite reports whether err is an unconfirmed write outcome.
func IsAmbiguousWrite(err error) bool {
	var e *AmbiguousWriteError
	return errors.As(err, &e)
}

// Classifier decides transient vs fatal from the caller-supplied allow-lists.
// Classification is a pure function of the status code and message: it never
// consults mutable state, so the same failure always classifies the same way.
type Classifier struct {
	nonFatalCodes    map[int]struct{}
	nonFatalMessages []string
}

// NewClassifier builds a classifier from the configured non-fatal status
// codes and message substrings.
func NewClassifier(codes []int, messages []string) Classifier {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return Classifier{nonFatalCodes: set, nonFatalMessages: messages}
}

// Classify returns KindTransient when the status code is in the non-fatal
// set or the message contains (case-sensitive) any non-fatal substring.
// Every other failure is KindFatal.
func (c Classifier) Classify(statusCode int, message string) Kind {
	if _, ok := c.nonFatalCodes[statusCode]; ok {
		return KindTransient
	}
	for _, s := range c.nonFatalMessages {
		if s != "" && strings.Contains(message, s) {
			return KindTransient
		}
	}
	return KindFatal
}
