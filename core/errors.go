package core

import (
	"errors"
	"fmt"
)

// Error is a categorized listenmux error. Two *Error values match under
// errors.Is when their codes are equal, so the sentinels below can be used to
// classify wrapped failures.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("listenmux: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("listenmux: %s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates an *Error with the given code.
func NewError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Error codes.
const (
	ErrCodeConfiguration       = "CONFIGURATION"
	ErrCodeConsumerStart       = "CONSUMER_START"
	ErrCodeInvalidConcurrency  = "INVALID_CONCURRENCY"
	ErrCodeListenerInvocation  = "LISTENER_INVOCATION"
	ErrCodeDeadLetterRouting   = "DEAD_LETTER_ROUTING"
	ErrCodeAcknowledge         = "ACKNOWLEDGE"
	ErrCodeNegativeAcknowledge = "NEGATIVE_ACKNOWLEDGE"
)

// Categorized errors, usable as errors.Is targets.
var (
	// ErrConfiguration is returned when properties or options are invalid.
	ErrConfiguration = &Error{Code: ErrCodeConfiguration, Message: "invalid configuration"}

	// ErrConsumerStart is returned when a subscription cannot be set up
	// within the consumer start timeout.
	ErrConsumerStart = &Error{Code: ErrCodeConsumerStart, Message: "consumer failed to start"}

	// ErrInvalidConcurrencyConfig is returned when more than one consumer is
	// requested on an Exclusive subscription.
	ErrInvalidConcurrencyConfig = &Error{
		Code:    ErrCodeInvalidConcurrency,
		Message: "concurrency > 1 is not allowed on Exclusive subscription type",
	}

	// ErrListenerInvocation marks a failed or panicking listener.
	ErrListenerInvocation = &Error{Code: ErrCodeListenerInvocation, Message: "listener failed"}

	// ErrDeadLetterRouting marks a failed republish to a dead-letter topic.
	ErrDeadLetterRouting = &Error{Code: ErrCodeDeadLetterRouting, Message: "dead-letter routing failed"}

	// ErrAcknowledge marks a failed broker acknowledgment.
	ErrAcknowledge = &Error{Code: ErrCodeAcknowledge, Message: "acknowledge failed"}

	// ErrNegativeAcknowledge marks a failed broker negative acknowledgment.
	ErrNegativeAcknowledge = &Error{Code: ErrCodeNegativeAcknowledge, Message: "negative acknowledge failed"}
)

var (
	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("listenmux: client is closed")

	// ErrConsumerClosed is returned by a consumer after Close.
	ErrConsumerClosed = errors.New("listenmux: consumer is closed")

	// ErrConsumerBusy is returned when an Exclusive subscription already has a consumer.
	ErrConsumerBusy = errors.New("listenmux: exclusive subscription already has a consumer")

	// ErrUnsupportedSubscriptionType is returned by bindings that cannot honor
	// the requested subscription type.
	ErrUnsupportedSubscriptionType = errors.New("listenmux: subscription type not supported by broker")

	// ErrNoClient is returned when a container is created without a client.
	ErrNoClient = errors.New("listenmux: client is nil")
)

// IsCode reports whether err carries an *Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
