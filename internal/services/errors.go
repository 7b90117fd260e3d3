package services

import "errors"

// Error taxonomy crossed by callers. Gateway and storage failures are
// re-classified into these before leaving the package; raw driver or HTTP
// client errors never escape.
var (
	// ErrValidation marks a malformed or incomplete payment intent. Never
	// retried automatically.
	ErrValidation = errors.New("invalid payment intent")

	// ErrGatewayUnavailable is transient. Retrying initialization mints a
	// fresh reference; retrying verification lands on the duplicate path.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrPaymentNotSuccessful is a legitimate negative outcome, not a fault.
	ErrPaymentNotSuccessful = errors.New("payment not successful")

	// ErrIncompleteMetadata means the gateway echo lacked mandatory identity
	// fields. A malformed order must not be created from it.
	ErrIncompleteMetadata = errors.New("incomplete transaction metadata")

	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidStatus rejects values outside the order status set.
	ErrInvalidStatus = errors.New("invalid order status")

	// ErrInvalidTransition rejects edges outside the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")
)
