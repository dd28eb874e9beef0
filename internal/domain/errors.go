/**
 * @description
 * This file defines the error taxonomy shared across the payment pipeline.
 * Sentinel errors are used for conditions callers branch on; structured error
 * types carry detail where a bare sentinel is not enough.
 */
package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPaymentNotCompleted is returned by the client confirmation path when
	// the gateway disagrees with the client-reported success. The user must
	// retry payment; nothing has been published.
	ErrPaymentNotCompleted = errors.New("payment has not completed at the gateway")

	// ErrMissingCorrelation is returned when a verified gateway object carries
	// no staged-submission reference in its metadata, so there is nothing to
	// commit against.
	ErrMissingCorrelation = errors.New("gateway object carries no correlation metadata")

	// ErrConfirmationPending signals that charge verification timed out. The
	// payment may well have succeeded; the webhook path remains the source of
	// truth, so this must never be surfaced as a payment failure.
	ErrConfirmationPending = errors.New("payment verification timed out; publication pending webhook delivery")

	// ErrGatewayMisconfigured indicates the gateway returned an object that
	// cannot be completed by a client (e.g. a subscription whose invoice has
	// no confirmable secret). This is a pricing/plan misconfiguration, not a
	// transient failure, and is never retried.
	ErrGatewayMisconfigured = errors.New("gateway returned an unconfirmable object; check price configuration")
)

// ValidationError reports a malformed staging payload. It is raised before
// any gateway call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission: field %q %s", e.Field, e.Reason)
}

// ConfigurationError reports missing or invalid environment configuration.
// It is fatal: the service refuses to start rather than silently defaulting
// gateway credentials or price identifiers.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", strings.Join(e.Missing, ", "))
}
