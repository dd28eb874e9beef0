/**
 * @description
 * This file defines the AlertSubscription model: a recurring realtime-alert
 * entitlement. Email is the unique key; a resubmission by the same email
 * re-uses the existing record rather than creating a duplicate.
 */
package domain

import (
	"net/mail"
	"time"

	"github.com/google/uuid"
)

// Alert subscription states. payment_lapsed is a legal column value reserved
// for operator tooling; webhook processing records failed invoices through
// LastPaymentFailedAt instead of demoting the state.
const (
	AlertStatePendingPayment = "pending_payment"
	AlertStateActive         = "active"
	AlertStatePaymentLapsed  = "payment_lapsed"
	AlertStateCancelled      = "cancelled"
)

// Alert frequencies. Realtime is the paid tier; cancelled subscriptions are
// downgraded back to weekly.
const (
	FrequencyDaily    = "daily"
	FrequencyWeekly   = "weekly"
	FrequencyRealtime = "realtime"
)

// AlertSubscription represents one subscriber's alert entitlement.
type AlertSubscription struct {
	ID                    uuid.UUID `json:"id"`
	Email                 string    `json:"email"`
	Frequency             string    `json:"frequency"`
	State                 string    `json:"state"`
	GatewaySubscriptionID *string   `json:"gateway_subscription_id,omitempty"`
	GatewayCustomerID     *string   `json:"gateway_customer_id,omitempty"`
	// LastPaymentFailedAt flags a failed recurring invoice. It never changes
	// State: the gateway retries the invoice on its own schedule, and a stale
	// failure notification may arrive after the success that superseded it.
	// A later successful invoice clears the flag.
	LastPaymentFailedAt *time.Time `json:"last_payment_failed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// AtRisk reports whether the subscription's latest recurring invoice failed
// without a success since.
func (s *AlertSubscription) AtRisk() bool {
	return s.LastPaymentFailedAt != nil
}

// ValidateAlertEmail rejects malformed subscriber emails before any gateway
// call is made.
func ValidateAlertEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Reason: "is required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Field: "email", Reason: "is not a valid address"}
	}
	return nil
}
