/**
 * @description
 * This file defines the internal events published to the message broker after
 * a durable commit. Downstream consumers (alert mailer, analytics) subscribe
 * to these; the broker is never part of the commit itself.
 */
package domain

import "time"

// JobPublishedEvent is emitted after a paid job post becomes durable.
type JobPublishedEvent struct {
	JobID         string    `json:"job_id"`
	OwnerRef      string    `json:"owner_ref"`
	Title         string    `json:"title"`
	FeaturedUntil time.Time `json:"featured_until"`
	PublishedAt   time.Time `json:"published_at"`
}

// AlertActivatedEvent is emitted when an alert subscription becomes active.
type AlertActivatedEvent struct {
	AlertID   string `json:"alert_id"`
	Email     string `json:"email"`
	Frequency string `json:"frequency"`
}

// AlertCancelledEvent is emitted when a subscription is downgraded to the
// free tier.
type AlertCancelledEvent struct {
	AlertID   string `json:"alert_id"`
	Email     string `json:"email"`
	Frequency string `json:"frequency"`
}
