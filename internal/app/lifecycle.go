/**
 * @description
 * This file implements the alert-subscription lifecycle tracker: a thin state
 * accessor over the repository used by both confirmation paths. Every
 * transition is an upsert keyed by alert id, and re-applying a transition the
 * subscription is already in is a success, not a conflict.
 */
package app

import (
	"context"
	"log"

	"github.com/google/uuid"

	"github.com/jobforge/payment-service/internal/domain"
	"github.com/jobforge/payment-service/internal/store"
)

// SubscriptionLifecycle mutates the state of recurring alert subscriptions.
type SubscriptionLifecycle struct {
	repo     store.Repository
	events   EventPublisher
	exchange string
}

// NewSubscriptionLifecycle creates a lifecycle tracker. The event publisher
// may be nil; broker announcements are strictly post-commit.
func NewSubscriptionLifecycle(repo store.Repository, events EventPublisher, exchange string) *SubscriptionLifecycle {
	return &SubscriptionLifecycle{repo: repo, events: events, exchange: exchange}
}

// Activate sets the subscription active and records the gateway ids. Safe to
// call any number of times and in any order relative to the other
// transitions driven by invoice events.
func (l *SubscriptionLifecycle) Activate(ctx context.Context, alertID uuid.UUID, gatewaySubscriptionID, gatewayCustomerID string) error {
	if err := l.repo.ActivateAlertSubscription(ctx, alertID, gatewaySubscriptionID, gatewayCustomerID); err != nil {
		return err
	}
	l.announce(ctx, alertID, "alert.activated")
	return nil
}

// RecordPaymentFailure flags a subscription whose recurring invoice failed.
// The state is never mutated here: the gateway keeps retrying the invoice,
// a later success clears the flag, and a stale failure arriving after that
// success must leave an active subscription active.
func (l *SubscriptionLifecycle) RecordPaymentFailure(ctx context.Context, alertID uuid.UUID) error {
	if err := l.repo.RecordAlertPaymentFailure(ctx, alertID); err != nil {
		return err
	}
	log.Printf("level=warn component=lifecycle msg=\"alert subscription invoice failed; treating as at risk\" alert_id=%s", alertID)
	return nil
}

// Cancel downgrades a subscription to the free weekly tier.
func (l *SubscriptionLifecycle) Cancel(ctx context.Context, alertID uuid.UUID) error {
	if err := l.repo.CancelAlertSubscription(ctx, alertID); err != nil {
		return err
	}
	l.announce(ctx, alertID, "alert.cancelled")
	return nil
}

// RefreshGatewayRefs updates gateway bookkeeping fields without touching the
// subscription state.
func (l *SubscriptionLifecycle) RefreshGatewayRefs(ctx context.Context, alertID uuid.UUID, gatewaySubscriptionID, gatewayCustomerID string) error {
	return l.repo.SetAlertGatewayRefs(ctx, alertID, gatewaySubscriptionID, gatewayCustomerID)
}

func (l *SubscriptionLifecycle) announce(ctx context.Context, alertID uuid.UUID, routingKey string) {
	if l.events == nil {
		return
	}
	sub, err := l.repo.GetAlertSubscription(ctx, alertID)
	if err != nil {
		log.Printf("level=warn component=lifecycle msg=\"could not load subscription for event\" alert_id=%s err=%v", alertID, err)
		return
	}
	var body any
	switch routingKey {
	case "alert.activated":
		body = domain.AlertActivatedEvent{AlertID: sub.ID.String(), Email: sub.Email, Frequency: sub.Frequency}
	case "alert.cancelled":
		body = domain.AlertCancelledEvent{AlertID: sub.ID.String(), Email: sub.Email, Frequency: sub.Frequency}
	default:
		return
	}
	if err := l.events.Publish(ctx, l.exchange, routingKey, body); err != nil {
		// The durable write already committed; a broker hiccup is not a
		// processing failure.
		log.Printf("level=warn component=lifecycle msg=\"failed to publish event\" routing_key=%s alert_id=%s err=%v", routingKey, alertID, err)
	}
}
