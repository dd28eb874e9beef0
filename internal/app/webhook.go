/**
 * @description
 * This file implements the webhook reconciliation path: the authoritative
 * state machine driven by gateway-pushed events. It must function correctly
 * even if the client confirmation path never runs, and tolerate duplicate
 * and out-of-order delivery: every action here is an idempotent upsert, so
 * re-applying an event, or applying events in the wrong order, converges on
 * the same end state.
 *
 * Error semantics: an error returned from ProcessEvent means the durable
 * write did not complete; the HTTP layer answers 500 so the gateway
 * redelivers. Events that are not ours (unknown type, no correlation) are
 * logged and acknowledged.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"github.com/jobforge/payment-service/internal/domain"
	"github.com/jobforge/payment-service/internal/store"
)

// WebhookProcessor commits state transitions for verified gateway events.
type WebhookProcessor struct {
	repo      store.Repository
	gateway   Gateway
	lifecycle *SubscriptionLifecycle
	events    EventPublisher
	exchange  string
}

// NewWebhookProcessor creates the reconciliation processor.
func NewWebhookProcessor(repo store.Repository, gateway Gateway, lifecycle *SubscriptionLifecycle, events EventPublisher, exchange string) *WebhookProcessor {
	return &WebhookProcessor{
		repo:      repo,
		gateway:   gateway,
		lifecycle: lifecycle,
		events:    events,
		exchange:  exchange,
	}
}

// Local views of gateway payloads. Decoding into our own structs keeps the
// handler stable across SDK and API-version churn; only the fields we read
// are declared.

type paymentIntentPayload struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

type checkoutSessionPayload struct {
	ID           string            `json:"id"`
	Mode         string            `json:"mode"`
	Customer     string            `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type subscriptionPayload struct {
	ID       string            `json:"id"`
	Customer string            `json:"customer"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Parent struct {
		SubscriptionDetails struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (in invoicePayload) subscriptionID() string {
	if in.Subscription != "" {
		return in.Subscription
	}
	return in.Parent.SubscriptionDetails.Subscription
}

func (in invoicePayload) metadata() map[string]string {
	if len(in.SubscriptionDetails.Metadata) > 0 {
		return in.SubscriptionDetails.Metadata
	}
	return in.Parent.SubscriptionDetails.Metadata
}

// ProcessEvent routes one verified gateway event through the state machine.
func (p *WebhookProcessor) ProcessEvent(ctx context.Context, event stripe.Event) error {
	switch string(event.Type) {
	case "payment_intent.succeeded":
		var pi paymentIntentPayload
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return fmt.Errorf("decode payment_intent: %w", err)
		}
		return p.dispatchCompletedPayment(ctx, event.ID, domain.CorrelationFromMetadata(pi.Metadata), "", "")

	case "checkout.session.completed":
		var session checkoutSessionPayload
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return p.dispatchCompletedPayment(ctx, event.ID, domain.CorrelationFromMetadata(session.Metadata), session.Subscription, session.Customer)

	case "customer.subscription.created":
		sub, alertID, ok, err := p.decodeSubscription(event)
		if err != nil || !ok {
			return err
		}
		return p.lifecycle.Activate(ctx, alertID, sub.ID, sub.Customer)

	case "customer.subscription.updated":
		sub, alertID, ok, err := p.decodeSubscription(event)
		if err != nil || !ok {
			return err
		}
		// Bookkeeping only; the subscription state is driven by invoice and
		// deletion events.
		return p.lifecycle.RefreshGatewayRefs(ctx, alertID, sub.ID, sub.Customer)

	case "customer.subscription.deleted":
		_, alertID, ok, err := p.decodeSubscription(event)
		if err != nil || !ok {
			return err
		}
		return p.lifecycle.Cancel(ctx, alertID)

	case "invoice.payment_succeeded", "invoice.paid":
		inv, alertID, ok, err := p.decodeInvoice(ctx, event)
		if err != nil || !ok {
			return err
		}
		return p.lifecycle.Activate(ctx, alertID, inv.subscriptionID(), inv.Customer)

	case "invoice.payment_failed":
		_, alertID, ok, err := p.decodeInvoice(ctx, event)
		if err != nil || !ok {
			return err
		}
		// Flag only; no state change. The gateway retries the invoice and a
		// later success clears the flag.
		return p.lifecycle.RecordPaymentFailure(ctx, alertID)

	default:
		log.Printf("level=info component=webhook msg=\"ignoring unhandled event type\" type=%s event_id=%s", event.Type, event.ID)
		return nil
	}
}

// dispatchCompletedPayment commits a completed one-time charge or checkout
// according to its correlation purpose.
func (p *WebhookProcessor) dispatchCompletedPayment(ctx context.Context, eventID string, corr domain.PaymentCorrelation, gatewaySubID, gatewayCustomerID string) error {
	switch corr.Purpose {
	case domain.PurposeNewJob, domain.PurposePromoteJob:
		stagedID, ok := parseID(corr.StagedSubmissionID)
		if !ok {
			// Not one of our staged charges; acknowledge rather than force
			// endless redelivery.
			log.Printf("level=warn component=webhook msg=\"completed payment without staged correlation\" event_id=%s", eventID)
			return nil
		}
		payload, err := p.repo.MarkPaid(ctx, stagedID)
		if err != nil {
			if errors.Is(err, store.ErrStagedSubmissionNotFound) {
				// The draft was garbage-collected before the event arrived.
				// Redelivery can never succeed, so acknowledge rather than
				// force a retry loop; the charge needs manual review.
				log.Printf("level=error component=webhook msg=\"completed payment references a purged staged submission\" staged_id=%s event_id=%s", stagedID, eventID)
				return nil
			}
			return err
		}
		if payload == nil {
			log.Printf("level=info component=webhook msg=\"staged submission already committed\" staged_id=%s event_id=%s", stagedID, eventID)
			return nil
		}
		_, err = commitStagedJob(ctx, p.repo, p.events, p.exchange, stagedID, payload, corr)
		return err

	case domain.PurposeRealtimeAlert:
		alertID, ok := parseID(corr.AlertID)
		if !ok {
			log.Printf("level=warn component=webhook msg=\"alert payment without alert correlation\" event_id=%s", eventID)
			return nil
		}
		return p.lifecycle.Activate(ctx, alertID, gatewaySubID, gatewayCustomerID)

	default:
		log.Printf("level=info component=webhook msg=\"completed payment with unknown purpose\" purpose=%q event_id=%s", corr.Purpose, eventID)
		return nil
	}
}

// decodeSubscription parses a subscription event and resolves its alert id.
// ok=false with a nil error means the event is not ours and should be acked.
func (p *WebhookProcessor) decodeSubscription(event stripe.Event) (subscriptionPayload, uuid.UUID, bool, error) {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return sub, uuid.Nil, false, fmt.Errorf("decode subscription: %w", err)
	}
	corr := domain.CorrelationFromMetadata(sub.Metadata)
	alertID, ok := parseID(corr.AlertID)
	if !ok {
		log.Printf("level=warn component=webhook msg=\"subscription event without alert correlation\" type=%s event_id=%s", event.Type, event.ID)
		return sub, uuid.Nil, false, nil
	}
	return sub, alertID, true, nil
}

// decodeInvoice parses an invoice event and resolves its alert id, fetching
// the subscription's metadata from the gateway when the invoice does not
// embed it.
func (p *WebhookProcessor) decodeInvoice(ctx context.Context, event stripe.Event) (invoicePayload, uuid.UUID, bool, error) {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return inv, uuid.Nil, false, fmt.Errorf("decode invoice: %w", err)
	}

	md := inv.metadata()
	corr := domain.CorrelationFromMetadata(md)
	if corr.AlertID == "" {
		subID := inv.subscriptionID()
		if subID == "" {
			log.Printf("level=warn component=webhook msg=\"invoice event without resolvable subscription\" type=%s event_id=%s", event.Type, event.ID)
			return inv, uuid.Nil, false, nil
		}
		fetched, err := p.gateway.GetSubscriptionMetadata(ctx, subID)
		if err != nil {
			// Transient gateway failure: let the gateway redeliver.
			return inv, uuid.Nil, false, fmt.Errorf("resolve invoice subscription %s: %w", subID, err)
		}
		corr = domain.CorrelationFromMetadata(fetched)
	}

	alertID, ok := parseID(corr.AlertID)
	if !ok {
		log.Printf("level=info component=webhook msg=\"invoice for foreign subscription; ignoring\" type=%s event_id=%s", event.Type, event.ID)
		return inv, uuid.Nil, false, nil
	}
	return inv, alertID, true, nil
}
