/**
 * @description
 * This package provides a client for interacting with the Stripe payment
 * gateway. It encapsulates opening one-time charges and recurring
 * subscriptions with correlation metadata attached, re-verifying charges
 * server-side, and verifying webhook signatures.
 *
 * Key features:
 * - Attaches only correlation metadata to gateway objects, never content.
 * - Uses the gateway's idempotency-key support so a double-submitted create
 *   call resolves to the same gateway object.
 * - Bounded HTTP timeouts on every call.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v82: The official Stripe Go SDK.
 */
package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails the
// authenticity check. Callers must reject the event with zero side effects.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrNoConfirmableSecret is returned when the gateway creates a subscription
// whose invoice has no payable secret. This indicates a pricing/plan
// misconfiguration, not a transient failure, and must not be retried.
var ErrNoConfirmableSecret = errors.New("subscription invoice has no confirmable secret")

// Client is a client for the Stripe API.
type Client struct {
	api           *client.API
	webhookSecret string
}

// NewClient creates a new Stripe client with a bounded HTTP timeout.
func NewClient(secretKey, webhookSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	api := &client.API{}
	api.Init(secretKey, stripe.NewBackends(&http.Client{Timeout: timeout}))
	return &Client{api: api, webhookSecret: webhookSecret}
}

// ChargeHandle is the result of opening a one-time charge.
type ChargeHandle struct {
	ClientSecret       string
	GatewayReferenceID string
}

// SubscriptionHandle is the result of opening a recurring subscription.
type SubscriptionHandle struct {
	ClientSecret          string
	GatewaySubscriptionID string
	GatewayCustomerID     string
}

// ChargeVerification is the gateway's own view of a charge, fetched directly
// rather than trusted from the client.
type ChargeVerification struct {
	Succeeded bool
	Metadata  map[string]string
}

// OpenOneTimeCharge creates a payment intent carrying the correlation
// metadata and returns the client-confirmable secret.
func (c *Client) OpenOneTimeCharge(ctx context.Context, amountCents int64, currency string, metadata map[string]string, idempotencyKey string) (*ChargeHandle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.IdempotencyKey = stripe.String(idempotencyKey)
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &ChargeHandle{
		ClientSecret:       pi.ClientSecret,
		GatewayReferenceID: pi.ID,
	}, nil
}

// OpenSubscription creates a customer and an incomplete subscription for the
// given price, carrying the correlation metadata, and returns the secret the
// client confirms the first invoice with.
func (c *Client) OpenSubscription(ctx context.Context, email, priceID string, metadata map[string]string) (*SubscriptionHandle, error) {
	custParams := &stripe.CustomerParams{Email: stripe.String(email)}
	custParams.Context = ctx
	cust, err := c.api.Customers.New(custParams)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}

	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	subParams.Context = ctx
	subParams.AddExpand("latest_invoice.confirmation_secret")
	for k, v := range metadata {
		subParams.AddMetadata(k, v)
	}

	sub, err := c.api.Subscriptions.New(subParams)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	secret := confirmableSecret(sub)
	if secret == "" {
		// Surfaced immediately rather than retried: the price or payment
		// settings are broken, and redelivery cannot fix configuration.
		return nil, fmt.Errorf("%w: subscription %s", ErrNoConfirmableSecret, sub.ID)
	}

	return &SubscriptionHandle{
		ClientSecret:          secret,
		GatewaySubscriptionID: sub.ID,
		GatewayCustomerID:     cust.ID,
	}, nil
}

func confirmableSecret(sub *stripe.Subscription) string {
	if sub == nil || sub.LatestInvoice == nil {
		return ""
	}
	if cs := sub.LatestInvoice.ConfirmationSecret; cs != nil {
		return cs.ClientSecret
	}
	return ""
}

// VerifyCharge fetches the charge from the gateway and reports whether it
// actually succeeded, along with its correlation metadata. The client
// confirmation path must never publish on client-reported success alone.
func (c *Client) VerifyCharge(ctx context.Context, gatewayReferenceID string) (*ChargeVerification, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Get(gatewayReferenceID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment intent: %w", err)
	}
	return &ChargeVerification{
		Succeeded: pi.Status == stripe.PaymentIntentStatusSucceeded,
		Metadata:  pi.Metadata,
	}, nil
}

// GetSubscriptionMetadata fetches the metadata of a gateway subscription.
// Used by the webhook path when an invoice event does not embed the
// correlation itself.
func (c *Client) GetSubscriptionMetadata(ctx context.Context, gatewaySubscriptionID string) (map[string]string, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(gatewaySubscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription: %w", err)
	}
	return sub.Metadata, nil
}

// VerifyWebhookSignature checks the authenticity of an inbound webhook and
// parses it into an event. Every inbound event must pass this check before
// any state mutation is attempted.
func (c *Client) VerifyWebhookSignature(payload []byte, signatureHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}
