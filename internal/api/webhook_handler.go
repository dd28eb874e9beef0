/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from
 * the payment gateway. It is the entry point of the authoritative
 * reconciliation path.
 *
 * Key features:
 * - Security: every payload must pass signature verification before any
 *   state mutation is attempted; failures are rejected with 400 and zero
 *   side effects.
 * - Replay handling: a Redis-backed deduper short-circuits recently seen
 *   event ids. Processing itself is idempotent, so the deduper is purely an
 *   optimization and fails open.
 * - Retry semantics: any error while processing a verified event answers
 *   500 so the gateway redelivers; success and ignored events answer 200.
 */
package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/jobforge/payment-service/pkg/stripeclient"
)

const webhookBodyLimit = 1 << 20 // 1MiB

// SignatureVerifier authenticates a raw webhook payload.
// Implemented by stripeclient.Client.
type SignatureVerifier interface {
	VerifyWebhookSignature(payload []byte, signatureHeader string) (stripe.Event, error)
}

// EventProcessor commits the state transitions for a verified event.
// Implemented by app.WebhookProcessor.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event stripe.Event) error
}

// WebhookHandler processes incoming webhooks from the payment gateway.
type WebhookHandler struct {
	verifier  SignatureVerifier
	processor EventProcessor
	deduper   *EventDeduper
}

// NewWebhookHandler creates a new handler for the webhook endpoint. The
// deduper may be nil when Redis is not configured.
func NewWebhookHandler(verifier SignatureVerifier, processor EventProcessor, deduper *EventDeduper) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, processor: processor, deduper: deduper}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=error component=webhook msg=\"cannot read webhook body\" err=%v", err)
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	event, err := h.verifier.VerifyWebhookSignature(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, stripeclient.ErrInvalidSignature) {
			log.Printf("level=warn component=webhook msg=\"rejected webhook with invalid signature\" remote=%s", r.RemoteAddr)
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		log.Printf("level=error component=webhook msg=\"signature verification failed\" err=%v", err)
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	ctx := r.Context()

	if h.deduper != nil && h.deduper.Seen(ctx, event.ID) {
		log.Printf("level=info component=webhook msg=\"duplicate event ignored\" event_id=%s type=%s", event.ID, event.Type)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.processor.ProcessEvent(ctx, event); err != nil {
		// Do not acknowledge: the durable write did not complete, and the
		// gateway will redeliver.
		log.Printf("level=error component=webhook msg=\"event processing failed\" event_id=%s type=%s err=%v", event.ID, event.Type, err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}

	if h.deduper != nil {
		h.deduper.MarkProcessed(ctx, event.ID)
	}

	log.Printf("level=info component=webhook msg=\"event processed\" event_id=%s type=%s duration=%s", event.ID, event.Type, time.Since(startTime))
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
