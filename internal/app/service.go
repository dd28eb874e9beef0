/**
 * @description
 * This file contains the core business logic for the payment pipeline: the
 * staging of not-yet-paid drafts, opening gateway charges and subscriptions
 * against them, and the synchronous client-side confirmation path.
 *
 * The client confirmation path exists purely for responsiveness. Correctness
 * never depends on it running: the webhook reconciliation path (webhook.go)
 * is the system of record and commits the same transitions independently.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jobforge/payment-service/internal/domain"
	"github.com/jobforge/payment-service/internal/store"
	"github.com/jobforge/payment-service/pkg/stripeclient"
)

// Gateway defines the payment-gateway operations the pipeline needs.
// Implemented by stripeclient.Client; stubbed in tests.
type Gateway interface {
	OpenOneTimeCharge(ctx context.Context, amountCents int64, currency string, metadata map[string]string, idempotencyKey string) (*stripeclient.ChargeHandle, error)
	OpenSubscription(ctx context.Context, email, priceID string, metadata map[string]string) (*stripeclient.SubscriptionHandle, error)
	VerifyCharge(ctx context.Context, gatewayReferenceID string) (*stripeclient.ChargeVerification, error)
	GetSubscriptionMetadata(ctx context.Context, gatewaySubscriptionID string) (map[string]string, error)
}

// EventPublisher publishes internal events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Settings carries the business configuration the service needs.
type Settings struct {
	JobPostAmountCents   int64
	Currency             string
	RealtimeAlertPriceID string
	VerifyTimeout        time.Duration
	EventsExchange       string
	AdminAccounts        []string
}

// Service provides the staging and client-side confirmation logic.
type Service struct {
	repo      store.Repository
	gateway   Gateway
	lifecycle *SubscriptionLifecycle
	events    EventPublisher
	settings  Settings
}

// NewService creates a new payment service.
func NewService(repo store.Repository, gateway Gateway, lifecycle *SubscriptionLifecycle, events EventPublisher, settings Settings) *Service {
	if settings.Currency == "" {
		settings.Currency = "usd"
	}
	if settings.VerifyTimeout <= 0 {
		settings.VerifyTimeout = 10 * time.Second
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		lifecycle: lifecycle,
		events:    events,
		settings:  settings,
	}
}

// CreateIntentResult is returned when a job draft is staged and a charge is
// opened against it. For privileged owners the draft is published directly
// and no charge exists.
type CreateIntentResult struct {
	ClientSecret       string               `json:"client_secret,omitempty"`
	GatewayReferenceID string               `json:"gateway_reference_id,omitempty"`
	StagedSubmissionID string               `json:"staged_submission_id"`
	Job                *domain.PublishedJob `json:"job,omitempty"`
}

// CreateJobPaymentIntent stages a job draft and opens a one-time charge
// referencing it. Only the staged id rides in gateway metadata; the payload
// stays in the staging store.
func (s *Service) CreateJobPaymentIntent(ctx context.Context, payload json.RawMessage, ownerRef, purpose string) (*CreateIntentResult, error) {
	if purpose == "" {
		purpose = domain.PurposeNewJob
	}
	if purpose != domain.PurposeNewJob && purpose != domain.PurposePromoteJob {
		return nil, &domain.ValidationError{Field: "purpose", Reason: "must be new_job or promote_job"}
	}
	if err := domain.ValidateJobPayload(payload, purpose); err != nil {
		return nil, err
	}

	staged, err := s.repo.CreateStagedSubmission(ctx, payload, ownerRef)
	if err != nil {
		return nil, fmt.Errorf("stage submission: %w", err)
	}

	corr := domain.PaymentCorrelation{
		Purpose:            purpose,
		StagedSubmissionID: staged.ID.String(),
		OwnerRef:           ownerRef,
	}

	// Board operators post without a charge; publication still flows through
	// the same idempotent transition.
	if IsPrivileged(ownerRef, s.settings.AdminAccounts) {
		stagedPayload, err := s.repo.MarkPaid(ctx, staged.ID)
		if err != nil {
			return nil, err
		}
		job, err := commitStagedJob(ctx, s.repo, s.events, s.settings.EventsExchange, staged.ID, stagedPayload, corr)
		if err != nil {
			return nil, err
		}
		return &CreateIntentResult{StagedSubmissionID: staged.ID.String(), Job: job}, nil
	}

	handle, err := s.gateway.OpenOneTimeCharge(ctx, s.settings.JobPostAmountCents, s.settings.Currency, corr.Metadata(), "staged:"+staged.ID.String())
	if err != nil {
		return nil, fmt.Errorf("open charge: %w", err)
	}
	if err := s.repo.AttachGatewayRef(ctx, staged.ID, handle.GatewayReferenceID); err != nil {
		return nil, err
	}

	return &CreateIntentResult{
		ClientSecret:       handle.ClientSecret,
		GatewayReferenceID: handle.GatewayReferenceID,
		StagedSubmissionID: staged.ID.String(),
	}, nil
}

// ConfirmResult is the outcome of the client-side confirmation path.
type ConfirmResult struct {
	Success bool `json:"success"`
	// AlreadyHandled reports that the webhook path committed first. Still a
	// success from the caller's perspective.
	AlreadyHandled bool                 `json:"already_handled,omitempty"`
	Job            *domain.PublishedJob `json:"job,omitempty"`
}

// ConfirmPayment is the synchronous confirmation path, invoked by the paying
// client right after the payment UI reports success. It re-verifies the
// charge with the gateway directly and then commits the staged content.
func (s *Service) ConfirmPayment(ctx context.Context, gatewayReferenceID string) (*ConfirmResult, error) {
	verifyCtx, cancel := context.WithTimeout(ctx, s.settings.VerifyTimeout)
	defer cancel()

	ver, err := s.gateway.VerifyCharge(verifyCtx, gatewayReferenceID)
	if err != nil {
		// A verification timeout must not be treated as payment failure: the
		// webhook path remains the source of truth, so fail soft.
		if isTimeout(err) {
			return nil, domain.ErrConfirmationPending
		}
		return nil, fmt.Errorf("verify charge: %w", err)
	}
	if !ver.Succeeded {
		return nil, domain.ErrPaymentNotCompleted
	}

	corr := domain.CorrelationFromMetadata(ver.Metadata)

	if corr.Purpose == domain.PurposeRealtimeAlert {
		alertID, ok := parseID(corr.AlertID)
		if !ok {
			return nil, domain.ErrMissingCorrelation
		}
		if err := s.lifecycle.Activate(ctx, alertID, "", ""); err != nil {
			return nil, err
		}
		return &ConfirmResult{Success: true}, nil
	}

	stagedID, ok := parseID(corr.StagedSubmissionID)
	if !ok {
		return nil, domain.ErrMissingCorrelation
	}

	payload, err := s.repo.MarkPaid(ctx, stagedID)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		// The webhook path already committed. Do not publish again and do
		// not error.
		return &ConfirmResult{Success: true, AlreadyHandled: true}, nil
	}

	job, err := commitStagedJob(ctx, s.repo, s.events, s.settings.EventsExchange, stagedID, payload, corr)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Success: true, Job: job}, nil
}

// SubscriptionResult is returned when a realtime alert subscription is
// opened.
type SubscriptionResult struct {
	ClientSecret   string `json:"client_secret"`
	SubscriptionID string `json:"subscription_id"`
}

// CreateRealtimeSubscription stages (or re-uses) the alert record for an
// email and opens a recurring gateway subscription against it. The record
// stays pending until a confirmation path activates it.
func (s *Service) CreateRealtimeSubscription(ctx context.Context, email string) (*SubscriptionResult, error) {
	if err := domain.ValidateAlertEmail(email); err != nil {
		return nil, err
	}

	sub, err := s.repo.UpsertAlertSubscription(ctx, email, domain.FrequencyRealtime)
	if err != nil {
		return nil, err
	}

	corr := domain.PaymentCorrelation{
		Purpose:  domain.PurposeRealtimeAlert,
		AlertID:  sub.ID.String(),
		OwnerRef: email,
	}
	handle, err := s.gateway.OpenSubscription(ctx, email, s.settings.RealtimeAlertPriceID, corr.Metadata())
	if err != nil {
		if errors.Is(err, stripeclient.ErrNoConfirmableSecret) {
			// Pricing/plan misconfiguration; retrying cannot fix it.
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayMisconfigured, err)
		}
		return nil, fmt.Errorf("open subscription: %w", err)
	}
	if err := s.repo.SetAlertGatewayRefs(ctx, sub.ID, handle.GatewaySubscriptionID, handle.GatewayCustomerID); err != nil {
		return nil, err
	}

	return &SubscriptionResult{
		ClientSecret:   handle.ClientSecret,
		SubscriptionID: sub.ID.String(),
	}, nil
}

// PurgeExpiredStagedSubmissions garbage-collects drafts that were never paid
// within the TTL.
func (s *Service) PurgeExpiredStagedSubmissions(ctx context.Context, ttl time.Duration) {
	deleted, err := s.repo.DeleteExpiredStagedSubmissions(ctx, ttl)
	if err != nil {
		log.Printf("level=warn component=service msg=\"staging GC failed\" err=%v", err)
		return
	}
	if deleted > 0 {
		log.Printf("level=info component=service msg=\"purged expired staged submissions\" count=%d", deleted)
	}
}

// commitStagedJob turns a freshly paid staged payload into durable content.
// For new_job the payload becomes a featured PublishedJob; for promote_job it
// references an existing job to re-feature. Shared by both confirmation
// paths, and only ever reached by the MarkPaid winner.
func commitStagedJob(ctx context.Context, repo store.Repository, events EventPublisher, exchange string, stagedID uuid.UUID, payload json.RawMessage, corr domain.PaymentCorrelation) (*domain.PublishedJob, error) {
	if payload == nil {
		return nil, nil
	}
	featuredUntil := time.Now().AddDate(0, 0, domain.FeaturedDurationDays)

	if corr.Purpose == domain.PurposePromoteJob {
		var draft domain.JobDraft
		if err := json.Unmarshal(payload, &draft); err != nil {
			return nil, fmt.Errorf("decode promote payload: %w", err)
		}
		jobID, ok := parseID(draft.JobID)
		if !ok {
			return nil, &domain.ValidationError{Field: "job_id", Reason: "is not a valid id"}
		}
		if err := repo.FeatureJob(ctx, jobID, featuredUntil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	ownerRef := corr.OwnerRef
	if ownerRef == "" {
		staged, err := repo.GetStagedSubmission(ctx, stagedID)
		if err != nil {
			return nil, err
		}
		ownerRef = staged.OwnerRef
	}

	job, err := repo.PublishJob(ctx, stagedID, payload, ownerRef, featuredUntil)
	if err != nil {
		return nil, err
	}

	if events != nil {
		evt := domain.JobPublishedEvent{
			JobID:         job.ID.String(),
			OwnerRef:      job.OwnerRef,
			Title:         job.Title,
			FeaturedUntil: job.FeaturedUntil,
			PublishedAt:   job.CreatedAt,
		}
		if err := events.Publish(ctx, exchange, "job.published", evt); err != nil {
			log.Printf("level=warn component=service msg=\"failed to publish job event\" job_id=%s err=%v", job.ID, err)
		}
	}
	return job, nil
}

// IsPrivileged reports whether an identity belongs to the configured board
// operators. Pure function over the configured list, independent of the
// reconciliation core.
func IsPrivileged(ownerRef string, admins []string) bool {
	candidate := strings.ToLower(strings.TrimSpace(ownerRef))
	if candidate == "" {
		return false
	}
	for _, admin := range admins {
		if candidate == strings.ToLower(strings.TrimSpace(admin)) {
			return true
		}
	}
	return false
}

func parseID(raw string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
