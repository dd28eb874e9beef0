/**
 * @description
 * This file defines the repository contract for the payment pipeline and the
 * sentinel errors callers branch on. The concrete implementation lives in
 * postgres_repository.go; tests stub this interface.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jobforge/payment-service/internal/domain"
)

var (
	// ErrStagedSubmissionNotFound is returned when a staged id is unknown.
	ErrStagedSubmissionNotFound = errors.New("staged submission not found")

	// ErrGatewayRefConflict is returned when a staged submission is already
	// correlated to a different gateway reference. A staged submission is
	// correlated to exactly one gateway object for its lifetime.
	ErrGatewayRefConflict = errors.New("staged submission already correlated to a different gateway reference")

	// ErrAlertSubscriptionNotFound is returned when an alert id is unknown.
	ErrAlertSubscriptionNotFound = errors.New("alert subscription not found")

	// ErrJobNotFound is returned when a published job id is unknown.
	ErrJobNotFound = errors.New("published job not found")
)

// Repository is the storage contract both confirmation paths rely on. The
// store must provide conditional-update semantics for MarkPaid: the two paths
// may run truly concurrently on different machines, and the pending -> paid
// transition is the only point of contention between them.
type Repository interface {
	// Staging store.
	CreateStagedSubmission(ctx context.Context, payload json.RawMessage, ownerRef string) (*domain.StagedSubmission, error)
	GetStagedSubmission(ctx context.Context, id uuid.UUID) (*domain.StagedSubmission, error)
	AttachGatewayRef(ctx context.Context, id uuid.UUID, gatewayReferenceID string) error
	// MarkPaid transitions pending_payment -> paid and returns the payload for
	// publication. When the submission is already paid it returns (nil, nil):
	// the "already handled, do not republish" signal, not an error.
	MarkPaid(ctx context.Context, id uuid.UUID) (json.RawMessage, error)
	DeleteExpiredStagedSubmissions(ctx context.Context, olderThan time.Duration) (int64, error)

	// Published jobs.
	PublishJob(ctx context.Context, stagedID uuid.UUID, payload json.RawMessage, ownerRef string, featuredUntil time.Time) (*domain.PublishedJob, error)
	FeatureJob(ctx context.Context, jobID uuid.UUID, featuredUntil time.Time) error

	// Alert subscriptions.
	UpsertAlertSubscription(ctx context.Context, email, frequency string) (*domain.AlertSubscription, error)
	GetAlertSubscription(ctx context.Context, id uuid.UUID) (*domain.AlertSubscription, error)
	SetAlertGatewayRefs(ctx context.Context, id uuid.UUID, gatewaySubscriptionID, gatewayCustomerID string) error
	ActivateAlertSubscription(ctx context.Context, id uuid.UUID, gatewaySubscriptionID, gatewayCustomerID string) error
	// RecordAlertPaymentFailure flags the subscription as at risk without
	// changing its state: invoice failure notifications may arrive after the
	// success that superseded them, and the gateway keeps retrying on its own.
	RecordAlertPaymentFailure(ctx context.Context, id uuid.UUID) error
	CancelAlertSubscription(ctx context.Context, id uuid.UUID) error
}
