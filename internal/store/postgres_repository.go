/**
 * @description
 * This file implements the data access layer for the payment pipeline on
 * PostgreSQL. All state transitions that both confirmation paths contend on
 * are expressed as conditional UPDATEs or ON CONFLICT upserts so they stay
 * idempotent under concurrent and replayed execution.
 *
 * Tables (created via migrations, not here):
 * - staged_submissions(id, payload jsonb, owner_ref, state, gateway_reference_id, created_at, updated_at)
 * - published_jobs(id, staged_submission_id unique, title, company, location,
 *   description, apply_url, salary, owner_ref, status, is_featured,
 *   featured_until, clicks, views, created_at, updated_at)
 * - alert_subscriptions(id, email unique, frequency, state,
 *   gateway_subscription_id, gateway_customer_id, last_payment_failed_at,
 *   created_at, updated_at)
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobforge/payment-service/internal/domain"
)

// PostgresRepository handles database operations for the payment pipeline.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository over the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateStagedSubmission persists a new draft in pending_payment.
func (r *PostgresRepository) CreateStagedSubmission(ctx context.Context, payload json.RawMessage, ownerRef string) (*domain.StagedSubmission, error) {
	sub := domain.StagedSubmission{
		ID:       uuid.New(),
		Payload:  payload,
		OwnerRef: ownerRef,
		State:    domain.StagedStatePendingPayment,
	}
	query := `
        INSERT INTO staged_submissions (id, payload, owner_ref, state, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW(), NOW())
        RETURNING created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query, sub.ID, payload, ownerRef, sub.State).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create staged submission: %w", err)
	}
	return &sub, nil
}

// GetStagedSubmission retrieves a staged submission by id.
func (r *PostgresRepository) GetStagedSubmission(ctx context.Context, id uuid.UUID) (*domain.StagedSubmission, error) {
	var sub domain.StagedSubmission
	query := `
        SELECT id, payload, owner_ref, state, gateway_reference_id, created_at, updated_at
        FROM staged_submissions
        WHERE id = $1
    `
	err := r.db.QueryRow(ctx, query, id).Scan(
		&sub.ID,
		&sub.Payload,
		&sub.OwnerRef,
		&sub.State,
		&sub.GatewayReferenceID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStagedSubmissionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// AttachGatewayRef correlates a staged submission to its gateway object.
// Re-attaching the same reference is a no-op; attaching a different one once
// a reference is set signals a client/server desync and is rejected.
func (r *PostgresRepository) AttachGatewayRef(ctx context.Context, id uuid.UUID, gatewayReferenceID string) error {
	query := `
        UPDATE staged_submissions
        SET gateway_reference_id = $2, updated_at = NOW()
        WHERE id = $1 AND (gateway_reference_id IS NULL OR gateway_reference_id = $2)
        RETURNING id
    `
	var updatedID uuid.UUID
	err := r.db.QueryRow(ctx, query, id, gatewayReferenceID).Scan(&updatedID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("attach gateway ref: %w", err)
	}
	// No row matched: either the id is unknown or the reference differs.
	if _, getErr := r.GetStagedSubmission(ctx, id); getErr != nil {
		return getErr
	}
	return ErrGatewayRefConflict
}

// MarkPaid performs the atomic pending_payment -> paid transition. The WHERE
// clause on state makes the first caller win; every later caller, whatever
// order it arrives in, observes (nil, nil).
func (r *PostgresRepository) MarkPaid(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	query := `
        UPDATE staged_submissions
        SET state = $2, updated_at = NOW()
        WHERE id = $1 AND state = $3
        RETURNING payload
    `
	var payload json.RawMessage
	err := r.db.QueryRow(ctx, query, id, domain.StagedStatePaid, domain.StagedStatePendingPayment).Scan(&payload)
	if err == nil {
		return payload, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mark paid: %w", err)
	}
	sub, getErr := r.GetStagedSubmission(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if sub.State == domain.StagedStatePaid {
		// Already handled by the other path; do not republish.
		return nil, nil
	}
	return nil, fmt.Errorf("mark paid: submission %s is in state %q", id, sub.State)
}

// DeleteExpiredStagedSubmissions garbage-collects drafts that were never paid
// within the TTL. Paid submissions are kept until their published content is
// confirmed durable.
func (r *PostgresRepository) DeleteExpiredStagedSubmissions(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
        DELETE FROM staged_submissions
        WHERE state = $1 AND created_at < NOW() - ($2 * INTERVAL '1 second')
    `
	tag, err := r.db.Exec(ctx, query, domain.StagedStatePendingPayment, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("delete expired staged submissions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PublishJob creates the durable job post from a paid staged payload. The
// unique staged_submission_id column makes the insert itself an idempotent
// upsert: replaying publication after a crash between MarkPaid and the
// insert converges on the same single row.
func (r *PostgresRepository) PublishJob(ctx context.Context, stagedID uuid.UUID, payload json.RawMessage, ownerRef string, featuredUntil time.Time) (*domain.PublishedJob, error) {
	var draft domain.JobDraft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return nil, fmt.Errorf("publish job: decode staged payload: %w", err)
	}

	job := domain.PublishedJob{
		ID:            uuid.New(),
		Title:         draft.Title,
		Company:       draft.Company,
		Location:      draft.Location,
		Description:   draft.Description,
		ApplyURL:      draft.ApplyURL,
		Salary:        draft.Salary,
		OwnerRef:      ownerRef,
		Status:        domain.JobStatusActive,
		IsFeatured:    true,
		FeaturedUntil: featuredUntil,
	}
	query := `
        INSERT INTO published_jobs (
            id, staged_submission_id, title, company, location, description,
            apply_url, salary, owner_ref, status, is_featured, featured_until,
            clicks, views, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, 0, 0, NOW(), NOW())
        ON CONFLICT (staged_submission_id) DO NOTHING
        RETURNING id, created_at
    `
	err := r.db.QueryRow(ctx, query,
		job.ID, stagedID, job.Title, job.Company, job.Location, job.Description,
		job.ApplyURL, job.Salary, job.OwnerRef, job.Status, job.FeaturedUntil,
	).Scan(&job.ID, &job.CreatedAt)
	if err == nil {
		return &job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("publish job: %w", err)
	}

	// Conflict: the job for this staged submission already exists.
	return r.getJobByStagedID(ctx, stagedID)
}

func (r *PostgresRepository) getJobByStagedID(ctx context.Context, stagedID uuid.UUID) (*domain.PublishedJob, error) {
	var job domain.PublishedJob
	query := `
        SELECT id, title, company, location, description, apply_url, salary,
               owner_ref, status, is_featured, featured_until, clicks, views, created_at
        FROM published_jobs
        WHERE staged_submission_id = $1
    `
	err := r.db.QueryRow(ctx, query, stagedID).Scan(
		&job.ID, &job.Title, &job.Company, &job.Location, &job.Description,
		&job.ApplyURL, &job.Salary, &job.OwnerRef, &job.Status, &job.IsFeatured,
		&job.FeaturedUntil, &job.Clicks, &job.Views, &job.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// FeatureJob re-features an existing published job until the given time.
// Re-applying the same featuring window is a no-op at the row level.
func (r *PostgresRepository) FeatureJob(ctx context.Context, jobID uuid.UUID, featuredUntil time.Time) error {
	query := `
        UPDATE published_jobs
        SET is_featured = TRUE,
            featured_until = GREATEST(featured_until, $2),
            status = $3,
            updated_at = NOW()
        WHERE id = $1
        RETURNING id
    `
	var updatedID uuid.UUID
	err := r.db.QueryRow(ctx, query, jobID, featuredUntil, domain.JobStatusActive).Scan(&updatedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrJobNotFound
		}
		return fmt.Errorf("feature job: %w", err)
	}
	return nil
}

// UpsertAlertSubscription creates or re-uses the subscription record for an
// email. An existing active subscription stays active; anything else returns
// to pending_payment until the new checkout completes.
func (r *PostgresRepository) UpsertAlertSubscription(ctx context.Context, email, frequency string) (*domain.AlertSubscription, error) {
	var sub domain.AlertSubscription
	query := `
        INSERT INTO alert_subscriptions (id, email, frequency, state, created_at, updated_at)
        VALUES ($1, $2, $3, $4, NOW(), NOW())
        ON CONFLICT (email) DO UPDATE SET
            frequency = EXCLUDED.frequency,
            state = CASE
                WHEN alert_subscriptions.state = 'active' THEN 'active'
                ELSE EXCLUDED.state
            END,
            updated_at = NOW()
        RETURNING id, email, frequency, state, gateway_subscription_id, gateway_customer_id, last_payment_failed_at, created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query, uuid.New(), email, frequency, domain.AlertStatePendingPayment).Scan(
		&sub.ID, &sub.Email, &sub.Frequency, &sub.State,
		&sub.GatewaySubscriptionID, &sub.GatewayCustomerID,
		&sub.LastPaymentFailedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert alert subscription: %w", err)
	}
	return &sub, nil
}

// GetAlertSubscription retrieves an alert subscription by id.
func (r *PostgresRepository) GetAlertSubscription(ctx context.Context, id uuid.UUID) (*domain.AlertSubscription, error) {
	var sub domain.AlertSubscription
	query := `
        SELECT id, email, frequency, state, gateway_subscription_id, gateway_customer_id, last_payment_failed_at, created_at, updated_at
        FROM alert_subscriptions
        WHERE id = $1
    `
	err := r.db.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.Email, &sub.Frequency, &sub.State,
		&sub.GatewaySubscriptionID, &sub.GatewayCustomerID,
		&sub.LastPaymentFailedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// SetAlertGatewayRefs refreshes gateway bookkeeping fields without touching
// the subscription state. Used for subscription.updated events and when a new
// gateway subscription is opened against an existing record.
func (r *PostgresRepository) SetAlertGatewayRefs(ctx context.Context, id uuid.UUID, gatewaySubscriptionID, gatewayCustomerID string) error {
	query := `
        UPDATE alert_subscriptions
        SET gateway_subscription_id = COALESCE(NULLIF($2, ''), gateway_subscription_id),
            gateway_customer_id = COALESCE(NULLIF($3, ''), gateway_customer_id),
            updated_at = NOW()
        WHERE id = $1
        RETURNING id
    `
	return r.scanAlertID(ctx, query, id, gatewaySubscriptionID, gatewayCustomerID)
}

// ActivateAlertSubscription sets the subscription active and clears any
// at-risk flag. Activating an already-active subscription is a success, not
// a conflict; the statement is written so replays and out-of-order
// deliveries converge on the same row.
func (r *PostgresRepository) ActivateAlertSubscription(ctx context.Context, id uuid.UUID, gatewaySubscriptionID, gatewayCustomerID string) error {
	query := `
        UPDATE alert_subscriptions
        SET state = 'active',
            frequency = 'realtime',
            gateway_subscription_id = COALESCE(NULLIF($2, ''), gateway_subscription_id),
            gateway_customer_id = COALESCE(NULLIF($3, ''), gateway_customer_id),
            last_payment_failed_at = NULL,
            updated_at = NOW()
        WHERE id = $1
        RETURNING id
    `
	return r.scanAlertID(ctx, query, id, gatewaySubscriptionID, gatewayCustomerID)
}

// RecordAlertPaymentFailure flags a subscription whose recurring invoice
// failed. The state is left untouched: the gateway retries the invoice on
// its own schedule, and a stale failure delivered after the success that
// superseded it must not demote an active subscription.
func (r *PostgresRepository) RecordAlertPaymentFailure(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE alert_subscriptions
        SET last_payment_failed_at = NOW(), updated_at = NOW()
        WHERE id = $1
        RETURNING id
    `
	return r.scanAlertID(ctx, query, id)
}

// CancelAlertSubscription downgrades a subscription to the free tier.
func (r *PostgresRepository) CancelAlertSubscription(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE alert_subscriptions
        SET state = 'cancelled', frequency = 'weekly', updated_at = NOW()
        WHERE id = $1
        RETURNING id
    `
	return r.scanAlertID(ctx, query, id)
}

func (r *PostgresRepository) scanAlertID(ctx context.Context, query string, id uuid.UUID, args ...any) error {
	queryArgs := append([]any{id}, args...)
	var updatedID uuid.UUID
	err := r.db.QueryRow(ctx, query, queryArgs...).Scan(&updatedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAlertSubscriptionNotFound
		}
		return err
	}
	return nil
}
