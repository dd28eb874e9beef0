package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobforge/payment-service/internal/domain"
	"github.com/jobforge/payment-service/internal/store"
	"github.com/jobforge/payment-service/pkg/stripeclient"
)

// memRepo is an in-memory store.Repository with the same conditional-update
// semantics the Postgres implementation provides. The mutex stands in for
// the store's atomic conditional writes, which is exactly what the race
// tests exercise.
type memRepo struct {
	mu            sync.Mutex
	staged        map[uuid.UUID]*domain.StagedSubmission
	jobs          map[uuid.UUID]*domain.PublishedJob
	jobsByStaged  map[uuid.UUID]uuid.UUID
	alerts        map[uuid.UUID]*domain.AlertSubscription
	alertsByEmail map[string]uuid.UUID
}

func newMemRepo() *memRepo {
	return &memRepo{
		staged:        make(map[uuid.UUID]*domain.StagedSubmission),
		jobs:          make(map[uuid.UUID]*domain.PublishedJob),
		jobsByStaged:  make(map[uuid.UUID]uuid.UUID),
		alerts:        make(map[uuid.UUID]*domain.AlertSubscription),
		alertsByEmail: make(map[string]uuid.UUID),
	}
}

var _ store.Repository = (*memRepo)(nil)

func (m *memRepo) CreateStagedSubmission(ctx context.Context, payload json.RawMessage, ownerRef string) (*domain.StagedSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &domain.StagedSubmission{
		ID:        uuid.New(),
		Payload:   payload,
		OwnerRef:  ownerRef,
		State:     domain.StagedStatePendingPayment,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.staged[sub.ID] = sub
	return sub, nil
}

func (m *memRepo) GetStagedSubmission(ctx context.Context, id uuid.UUID) (*domain.StagedSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.staged[id]
	if !ok {
		return nil, store.ErrStagedSubmissionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (m *memRepo) AttachGatewayRef(ctx context.Context, id uuid.UUID, gatewayReferenceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.staged[id]
	if !ok {
		return store.ErrStagedSubmissionNotFound
	}
	if sub.GatewayReferenceID != nil && *sub.GatewayReferenceID != gatewayReferenceID {
		return store.ErrGatewayRefConflict
	}
	sub.GatewayReferenceID = &gatewayReferenceID
	return nil
}

func (m *memRepo) MarkPaid(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.staged[id]
	if !ok {
		return nil, store.ErrStagedSubmissionNotFound
	}
	if sub.State == domain.StagedStatePaid {
		return nil, nil
	}
	sub.State = domain.StagedStatePaid
	return sub.Payload, nil
}

func (m *memRepo) DeleteExpiredStagedSubmissions(ctx context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	cutoff := time.Now().Add(-olderThan)
	for id, sub := range m.staged {
		if sub.State == domain.StagedStatePendingPayment && sub.CreatedAt.Before(cutoff) {
			delete(m.staged, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memRepo) PublishJob(ctx context.Context, stagedID uuid.UUID, payload json.RawMessage, ownerRef string, featuredUntil time.Time) (*domain.PublishedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID, ok := m.jobsByStaged[stagedID]; ok {
		copied := *m.jobs[existingID]
		return &copied, nil
	}
	var draft domain.JobDraft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return nil, err
	}
	job := &domain.PublishedJob{
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
		CreatedAt:     time.Now(),
	}
	m.jobs[job.ID] = job
	m.jobsByStaged[stagedID] = job.ID
	return job, nil
}

func (m *memRepo) FeatureJob(ctx context.Context, jobID uuid.UUID, featuredUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return store.ErrJobNotFound
	}
	job.IsFeatured = true
	if featuredUntil.After(job.FeaturedUntil) {
		job.FeaturedUntil = featuredUntil
	}
	job.Status = domain.JobStatusActive
	return nil
}

func (m *memRepo) UpsertAlertSubscription(ctx context.Context, email, frequency string) (*domain.AlertSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.alertsByEmail[email]; ok {
		sub := m.alerts[id]
		sub.Frequency = frequency
		if sub.State != domain.AlertStateActive {
			sub.State = domain.AlertStatePendingPayment
		}
		copied := *sub
		return &copied, nil
	}
	sub := &domain.AlertSubscription{
		ID:        uuid.New(),
		Email:     email,
		Frequency: frequency,
		State:     domain.AlertStatePendingPayment,
		CreatedAt: time.Now(),
	}
	m.alerts[sub.ID] = sub
	m.alertsByEmail[email] = sub.ID
	copied := *sub
	return &copied, nil
}

func (m *memRepo) GetAlertSubscription(ctx context.Context, id uuid.UUID) (*domain.AlertSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.alerts[id]
	if !ok {
		return nil, store.ErrAlertSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (m *memRepo) SetAlertGatewayRefs(ctx context.Context, id uuid.UUID, gatewaySubscriptionID, gatewayCustomerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.alerts[id]
	if !ok {
		return store.ErrAlertSubscriptionNotFound
	}
	if gatewaySubscriptionID != "" {
		sub.GatewaySubscriptionID = &gatewaySubscriptionID
	}
	if gatewayCustomerID != "" {
		sub.GatewayCustomerID = &gatewayCustomerID
	}
	return nil
}

func (m *memRepo) ActivateAlertSubscription(ctx context.Context, id uuid.UUID, gatewaySubscriptionID, gatewayCustomerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.alerts[id]
	if !ok {
		return store.ErrAlertSubscriptionNotFound
	}
	sub.State = domain.AlertStateActive
	sub.Frequency = domain.FrequencyRealtime
	sub.LastPaymentFailedAt = nil
	if gatewaySubscriptionID != "" {
		sub.GatewaySubscriptionID = &gatewaySubscriptionID
	}
	if gatewayCustomerID != "" {
		sub.GatewayCustomerID = &gatewayCustomerID
	}
	return nil
}

func (m *memRepo) RecordAlertPaymentFailure(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.alerts[id]
	if !ok {
		return store.ErrAlertSubscriptionNotFound
	}
	now := time.Now()
	sub.LastPaymentFailedAt = &now
	return nil
}

func (m *memRepo) CancelAlertSubscription(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.alerts[id]
	if !ok {
		return store.ErrAlertSubscriptionNotFound
	}
	sub.State = domain.AlertStateCancelled
	sub.Frequency = domain.FrequencyWeekly
	return nil
}

func (m *memRepo) jobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *memRepo) firstJob() *domain.PublishedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		copied := *job
		return &copied
	}
	return nil
}

// stubGateway is a test double for the payment gateway.
type stubGateway struct {
	verifyFn      func(ctx context.Context, id string) (*stripeclient.ChargeVerification, error)
	openChargeFn  func(ctx context.Context, amountCents int64, currency string, metadata map[string]string, idempotencyKey string) (*stripeclient.ChargeHandle, error)
	openSubFn     func(ctx context.Context, email, priceID string, metadata map[string]string) (*stripeclient.SubscriptionHandle, error)
	subMetadataFn func(ctx context.Context, id string) (map[string]string, error)
}

func (g *stubGateway) OpenOneTimeCharge(ctx context.Context, amountCents int64, currency string, metadata map[string]string, idempotencyKey string) (*stripeclient.ChargeHandle, error) {
	if g.openChargeFn != nil {
		return g.openChargeFn(ctx, amountCents, currency, metadata, idempotencyKey)
	}
	return &stripeclient.ChargeHandle{ClientSecret: "cs_test", GatewayReferenceID: "pi_test"}, nil
}

func (g *stubGateway) OpenSubscription(ctx context.Context, email, priceID string, metadata map[string]string) (*stripeclient.SubscriptionHandle, error) {
	if g.openSubFn != nil {
		return g.openSubFn(ctx, email, priceID, metadata)
	}
	return &stripeclient.SubscriptionHandle{ClientSecret: "cs_sub_test", GatewaySubscriptionID: "sub_test", GatewayCustomerID: "cus_test"}, nil
}

func (g *stubGateway) VerifyCharge(ctx context.Context, gatewayReferenceID string) (*stripeclient.ChargeVerification, error) {
	if g.verifyFn != nil {
		return g.verifyFn(ctx, gatewayReferenceID)
	}
	return &stripeclient.ChargeVerification{Succeeded: true}, nil
}

func (g *stubGateway) GetSubscriptionMetadata(ctx context.Context, gatewaySubscriptionID string) (map[string]string, error) {
	if g.subMetadataFn != nil {
		return g.subMetadataFn(ctx, gatewaySubscriptionID)
	}
	return nil, nil
}

// recordingPublisher captures published broker events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}
