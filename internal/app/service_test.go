package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jobforge/payment-service/internal/domain"
	"github.com/jobforge/payment-service/pkg/stripeclient"
)

func testSettings() Settings {
	return Settings{
		JobPostAmountCents:   9900,
		Currency:             "usd",
		RealtimeAlertPriceID: "price_test",
		VerifyTimeout:        5 * time.Second,
		EventsExchange:       "content_events",
	}
}

func newTestService(repo *memRepo, gateway *stubGateway) (*Service, *recordingPublisher) {
	events := &recordingPublisher{}
	lifecycle := NewSubscriptionLifecycle(repo, events, "content_events")
	return NewService(repo, gateway, lifecycle, events, testSettings()), events
}

func validJobPayload() json.RawMessage {
	return json.RawMessage(`{"title":"Backend Engineer","company":"Acme","description":"Build things"}`)
}

func TestCreateJobPaymentIntent(t *testing.T) {
	t.Run("stages draft and opens charge", func(t *testing.T) {
		repo := newMemRepo()
		var gotMetadata map[string]string
		var gotKey string
		gateway := &stubGateway{
			openChargeFn: func(ctx context.Context, amountCents int64, currency string, metadata map[string]string, idempotencyKey string) (*stripeclient.ChargeHandle, error) {
				if amountCents != 9900 {
					t.Errorf("amountCents = %d, want 9900", amountCents)
				}
				gotMetadata = metadata
				gotKey = idempotencyKey
				return &stripeclient.ChargeHandle{ClientSecret: "cs_123", GatewayReferenceID: "pi_123"}, nil
			},
		}
		svc, _ := newTestService(repo, gateway)

		res, err := svc.CreateJobPaymentIntent(context.Background(), validJobPayload(), "owner-1", "")
		if err != nil {
			t.Fatalf("CreateJobPaymentIntent() error = %v", err)
		}
		if res.ClientSecret != "cs_123" {
			t.Errorf("ClientSecret = %q, want cs_123", res.ClientSecret)
		}
		if gotMetadata["staged_submission_id"] != res.StagedSubmissionID {
			t.Errorf("metadata staged id = %q, want %q", gotMetadata["staged_submission_id"], res.StagedSubmissionID)
		}
		if gotMetadata["purpose"] != domain.PurposeNewJob {
			t.Errorf("metadata purpose = %q, want new_job", gotMetadata["purpose"])
		}
		if gotKey != "staged:"+res.StagedSubmissionID {
			t.Errorf("idempotency key = %q", gotKey)
		}
		if repo.jobCount() != 0 {
			t.Errorf("jobs published before payment: %d", repo.jobCount())
		}
	})

	t.Run("rejects incomplete draft before any gateway call", func(t *testing.T) {
		repo := newMemRepo()
		gateway := &stubGateway{
			openChargeFn: func(ctx context.Context, amountCents int64, currency string, metadata map[string]string, idempotencyKey string) (*stripeclient.ChargeHandle, error) {
				t.Fatal("gateway must not be called for an invalid draft")
				return nil, nil
			},
		}
		svc, _ := newTestService(repo, gateway)

		_, err := svc.CreateJobPaymentIntent(context.Background(), json.RawMessage(`{"title":"Only a title"}`), "owner-1", domain.PurposeNewJob)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("error = %v, want ValidationError", err)
		}
		if verr.Field != "company" {
			t.Errorf("ValidationError.Field = %q, want company", verr.Field)
		}
	})

	t.Run("rejects unknown purpose", func(t *testing.T) {
		repo := newMemRepo()
		svc, _ := newTestService(repo, &stubGateway{})
		_, err := svc.CreateJobPaymentIntent(context.Background(), validJobPayload(), "owner-1", "gift_card")
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("error = %v, want ValidationError", err)
		}
	})

	t.Run("privileged owner publishes without a charge", func(t *testing.T) {
		repo := newMemRepo()
		gateway := &stubGateway{
			openChargeFn: func(ctx context.Context, amountCents int64, currency string, metadata map[string]string, idempotencyKey string) (*stripeclient.ChargeHandle, error) {
				t.Fatal("gateway must not be called for a privileged owner")
				return nil, nil
			},
		}
		events := &recordingPublisher{}
		lifecycle := NewSubscriptionLifecycle(repo, events, "content_events")
		settings := testSettings()
		settings.AdminAccounts = []string{"admin@board.test"}
		svc := NewService(repo, gateway, lifecycle, events, settings)

		res, err := svc.CreateJobPaymentIntent(context.Background(), validJobPayload(), "Admin@Board.Test", "")
		if err != nil {
			t.Fatalf("CreateJobPaymentIntent() error = %v", err)
		}
		if res.Job == nil {
			t.Fatal("expected a published job for privileged owner")
		}
		if res.ClientSecret != "" {
			t.Errorf("privileged result carries a client secret: %q", res.ClientSecret)
		}
		if repo.jobCount() != 1 {
			t.Errorf("jobCount = %d, want 1", repo.jobCount())
		}
	})
}

func TestConfirmPayment(t *testing.T) {
	stage := func(t *testing.T, repo *memRepo) *domain.StagedSubmission {
		t.Helper()
		staged, err := repo.CreateStagedSubmission(context.Background(), validJobPayload(), "owner-1")
		if err != nil {
			t.Fatalf("stage: %v", err)
		}
		return staged
	}

	t.Run("publishes exactly once on verified success", func(t *testing.T) {
		repo := newMemRepo()
		staged := stage(t, repo)
		gateway := &stubGateway{
			verifyFn: func(ctx context.Context, id string) (*stripeclient.ChargeVerification, error) {
				return &stripeclient.ChargeVerification{
					Succeeded: true,
					Metadata: domain.PaymentCorrelation{
						Purpose:            domain.PurposeNewJob,
						StagedSubmissionID: staged.ID.String(),
						OwnerRef:           "owner-1",
					}.Metadata(),
				}, nil
			},
		}
		svc, events := newTestService(repo, gateway)

		res, err := svc.ConfirmPayment(context.Background(), "pi_123")
		if err != nil {
			t.Fatalf("ConfirmPayment() error = %v", err)
		}
		if !res.Success || res.AlreadyHandled {
			t.Fatalf("result = %+v, want fresh success", res)
		}
		if res.Job == nil || res.Job.Title != "Backend Engineer" {
			t.Fatalf("Job = %+v", res.Job)
		}
		if repo.jobCount() != 1 {
			t.Errorf("jobCount = %d, want 1", repo.jobCount())
		}
		if len(events.events) != 1 || events.events[0] != "job.published" {
			t.Errorf("broker events = %v, want [job.published]", events.events)
		}

		// A second confirmation is acknowledged without a second publish.
		res2, err := svc.ConfirmPayment(context.Background(), "pi_123")
		if err != nil {
			t.Fatalf("second ConfirmPayment() error = %v", err)
		}
		if !res2.Success || !res2.AlreadyHandled {
			t.Fatalf("second result = %+v, want already handled", res2)
		}
		if repo.jobCount() != 1 {
			t.Errorf("jobCount after replay = %d, want 1", repo.jobCount())
		}
	})

	t.Run("unsuccessful charge yields ErrPaymentNotCompleted", func(t *testing.T) {
		repo := newMemRepo()
		staged := stage(t, repo)
		gateway := &stubGateway{
			verifyFn: func(ctx context.Context, id string) (*stripeclient.ChargeVerification, error) {
				return &stripeclient.ChargeVerification{Succeeded: false}, nil
			},
		}
		svc, _ := newTestService(repo, gateway)

		_, err := svc.ConfirmPayment(context.Background(), "pi_123")
		if !errors.Is(err, domain.ErrPaymentNotCompleted) {
			t.Fatalf("error = %v, want ErrPaymentNotCompleted", err)
		}
		got, err := repo.GetStagedSubmission(context.Background(), staged.ID)
		if err != nil {
			t.Fatalf("GetStagedSubmission: %v", err)
		}
		if got.State != domain.StagedStatePendingPayment {
			t.Errorf("staged state = %q, want pending_payment", got.State)
		}
	})

	t.Run("verification timeout fails soft", func(t *testing.T) {
		repo := newMemRepo()
		gateway := &stubGateway{
			verifyFn: func(ctx context.Context, id string) (*stripeclient.ChargeVerification, error) {
				return nil, context.DeadlineExceeded
			},
		}
		svc, _ := newTestService(repo, gateway)

		_, err := svc.ConfirmPayment(context.Background(), "pi_123")
		if !errors.Is(err, domain.ErrConfirmationPending) {
			t.Fatalf("error = %v, want ErrConfirmationPending", err)
		}
	})

	t.Run("succeeded charge without correlation", func(t *testing.T) {
		repo := newMemRepo()
		gateway := &stubGateway{
			verifyFn: func(ctx context.Context, id string) (*stripeclient.ChargeVerification, error) {
				return &stripeclient.ChargeVerification{Succeeded: true, Metadata: map[string]string{"purpose": domain.PurposeNewJob}}, nil
			},
		}
		svc, _ := newTestService(repo, gateway)

		_, err := svc.ConfirmPayment(context.Background(), "pi_123")
		if !errors.Is(err, domain.ErrMissingCorrelation) {
			t.Fatalf("error = %v, want ErrMissingCorrelation", err)
		}
	})

	t.Run("realtime alert purpose activates the subscription", func(t *testing.T) {
		repo := newMemRepo()
		sub, err := repo.UpsertAlertSubscription(context.Background(), "sub@example.com", domain.FrequencyRealtime)
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		gateway := &stubGateway{
			verifyFn: func(ctx context.Context, id string) (*stripeclient.ChargeVerification, error) {
				return &stripeclient.ChargeVerification{
					Succeeded: true,
					Metadata:  domain.PaymentCorrelation{Purpose: domain.PurposeRealtimeAlert, AlertID: sub.ID.String()}.Metadata(),
				}, nil
			},
		}
		svc, _ := newTestService(repo, gateway)

		res, err := svc.ConfirmPayment(context.Background(), "pi_123")
		if err != nil {
			t.Fatalf("ConfirmPayment() error = %v", err)
		}
		if !res.Success {
			t.Fatalf("result = %+v", res)
		}
		got, _ := repo.GetAlertSubscription(context.Background(), sub.ID)
		if got.State != domain.AlertStateActive {
			t.Errorf("alert state = %q, want active", got.State)
		}
	})
}

func TestCreateRealtimeSubscription(t *testing.T) {
	t.Run("upserts record and opens gateway subscription", func(t *testing.T) {
		repo := newMemRepo()
		var gotMetadata map[string]string
		gateway := &stubGateway{
			openSubFn: func(ctx context.Context, email, priceID string, metadata map[string]string) (*stripeclient.SubscriptionHandle, error) {
				if priceID != "price_test" {
					t.Errorf("priceID = %q, want price_test", priceID)
				}
				gotMetadata = metadata
				return &stripeclient.SubscriptionHandle{ClientSecret: "cs_sub", GatewaySubscriptionID: "sub_1", GatewayCustomerID: "cus_1"}, nil
			},
		}
		svc, _ := newTestService(repo, gateway)

		res, err := svc.CreateRealtimeSubscription(context.Background(), "sub@example.com")
		if err != nil {
			t.Fatalf("CreateRealtimeSubscription() error = %v", err)
		}
		if res.ClientSecret != "cs_sub" {
			t.Errorf("ClientSecret = %q", res.ClientSecret)
		}
		if gotMetadata["alert_id"] != res.SubscriptionID {
			t.Errorf("metadata alert_id = %q, want %q", gotMetadata["alert_id"], res.SubscriptionID)
		}

		id, _ := parseID(res.SubscriptionID)
		sub, err := repo.GetAlertSubscription(context.Background(), id)
		if err != nil {
			t.Fatalf("GetAlertSubscription: %v", err)
		}
		if sub.State != domain.AlertStatePendingPayment {
			t.Errorf("state = %q, want pending_payment", sub.State)
		}
		if sub.GatewaySubscriptionID == nil || *sub.GatewaySubscriptionID != "sub_1" {
			t.Errorf("GatewaySubscriptionID = %v, want sub_1", sub.GatewaySubscriptionID)
		}
	})

	t.Run("same email re-uses the record", func(t *testing.T) {
		repo := newMemRepo()
		svc, _ := newTestService(repo, &stubGateway{})

		first, err := svc.CreateRealtimeSubscription(context.Background(), "dupe@example.com")
		if err != nil {
			t.Fatalf("first: %v", err)
		}
		second, err := svc.CreateRealtimeSubscription(context.Background(), "dupe@example.com")
		if err != nil {
			t.Fatalf("second: %v", err)
		}
		if first.SubscriptionID != second.SubscriptionID {
			t.Errorf("ids differ: %q vs %q", first.SubscriptionID, second.SubscriptionID)
		}
	})

	t.Run("rejects malformed email", func(t *testing.T) {
		repo := newMemRepo()
		svc, _ := newTestService(repo, &stubGateway{})
		_, err := svc.CreateRealtimeSubscription(context.Background(), "not-an-email")
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("error = %v, want ValidationError", err)
		}
	})
}

func TestIsPrivileged(t *testing.T) {
	admins := []string{"admin@board.test", " ops@board.test "}
	tests := []struct {
		name     string
		ownerRef string
		want     bool
	}{
		{"exact match", "admin@board.test", true},
		{"case insensitive", "ADMIN@board.TEST", true},
		{"trimmed admin entry", "ops@board.test", true},
		{"non admin", "user@example.com", false},
		{"empty owner", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPrivileged(tt.ownerRef, admins); got != tt.want {
				t.Errorf("IsPrivileged(%q) = %v, want %v", tt.ownerRef, got, tt.want)
			}
		})
	}
}
