/**
 * @description
 * This file defines the published job models. A PublishedJob is created
 * exactly once by the reconciliation path, by copying the staged payload and
 * adding publication fields. Afterwards only counters and status toggles
 * mutate it, which happens outside this service.
 */
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Published job statuses.
const (
	JobStatusActive   = "active"
	JobStatusPaused   = "paused"
	JobStatusArchived = "archived"
)

// FeaturedDurationDays is how long a paid post stays featured.
const FeaturedDurationDays = 30

// JobDraft is the staged payload for a new job posting. Title, company and
// description are required before a charge is opened.
type JobDraft struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description"`
	ApplyURL    string `json:"apply_url,omitempty"`
	Salary      string `json:"salary,omitempty"`
	// JobID is set instead of the content fields when the purpose is
	// promote_job: the draft references an existing published job.
	JobID string `json:"job_id,omitempty"`
}

// PublishedJob is the durable, visible job post.
type PublishedJob struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	Company       string    `json:"company"`
	Location      string    `json:"location,omitempty"`
	Description   string    `json:"description"`
	ApplyURL      string    `json:"apply_url,omitempty"`
	Salary        string    `json:"salary,omitempty"`
	OwnerRef      string    `json:"owner_ref"`
	Status        string    `json:"status"`
	IsFeatured    bool      `json:"is_featured"`
	FeaturedUntil time.Time `json:"featured_until"`
	Clicks        int       `json:"clicks"`
	Views         int       `json:"views"`
	CreatedAt     time.Time `json:"created_at"`
}

// ValidateJobPayload checks a staged job payload for the fields required
// before any gateway call is made. A promote_job payload only needs job_id.
func ValidateJobPayload(payload json.RawMessage, purpose string) error {
	var draft JobDraft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return &ValidationError{Field: "payload", Reason: "is not valid JSON"}
	}
	if purpose == PurposePromoteJob {
		if draft.JobID == "" {
			return &ValidationError{Field: "job_id", Reason: "is required to promote a job"}
		}
		if _, err := uuid.Parse(draft.JobID); err != nil {
			return &ValidationError{Field: "job_id", Reason: "is not a valid id"}
		}
		return nil
	}
	if draft.Title == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if draft.Company == "" {
		return &ValidationError{Field: "company", Reason: "is required"}
	}
	if draft.Description == "" {
		return &ValidationError{Field: "description", Reason: "is required"}
	}
	return nil
}
