/**
 * @description
 * This file defines the StagedSubmission model: a draft of paid content held
 * in the staging store until payment clears. The staged id is the correlation
 * key between the staging row, the gateway-side metadata, and the final
 * published record.
 */
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Staged submission states. A submission transitions pending_payment -> paid
// exactly once and is never mutated after reaching paid.
const (
	StagedStatePendingPayment = "pending_payment"
	StagedStatePaid           = "paid"
	StagedStateExpired        = "expired"
)

// StagedSubmission holds not-yet-committed content keyed by an opaque id.
// The payload is opaque to the staging store itself; it is only interpreted
// at publication time.
type StagedSubmission struct {
	ID                 uuid.UUID       `json:"id"`
	Payload            json.RawMessage `json:"payload"`
	OwnerRef           string          `json:"owner_ref"`
	State              string          `json:"state"`
	GatewayReferenceID *string         `json:"gateway_reference_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
