/**
 * @description
 * This file defines the PaymentCorrelation carried inside gateway-side
 * metadata. Gateway metadata is size-bounded, which is the reason staging
 * exists at all: the full job payload cannot ride along with the charge, so
 * only the staged-submission reference does.
 */
package domain

// Payment purposes recognised by both confirmation paths.
const (
	PurposeNewJob        = "new_job"
	PurposePromoteJob    = "promote_job"
	PurposeRealtimeAlert = "realtime_alert"
)

// Metadata keys used on gateway objects.
const (
	metadataKeyPurpose  = "purpose"
	metadataKeyStagedID = "staged_submission_id"
	metadataKeyAlertID  = "alert_id"
	metadataKeyOwnerRef = "owner_ref"
)

// GatewayMetadataLimit is the maximum serialized size of correlation
// metadata we allow ourselves to attach to a gateway object. Stripe caps each
// metadata value at 500 characters; keeping the whole correlation under that
// bound keeps us clear of the limit regardless of how the gateway counts.
const GatewayMetadataLimit = 500

// PaymentCorrelation links a gateway-side object back to the staged content
// it pays for. Exactly one of StagedSubmissionID / AlertID is set, depending
// on purpose.
type PaymentCorrelation struct {
	Purpose            string
	StagedSubmissionID string
	AlertID            string
	OwnerRef           string
}

// Metadata serializes the correlation to gateway metadata. Only references
// are included, never content.
func (c PaymentCorrelation) Metadata() map[string]string {
	md := map[string]string{metadataKeyPurpose: c.Purpose}
	if c.StagedSubmissionID != "" {
		md[metadataKeyStagedID] = c.StagedSubmissionID
	}
	if c.AlertID != "" {
		md[metadataKeyAlertID] = c.AlertID
	}
	if c.OwnerRef != "" {
		md[metadataKeyOwnerRef] = c.OwnerRef
	}
	return md
}

// EncodedSize returns the total byte size of the serialized correlation, used
// to assert we stay under GatewayMetadataLimit.
func (c PaymentCorrelation) EncodedSize() int {
	size := 0
	for k, v := range c.Metadata() {
		size += len(k) + len(v)
	}
	return size
}

// CorrelationFromMetadata rebuilds a correlation from gateway metadata.
// Unknown keys are ignored; absent keys yield zero values so callers can
// detect a missing correlation explicitly.
func CorrelationFromMetadata(md map[string]string) PaymentCorrelation {
	if md == nil {
		return PaymentCorrelation{}
	}
	return PaymentCorrelation{
		Purpose:            md[metadataKeyPurpose],
		StagedSubmissionID: md[metadataKeyStagedID],
		AlertID:            md[metadataKeyAlertID],
		OwnerRef:           md[metadataKeyOwnerRef],
	}
}
