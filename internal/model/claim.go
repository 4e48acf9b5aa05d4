package model

import "time"

// CandidateStatus is the lifecycle state of a claim candidate.
type CandidateStatus string

const (
	CandidatePending        CandidateStatus = "PENDING"
	CandidatePromoted       CandidateStatus = "PROMOTED"
	CandidateRejected       CandidateStatus = "REJECTED"
	CandidateReviewRequired CandidateStatus = "REVIEW_REQUIRED"
	CandidateResolved       CandidateStatus = "RESOLVED"
)

// Terminal reports whether the status is an end state for the candidate.
func (s CandidateStatus) Terminal() bool {
	switch s {
	case CandidatePromoted, CandidateRejected, CandidateResolved:
		return true
	default:
		return false
	}
}

// EnteredBySystem is the entered_by marker for automatic promotions; manual
// resolutions record the reviewer's id instead.
const EnteredBySystem = "SYSTEM"

// RejectSuperseded is the reason recorded on batch losers.
const RejectSuperseded = "superseded-in-batch"

// ClaimCandidate is an unverified claim produced by the extraction adapter.
// The promotion gate sets the statuses exactly once; review resolution may
// later move a REVIEW_REQUIRED candidate to RESOLVED or REJECTED.
type ClaimCandidate struct {
	ID               string          `json:"id"`
	EntityID         string          `json:"entity_id"`
	FieldKey         string          `json:"field_key"`
	RawValue         any             `json:"raw_value"`
	Value            *Value          `json:"value,omitempty"` // set after validation
	BaseConfidence   float64         `json:"base_confidence"`
	EvidenceID       string          `json:"evidence_id"`
	ExtractionMethod string          `json:"extraction_method,omitempty"`
	StatusAuto       CandidateStatus `json:"status_auto"`
	StatusFinal      CandidateStatus `json:"status_final"`
	RejectReason     string          `json:"reject_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ClaimVersion is one row of the append-only per-key claim log.
// version_no is strictly increasing per (entity_id, field_key); rows are
// never updated or deleted.
type ClaimVersion struct {
	EntityID   string    `json:"entity_id"`
	FieldKey   string    `json:"field_key"`
	VersionNo  int       `json:"version_no"`
	Value      Value     `json:"value"`
	EvidenceID string    `json:"evidence_id"`
	EnteredBy  string    `json:"entered_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// CurrentClaim is the materialized latest-value projection for one key.
// Invariant: Value equals the ClaimVersion at VersionNo, and VersionNo equals
// the count of version rows for the key. Rebuildable by replaying the log.
type CurrentClaim struct {
	EntityID       string    `json:"entity_id"`
	FieldKey       string    `json:"field_key"`
	Value          Value     `json:"value"`
	VersionNo      int       `json:"version_no"`
	LastVerifiedAt time.Time `json:"last_verified_at"`
}
