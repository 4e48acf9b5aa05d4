package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compintel-cli/internal/model"
)

// Sentinel errors surfaced by store implementations.
var (
	// ErrNotFound marks a lookup for a row that does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrCandidateFinal marks an attempt to re-decide a candidate that has
	// already reached a terminal status.
	ErrCandidateFinal = eris.New("store: candidate already finalized")
	// ErrTaskClosed marks a state change on a RESOLVED or REJECTED task.
	ErrTaskClosed = eris.New("store: review task already closed")
)

// EventFilter specifies criteria for listing change events.
type EventFilter struct {
	EntityID string            `json:"entity_id,omitempty"`
	Status   model.EventStatus `json:"status,omitempty"`
	Since    time.Time         `json:"since,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// Store defines the persistence interface for the claims pipeline.
// Evidence, claim_versions, events and alert_dispatches are append-only;
// current_claims and review_tasks are the rebuildable mutable projections.
type Store interface {
	// Evidence (append-only, deduped by content hash)
	RecordEvidence(ctx context.Context, ev model.Evidence) (id string, reused bool, err error)
	GetEvidence(ctx context.Context, id string) (*model.Evidence, error)
	ListEvidence(ctx context.Context, entityID string) ([]model.Evidence, error)

	// Claim candidates
	CreateCandidate(ctx context.Context, c model.ClaimCandidate) error
	GetCandidate(ctx context.Context, id string) (*model.ClaimCandidate, error)
	// SetCandidateDecision records the gate outcome. final may be empty for
	// REVIEW_REQUIRED candidates awaiting a human. Fails with
	// ErrCandidateFinal unless the candidate is still PENDING.
	SetCandidateDecision(ctx context.Context, id string, auto, final model.CandidateStatus, reason string) error
	// FinalizeCandidate records the review outcome for a REVIEW_REQUIRED
	// candidate. Fails with ErrCandidateFinal if already terminal.
	FinalizeCandidate(ctx context.Context, id string, final model.CandidateStatus, reason string) error

	// Claim ledger (versions append-only, current claims projected)
	AppendVersion(ctx context.Context, v model.ClaimVersion) error
	UpsertCurrentClaim(ctx context.Context, c model.CurrentClaim) error
	GetCurrentClaim(ctx context.Context, entityID, fieldKey string) (*model.CurrentClaim, error)
	ListCurrentClaims(ctx context.Context, entityID string) ([]model.CurrentClaim, error)
	AllCurrentClaims(ctx context.Context) ([]model.CurrentClaim, error)
	ListVersions(ctx context.Context, entityID, fieldKey string) ([]model.ClaimVersion, error)
	AllVersions(ctx context.Context) ([]model.ClaimVersion, error)

	// Change events
	CreateEvent(ctx context.Context, e model.Event) error
	OpenEventByDedupe(ctx context.Context, dedupeKey string) (*model.Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error)
	CloseEvent(ctx context.Context, id string) error

	// Alert rules and dispatch records
	CreateRule(ctx context.Context, r model.AlertRule) error
	ListRules(ctx context.Context, enabledOnly bool) ([]model.AlertRule, error)
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
	HasDispatched(ctx context.Context, eventID, ruleID, channel string) (bool, error)
	RecordDispatch(ctx context.Context, d model.DispatchRecord) error

	// Review queue
	CreateReviewTask(ctx context.Context, t model.ReviewTask) error
	GetReviewTask(ctx context.Context, id string) (*model.ReviewTask, error)
	ListReviewTasks(ctx context.Context, status model.TaskStatus, limit int) ([]model.ReviewTask, error)
	SetReviewTaskStatus(ctx context.Context, id string, status model.TaskStatus, resolvedBy string) error

	// Integrity halts (RebuildMismatch blocks writes per key)
	HaltKey(ctx context.Context, entityID, fieldKey, reason string) error
	IsKeyHalted(ctx context.Context, entityID, fieldKey string) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
