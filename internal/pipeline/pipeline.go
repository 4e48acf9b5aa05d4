package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/compintel-cli/internal/config"
	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/store"
)

// Notifier receives newly opened change events for alert evaluation.
// Notification failures never affect ledger correctness.
type Notifier interface {
	HandleEvent(ctx context.Context, event model.Event) error
}

// Pipeline wires the promotion gate, ledger, detector, and review queue into
// the candidate processing flow. Entities are processed concurrently; writes
// to a single (entity, field) key are serialized by the ledger.
type Pipeline struct {
	store    store.Store
	registry *model.FieldRegistry
	ledger   *Ledger
	detector *Detector
	mult     TierMultipliers
	workers  int
	notifier Notifier
}

// New creates a Pipeline. notifier may be nil when alerting is not wired,
// e.g. during backfills.
func New(st store.Store, reg *model.FieldRegistry, cfg config.PipelineConfig, notifier Notifier) *Pipeline {
	mult := DefaultTierMultipliers()
	if cfg.PrimaryTierMultiplier > 0 {
		mult.Primary = cfg.PrimaryTierMultiplier
	}
	if cfg.SecondaryTierMultiplier > 0 {
		mult.Secondary = cfg.SecondaryTierMultiplier
	}
	workers := cfg.MaxConcurrentEntities
	if workers <= 0 {
		workers = 5
	}
	return &Pipeline{
		store:    st,
		registry: reg,
		ledger:   NewLedger(st),
		detector: NewDetector(st),
		mult:     mult,
		workers:  workers,
		notifier: notifier,
	}
}

// Ledger exposes the pipeline's ledger for verification commands.
func (p *Pipeline) Ledger() *Ledger { return p.ledger }

// CandidateInput is the shape the extraction adapter submits.
type CandidateInput struct {
	FieldKey         string  `json:"field_key"`
	RawValue         any     `json:"raw_value"`
	BaseConfidence   float64 `json:"base_confidence"`
	ExtractionMethod string  `json:"extraction_method,omitempty"`
}

// Submission is one evidence capture plus the candidates extracted from it.
type Submission struct {
	Evidence   model.Evidence   `json:"evidence"`
	Candidates []CandidateInput `json:"candidates"`
}

// PromotionResult reports the outcome of one (entity, field) batch.
type PromotionResult struct {
	EntityID     string
	FieldKey     string
	Decisions    []Decision
	Promoted     bool
	Event        *model.Event
	ReviewTaskID string
}

// Ingest records evidence and processes the extracted candidates, one
// worker per entity up to the configured bound. A submission whose evidence
// content hash was already recorded contributes no new candidates: re-scrapes
// of unchanged pages are free. Cancellation before processing a batch leaves
// that batch unapplied; batches are never half-applied across keys of
// different entities.
func (p *Pipeline) Ingest(ctx context.Context, subs []Submission) ([]PromotionResult, error) {
	byEntity := make(map[string][]Submission)
	for _, s := range subs {
		byEntity[s.Evidence.EntityID] = append(byEntity[s.Evidence.EntityID], s)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	var mu sync.Mutex
	var out []PromotionResult
	for entityID, entitySubs := range byEntity {
		g.Go(func() error {
			rs, err := p.ingestEntity(gCtx, entityID, entitySubs)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, rs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) ingestEntity(ctx context.Context, entityID string, subs []Submission) ([]PromotionResult, error) {
	byField := make(map[string][]model.ClaimCandidate)

	for _, sub := range subs {
		ev := sub.Evidence
		if ev.ContentHash == "" {
			return nil, eris.Errorf("pipeline: submission for %s missing content hash", entityID)
		}
		evID, reused, err := p.store.RecordEvidence(ctx, ev)
		if err != nil {
			return nil, err
		}
		if reused {
			zap.L().Debug("pipeline: evidence unchanged, skipping candidates",
				zap.String("entity", entityID),
				zap.String("source", ev.SourceKey),
			)
			continue
		}
		for _, in := range sub.Candidates {
			byField[in.FieldKey] = append(byField[in.FieldKey], model.ClaimCandidate{
				ID:               uuid.New().String(),
				EntityID:         entityID,
				FieldKey:         in.FieldKey,
				RawValue:         in.RawValue,
				BaseConfidence:   in.BaseConfidence,
				EvidenceID:       evID,
				ExtractionMethod: in.ExtractionMethod,
				CreatedAt:        time.Now().UTC(),
			})
		}
	}

	var out []PromotionResult
	for fieldKey, cands := range byField {
		r, err := p.SubmitCandidates(ctx, entityID, fieldKey, cands)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// SubmitCandidates runs one (entity, field) batch through the gate and
// applies the decision: the winner is promoted into the ledger or queued for
// review, losers and invalid candidates are rejected. Each candidate reaches
// a terminal status exactly once. A cancelled context before the decision
// point means nothing was applied.
func (p *Pipeline) SubmitCandidates(ctx context.Context, entityID, fieldKey string, candidates []model.ClaimCandidate) (*PromotionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: batch not accepted")
	}

	spec := p.registry.ByKey(fieldKey)
	if spec == nil {
		return nil, eris.Errorf("pipeline: unknown field %q", fieldKey)
	}

	evidence := make(map[string]model.Evidence, len(candidates))
	for _, c := range candidates {
		if _, ok := evidence[c.EvidenceID]; ok {
			continue
		}
		ev, err := p.store.GetEvidence(ctx, c.EvidenceID)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				continue // gate rejects the candidate
			}
			return nil, err
		}
		evidence[c.EvidenceID] = *ev
	}

	for _, c := range candidates {
		if err := p.store.CreateCandidate(ctx, c); err != nil {
			return nil, err
		}
	}

	outcome, err := EvaluateBatch(spec, p.mult, candidates, evidence)
	if err != nil {
		return nil, err
	}

	result := &PromotionResult{
		EntityID:  entityID,
		FieldKey:  fieldKey,
		Decisions: outcome.Decisions,
	}

	for i := range outcome.Decisions {
		d := &outcome.Decisions[i]
		switch d.Status {
		case model.CandidateRejected:
			if err := p.store.SetCandidateDecision(ctx, d.Candidate.ID,
				model.CandidateRejected, model.CandidateRejected, d.Reason); err != nil {
				return nil, err
			}
			zap.L().Info("pipeline: candidate rejected",
				zap.String("entity", entityID),
				zap.String("field", fieldKey),
				zap.String("candidate", d.Candidate.ID),
				zap.String("reason", d.Reason),
			)

		case model.CandidateReviewRequired:
			if err := p.store.SetCandidateDecision(ctx, d.Candidate.ID,
				model.CandidateReviewRequired, "", d.Reason); err != nil {
				return nil, err
			}
			taskID, err := p.openReviewTask(ctx, d)
			if err != nil {
				return nil, err
			}
			result.ReviewTaskID = taskID

		case model.CandidatePromoted:
			if err := p.promote(ctx, spec, d, result); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func (p *Pipeline) promote(ctx context.Context, spec *model.FieldSpec, d *Decision, result *PromotionResult) error {
	// Ledger first: PROMOTED is terminal, so the status is committed only
	// once the version row exists. On a failed apply the candidate stays
	// PENDING and the batch can be re-submitted.
	old, newVal, err := p.ledger.Apply(ctx,
		d.Candidate.EntityID, d.Candidate.FieldKey,
		*d.Candidate.Value, d.Candidate.EvidenceID, model.EnteredBySystem)
	if err != nil {
		return err
	}

	if err := p.store.SetCandidateDecision(ctx, d.Candidate.ID,
		model.CandidatePromoted, model.CandidatePromoted, ""); err != nil {
		return err
	}
	result.Promoted = true

	zap.L().Info("pipeline: candidate promoted",
		zap.String("entity", d.Candidate.EntityID),
		zap.String("field", d.Candidate.FieldKey),
		zap.Float64("effective_confidence", d.EffectiveConfidence),
	)

	event, err := p.detector.Detect(ctx, spec, d.Candidate.EntityID, old, &newVal)
	if err != nil {
		return err
	}
	result.Event = event

	if event != nil && p.notifier != nil {
		if err := p.notifier.HandleEvent(ctx, *event); err != nil {
			zap.L().Error("pipeline: alert handling failed",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (p *Pipeline) openReviewTask(ctx context.Context, d *Decision) (string, error) {
	now := time.Now().UTC()
	task := model.ReviewTask{
		ID:          uuid.New().String(),
		CandidateID: d.Candidate.ID,
		EntityID:    d.Candidate.EntityID,
		FieldKey:    d.Candidate.FieldKey,
		Priority:    d.ReviewPriority,
		Status:      model.TaskOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.store.CreateReviewTask(ctx, task); err != nil {
		return "", err
	}
	zap.L().Info("pipeline: review task opened",
		zap.String("entity", task.EntityID),
		zap.String("field", task.FieldKey),
		zap.Float64("priority", task.Priority),
		zap.String("reason", d.Reason),
	)
	return task.ID, nil
}
