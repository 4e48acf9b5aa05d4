package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel-cli/internal/model"
)

// StartReviewTask marks an open task as being worked on. Optional step; a
// task may be resolved directly from OPEN.
func (p *Pipeline) StartReviewTask(ctx context.Context, taskID string) error {
	return p.store.SetReviewTaskStatus(ctx, taskID, model.TaskInProgress, "")
}

// ResolveReviewTask approves a held candidate. The approved value goes
// through the same ledger apply as automatic promotions, with entered_by set
// to the reviewer, so the audit trail has a single shape. override, when
// non-nil, replaces the candidate's extracted value and is validated against
// the field spec first.
func (p *Pipeline) ResolveReviewTask(ctx context.Context, taskID string, override any, reviewer string) error {
	if reviewer == "" {
		return eris.New("pipeline: reviewer required")
	}

	task, err := p.store.GetReviewTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return eris.Errorf("pipeline: task %s already %s", taskID, task.Status)
	}

	cand, err := p.store.GetCandidate(ctx, task.CandidateID)
	if err != nil {
		return err
	}
	spec := p.registry.ByKey(cand.FieldKey)
	if spec == nil {
		return eris.Errorf("pipeline: unknown field %q", cand.FieldKey)
	}

	raw := cand.RawValue
	if override != nil {
		raw = override
	}
	value, err := model.ParseValue(spec, raw)
	if err != nil {
		return eris.Wrap(err, "pipeline: resolve value")
	}

	// Ledger first: a failed apply (halted key, store error) must leave the
	// task open so the approval can be retried once the key is repaired.
	old, newVal, err := p.ledger.Apply(ctx, cand.EntityID, cand.FieldKey, value, cand.EvidenceID, reviewer)
	if err != nil {
		return err
	}

	if err := p.store.FinalizeCandidate(ctx, cand.ID, model.CandidateResolved, ""); err != nil {
		return err
	}
	if err := p.store.SetReviewTaskStatus(ctx, taskID, model.TaskResolved, reviewer); err != nil {
		return err
	}

	zap.L().Info("pipeline: review resolved",
		zap.String("task", taskID),
		zap.String("entity", cand.EntityID),
		zap.String("field", cand.FieldKey),
		zap.String("reviewer", reviewer),
		zap.Bool("overridden", override != nil),
	)

	event, err := p.detector.Detect(ctx, spec, cand.EntityID, old, &newVal)
	if err != nil {
		return err
	}
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

// RejectReviewTask discards a held candidate. No ledger write happens.
func (p *Pipeline) RejectReviewTask(ctx context.Context, taskID, reviewer, reason string) error {
	if reviewer == "" {
		return eris.New("pipeline: reviewer required")
	}

	task, err := p.store.GetReviewTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return eris.Errorf("pipeline: task %s already %s", taskID, task.Status)
	}

	if err := p.store.FinalizeCandidate(ctx, task.CandidateID, model.CandidateRejected, reason); err != nil {
		return err
	}
	if err := p.store.SetReviewTaskStatus(ctx, taskID, model.TaskRejected, reviewer); err != nil {
		return err
	}

	zap.L().Info("pipeline: review rejected",
		zap.String("task", taskID),
		zap.String("reviewer", reviewer),
		zap.String("reason", reason),
	)
	return nil
}
