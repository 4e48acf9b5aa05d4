package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/compintel-cli/internal/model"
)

// TierMultipliers scales base confidence by source trust level.
type TierMultipliers struct {
	Primary   float64
	Secondary float64
}

// DefaultTierMultipliers returns the standard trust scaling.
func DefaultTierMultipliers() TierMultipliers {
	return TierMultipliers{Primary: 1.0, Secondary: 0.7}
}

// For returns the multiplier for a source tier. Unknown tiers get the
// secondary multiplier so untrusted input never outranks first-party data.
func (m TierMultipliers) For(tier model.SourceTier) float64 {
	if tier == model.TierPrimary {
		return m.Primary
	}
	return m.Secondary
}

// Decision is the gate's verdict on a single candidate.
type Decision struct {
	Candidate           model.ClaimCandidate
	Evidence            model.Evidence
	EffectiveConfidence float64
	Status              model.CandidateStatus
	Reason              string
	ReviewPriority      float64 // set when Status is REVIEW_REQUIRED
}

// BatchOutcome is the gate's verdict on one (entity, field) candidate batch.
// Winner is nil when no candidate carried a valid value.
type BatchOutcome struct {
	Winner    *Decision
	Decisions []Decision
}

// EvaluateBatch decides PROMOTED, REVIEW_REQUIRED, or REJECTED for every
// candidate targeting one (entity, field) key. It is a pure function: no
// locking, no I/O. Candidates with invalid values are rejected individually
// and never abort the batch; among the valid rest, one winner is selected by
// effective confidence, then most recent fetch, then PRIMARY tier, and the
// losers are rejected as superseded. The winner is promoted only when its
// effective confidence clears the field threshold (boundary inclusive) and
// the primary-source rule is satisfied; otherwise it goes to review.
func EvaluateBatch(spec *model.FieldSpec, mult TierMultipliers, candidates []model.ClaimCandidate, evidence map[string]model.Evidence) (BatchOutcome, error) {
	if spec == nil {
		return BatchOutcome{}, eris.New("gate: nil field spec")
	}
	if len(candidates) == 0 {
		return BatchOutcome{}, eris.Errorf("gate: empty batch for field %s", spec.Key)
	}

	out := BatchOutcome{Decisions: make([]Decision, 0, len(candidates))}
	var valid []int

	for _, cand := range candidates {
		ev, ok := evidence[cand.EvidenceID]
		if !ok {
			out.Decisions = append(out.Decisions, Decision{
				Candidate: cand,
				Status:    model.CandidateRejected,
				Reason:    "unknown evidence reference",
			})
			continue
		}

		d := Decision{Candidate: cand, Evidence: ev}

		if cand.Value == nil {
			parsed, err := model.ParseValue(spec, cand.RawValue)
			if err != nil {
				d.Status = model.CandidateRejected
				d.Reason = err.Error()
				out.Decisions = append(out.Decisions, d)
				continue
			}
			d.Candidate.Value = &parsed
		}
		if cand.BaseConfidence <= 0 || cand.BaseConfidence > 1 {
			d.Status = model.CandidateRejected
			d.Reason = "confidence out of range"
			out.Decisions = append(out.Decisions, d)
			continue
		}

		d.EffectiveConfidence = cand.BaseConfidence * mult.For(ev.Tier)
		out.Decisions = append(out.Decisions, d)
		valid = append(valid, len(out.Decisions)-1)
	}

	if len(valid) == 0 {
		// Malformed extraction: the whole batch is rejected, never dropped.
		return out, nil
	}

	winIdx := valid[0]
	for _, i := range valid[1:] {
		if beats(&out.Decisions[i], &out.Decisions[winIdx]) {
			winIdx = i
		}
	}

	for _, i := range valid {
		if i == winIdx {
			continue
		}
		out.Decisions[i].Status = model.CandidateRejected
		out.Decisions[i].Reason = model.RejectSuperseded
	}

	win := &out.Decisions[winIdx]
	promotable := win.EffectiveConfidence >= spec.ConfidenceThreshold &&
		(!spec.RequiresPrimarySource || win.Evidence.Tier == model.TierPrimary)

	if promotable {
		win.Status = model.CandidatePromoted
	} else {
		win.Status = model.CandidateReviewRequired
		win.ReviewPriority = spec.SeverityWeight * (spec.ConfidenceThreshold - win.EffectiveConfidence)
		if win.ReviewPriority < 0 {
			// Above threshold but blocked by the primary-source rule.
			win.ReviewPriority = 0
		}
		if spec.RequiresPrimarySource && win.Evidence.Tier != model.TierPrimary {
			win.Reason = "requires primary source"
		} else {
			win.Reason = "below confidence threshold"
		}
	}

	out.Winner = win
	return out, nil
}

// beats reports whether a should win over b: higher effective confidence,
// then more recent fetch, then PRIMARY tier.
func beats(a, b *Decision) bool {
	if a.EffectiveConfidence != b.EffectiveConfidence {
		return a.EffectiveConfidence > b.EffectiveConfidence
	}
	if !a.Evidence.FetchedAt.Equal(b.Evidence.FetchedAt) {
		return a.Evidence.FetchedAt.After(b.Evidence.FetchedAt)
	}
	return a.Evidence.Tier == model.TierPrimary && b.Evidence.Tier != model.TierPrimary
}
