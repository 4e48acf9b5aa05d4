package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dsn)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedEvidence(t *testing.T, s *SQLiteStore, entityID string) string {
	t.Helper()
	id, reused, err := s.RecordEvidence(context.Background(), model.Evidence{
		EntityID:    entityID,
		SourceKey:   "pricing-page",
		Tier:        model.TierPrimary,
		URL:         "https://example.com/pricing",
		FetchedAt:   time.Now().UTC(),
		ContentHash: model.HashContent([]byte(uuid.New().String())),
		Snippet:     "Pro plan $49/mo",
	})
	require.NoError(t, err)
	require.False(t, reused)
	return id
}

func TestRecordEvidenceIdempotent(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	ev := model.Evidence{
		EntityID:    "acme",
		SourceKey:   "pricing-page",
		Tier:        model.TierPrimary,
		FetchedAt:   time.Now().UTC(),
		ContentHash: model.HashContent([]byte("same content")),
	}

	id1, reused, err := s.RecordEvidence(ctx, ev)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEmpty(t, id1)

	// Same (entity, source, hash) returns the original id without a new row.
	id2, reused, err := s.RecordEvidence(ctx, ev)
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, id1, id2)

	// Different hash is a new capture.
	ev.ContentHash = model.HashContent([]byte("changed content"))
	id3, reused, err := s.RecordEvidence(ctx, ev)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.NotEqual(t, id1, id3)

	list, err := s.ListEvidence(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestGetEvidenceNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	_, err := s.GetEvidence(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestCandidateDecisionOnce(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	evID := seedEvidence(t, s, "acme")

	cand := model.ClaimCandidate{
		ID:             uuid.New().String(),
		EntityID:       "acme",
		FieldKey:       "base_price",
		RawValue:       49.0,
		Value:          &model.Value{Type: model.ValueNumber, Number: 49},
		BaseConfidence: 0.9,
		EvidenceID:     evID,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.CreateCandidate(ctx, cand))

	got, err := s.GetCandidate(ctx, cand.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CandidatePending, got.StatusAuto)
	assert.Equal(t, model.CandidateStatus(""), got.StatusFinal)
	require.NotNil(t, got.Value)
	assert.Equal(t, 49.0, got.Value.Number)

	require.NoError(t, s.SetCandidateDecision(ctx, cand.ID, model.CandidatePromoted, model.CandidatePromoted, ""))

	// Second decision on the same candidate is refused.
	err = s.SetCandidateDecision(ctx, cand.ID, model.CandidateRejected, model.CandidateRejected, "late")
	assert.True(t, eris.Is(err, ErrCandidateFinal))

	got, err = s.GetCandidate(ctx, cand.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CandidatePromoted, got.StatusAuto)
}

func TestFinalizeCandidateRequiresReview(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	evID := seedEvidence(t, s, "acme")

	cand := model.ClaimCandidate{
		ID:             uuid.New().String(),
		EntityID:       "acme",
		FieldKey:       "base_price",
		RawValue:       39.0,
		BaseConfidence: 0.55,
		EvidenceID:     evID,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.CreateCandidate(ctx, cand))
	require.NoError(t, s.SetCandidateDecision(ctx, cand.ID, model.CandidateReviewRequired, "", "below threshold"))

	require.NoError(t, s.FinalizeCandidate(ctx, cand.ID, model.CandidateResolved, ""))

	// Review resolution is one-shot too.
	err := s.FinalizeCandidate(ctx, cand.ID, model.CandidateRejected, "changed mind")
	assert.True(t, eris.Is(err, ErrCandidateFinal))

	err = s.FinalizeCandidate(ctx, "missing", model.CandidateResolved, "")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestVersionsAndCurrentClaim(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	evID := seedEvidence(t, s, "acme")

	// No claim yet.
	cur, err := s.GetCurrentClaim(ctx, "acme", "base_price")
	require.NoError(t, err)
	assert.Nil(t, cur)

	now := time.Now().UTC().Truncate(time.Second)
	for i := 1; i <= 3; i++ {
		v := model.ClaimVersion{
			EntityID:   "acme",
			FieldKey:   "base_price",
			VersionNo:  i,
			Value:      model.Value{Type: model.ValueNumber, Number: float64(40 + i)},
			EvidenceID: evID,
			EnteredBy:  model.EnteredBySystem,
			CreatedAt:  now.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.AppendVersion(ctx, v))
		require.NoError(t, s.UpsertCurrentClaim(ctx, model.CurrentClaim{
			EntityID:       "acme",
			FieldKey:       "base_price",
			Value:          v.Value,
			VersionNo:      i,
			LastVerifiedAt: v.CreatedAt,
		}))
	}

	// Duplicate version number violates the append-only log key.
	err = s.AppendVersion(ctx, model.ClaimVersion{
		EntityID: "acme", FieldKey: "base_price", VersionNo: 2,
		Value:      model.Value{Type: model.ValueNumber, Number: 99},
		EvidenceID: evID, EnteredBy: model.EnteredBySystem, CreatedAt: now,
	})
	assert.Error(t, err)

	versions, err := s.ListVersions(ctx, "acme", "base_price")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	for i, v := range versions {
		assert.Equal(t, i+1, v.VersionNo)
	}

	cur, err = s.GetCurrentClaim(ctx, "acme", "base_price")
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, 3, cur.VersionNo)
	assert.Equal(t, 43.0, cur.Value.Number)
}

func TestEventDedupeLookupAndClose(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	old := &model.Value{Type: model.ValueNumber, Number: 49}
	nu := &model.Value{Type: model.ValueNumber, Number: 59}
	key := model.EventDedupeKey("acme", "base_price", old, nu, time.Now().UTC())

	e := model.Event{
		ID:         uuid.New().String(),
		EntityID:   "acme",
		FieldKey:   "base_price",
		OldValue:   old,
		NewValue:   nu,
		Severity:   model.SeverityHigh,
		DetectedAt: time.Now().UTC(),
		DedupeKey:  key,
		Status:     model.EventOpen,
	}
	require.NoError(t, s.CreateEvent(ctx, e))

	found, err := s.OpenEventByDedupe(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, e.ID, found.ID)
	require.NotNil(t, found.OldValue)
	assert.Equal(t, 49.0, found.OldValue.Number)

	require.NoError(t, s.CloseEvent(ctx, e.ID))

	// Closed events no longer suppress.
	found, err = s.OpenEventByDedupe(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, found)

	err = s.CloseEvent(ctx, "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestListEventsFilter(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i, entity := range []string{"acme", "acme", "globex"} {
		nu := &model.Value{Type: model.ValueNumber, Number: float64(i)}
		require.NoError(t, s.CreateEvent(ctx, model.Event{
			ID:         uuid.New().String(),
			EntityID:   entity,
			FieldKey:   "base_price",
			NewValue:   nu,
			Severity:   model.SeverityLow,
			DetectedAt: base.Add(time.Duration(i) * time.Minute),
			DedupeKey:  uuid.New().String(),
			Status:     model.EventOpen,
		}))
	}

	events, err := s.ListEvents(ctx, EventFilter{EntityID: "acme"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.ListEvents(ctx, EventFilter{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, "globex", events[0].EntityID)

	events, err = s.ListEvents(ctx, EventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRulesLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rule := model.AlertRule{
		ID:          uuid.New().String(),
		EntityScope: model.ScopeAll,
		FieldScope:  "base_price",
		Condition:   model.CondGT,
		Threshold:   "50",
		Channels:    []string{"webhook"},
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateRule(ctx, rule))

	rules, err := s.ListRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.CondGT, rules[0].Condition)

	require.NoError(t, s.SetRuleEnabled(ctx, rule.ID, false))
	rules, err = s.ListRules(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, rules)

	rules, err = s.ListRules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	err = s.SetRuleEnabled(ctx, "missing", true)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestDispatchIdempotenceMarker(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	sent, err := s.HasDispatched(ctx, "ev1", "r1", "webhook")
	require.NoError(t, err)
	assert.False(t, sent)

	// A FAILED record does not mark the triple as delivered.
	require.NoError(t, s.RecordDispatch(ctx, model.DispatchRecord{
		ID: uuid.New().String(), EventID: "ev1", RuleID: "r1", Channel: "webhook",
		Status: model.DispatchFailed, Attempts: 3, LastError: "timeout",
		DispatchedAt: time.Now().UTC(),
	}))
	sent, err = s.HasDispatched(ctx, "ev1", "r1", "webhook")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, s.RecordDispatch(ctx, model.DispatchRecord{
		ID: uuid.New().String(), EventID: "ev1", RuleID: "r1", Channel: "webhook",
		Status: model.DispatchSent, Attempts: 1,
		DispatchedAt: time.Now().UTC(),
	}))
	sent, err = s.HasDispatched(ctx, "ev1", "r1", "webhook")
	require.NoError(t, err)
	assert.True(t, sent)

	// Other channels on the same event are unaffected.
	sent, err = s.HasDispatched(ctx, "ev1", "r1", "slack")
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestReviewTaskOrderingAndGuards(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	evID := seedEvidence(t, s, "acme")

	mkTask := func(priority float64) model.ReviewTask {
		cand := model.ClaimCandidate{
			ID: uuid.New().String(), EntityID: "acme", FieldKey: "base_price",
			RawValue: 1.0, BaseConfidence: 0.5, EvidenceID: evID, CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.CreateCandidate(ctx, cand))
		tk := model.ReviewTask{
			ID: uuid.New().String(), CandidateID: cand.ID,
			EntityID: "acme", FieldKey: "base_price",
			Priority: priority, Status: model.TaskOpen,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.CreateReviewTask(ctx, tk))
		return tk
	}

	low := mkTask(0.05)
	high := mkTask(0.21)
	mid := mkTask(0.12)

	tasks, err := s.ListReviewTasks(ctx, model.TaskOpen, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, high.ID, tasks[0].ID)
	assert.Equal(t, mid.ID, tasks[1].ID)
	assert.Equal(t, low.ID, tasks[2].ID)

	require.NoError(t, s.SetReviewTaskStatus(ctx, high.ID, model.TaskInProgress, ""))
	require.NoError(t, s.SetReviewTaskStatus(ctx, high.ID, model.TaskResolved, "analyst-1"))

	got, err := s.GetReviewTask(ctx, high.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskResolved, got.Status)
	assert.Equal(t, "analyst-1", got.ResolvedBy)

	// Terminal tasks cannot move again.
	err = s.SetReviewTaskStatus(ctx, high.ID, model.TaskRejected, "analyst-2")
	assert.True(t, eris.Is(err, ErrTaskClosed))

	err = s.SetReviewTaskStatus(ctx, "missing", model.TaskResolved, "x")
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestHaltedKeys(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	halted, err := s.IsKeyHalted(ctx, "acme", "base_price")
	require.NoError(t, err)
	assert.False(t, halted)

	require.NoError(t, s.HaltKey(ctx, "acme", "base_price", "projection mismatch at v3"))
	// Idempotent.
	require.NoError(t, s.HaltKey(ctx, "acme", "base_price", "again"))

	halted, err = s.IsKeyHalted(ctx, "acme", "base_price")
	require.NoError(t, err)
	assert.True(t, halted)

	halted, err = s.IsKeyHalted(ctx, "acme", "renewal_term")
	require.NoError(t, err)
	assert.False(t, halted)
}
