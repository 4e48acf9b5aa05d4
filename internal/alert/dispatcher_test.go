package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel-cli/internal/config"
	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/resilience"
	"github.com/sells-group/compintel-cli/internal/store"
)

type fakeChannel struct {
	name     string
	calls    atomic.Int32
	failures int32 // fail the first N sends with a transient error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, _ model.Event, _ model.AlertRule) error {
	n := f.calls.Add(1)
	if n <= f.failures {
		return resilience.NewTransientError(eris.New("boom"), 503)
	}
	return nil
}

func newTestDispatcher(t *testing.T, channels ...Channel) (*Dispatcher, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	d := NewDispatcher(s, config.DispatchConfig{
		MaxAttempts:        3,
		InitialBackoffMS:   1,
		ChannelTimeoutSecs: 2,
		RatePerSec:         1000,
	}, channels...)
	return d, s
}

func seedEventAndRule(t *testing.T, s store.Store, channels ...string) (model.Event, model.AlertRule) {
	t.Helper()
	ctx := context.Background()

	nu := &model.Value{Type: model.ValueNumber, Number: 59}
	event := model.Event{
		ID:         uuid.New().String(),
		EntityID:   "acme",
		FieldKey:   "base_price",
		NewValue:   nu,
		Severity:   model.SeverityHigh,
		DetectedAt: time.Now().UTC(),
		DedupeKey:  uuid.New().String(),
		Status:     model.EventOpen,
	}
	require.NoError(t, s.CreateEvent(ctx, event))

	rule := model.AlertRule{
		ID:          uuid.New().String(),
		EntityScope: model.ScopeAll,
		FieldScope:  "base_price",
		Condition:   model.CondChanged,
		Channels:    channels,
		Enabled:     true,
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateRule(ctx, rule))
	return event, rule
}

func TestDispatcherSendsOncePerTriple(t *testing.T) {
	ch := &fakeChannel{name: "webhook"}
	d, s := newTestDispatcher(t, ch)
	ctx := context.Background()

	event, rule := seedEventAndRule(t, s, "webhook")

	require.NoError(t, d.HandleEvent(ctx, event))
	assert.Equal(t, int32(1), ch.calls.Load())

	// Re-running the matcher does not re-notify.
	sent, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(1), ch.calls.Load())

	has, err := s.HasDispatched(ctx, event.ID, rule.ID, "webhook")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	ch := &fakeChannel{name: "webhook", failures: 2}
	d, s := newTestDispatcher(t, ch)
	ctx := context.Background()

	event, rule := seedEventAndRule(t, s, "webhook")

	require.NoError(t, d.HandleEvent(ctx, event))
	assert.Equal(t, int32(3), ch.calls.Load())

	has, err := s.HasDispatched(ctx, event.ID, rule.ID, "webhook")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDispatcherExhaustionLeavesEventOpen(t *testing.T) {
	ch := &fakeChannel{name: "webhook", failures: 99}
	d, s := newTestDispatcher(t, ch)
	ctx := context.Background()

	event, rule := seedEventAndRule(t, s, "webhook")

	err := d.HandleEvent(ctx, event)
	require.Error(t, err)
	assert.Equal(t, int32(3), ch.calls.Load())

	// Failure is recorded but does not count as delivered, and the event
	// stays OPEN for manual follow-up.
	has, err := s.HasDispatched(ctx, event.ID, rule.ID, "webhook")
	require.NoError(t, err)
	assert.False(t, has)

	events, err := s.ListEvents(ctx, store.EventFilter{Status: model.EventOpen})
	require.NoError(t, err)
	require.Len(t, events, 1)

	// A later sweep retries the failed triple.
	ch.failures = 0
	ch.calls.Store(0)
	sent, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestDispatcherSlowChannelDoesNotBlockOthers(t *testing.T) {
	fast := &fakeChannel{name: "webhook"}
	slow := &fakeChannel{name: "slack", failures: 99}
	d, s := newTestDispatcher(t, slow, fast)
	ctx := context.Background()

	event, rule := seedEventAndRule(t, s, "slack", "webhook")

	err := d.HandleEvent(ctx, event)
	require.Error(t, err)

	// The healthy channel delivered despite the failing one.
	has, err := s.HasDispatched(ctx, event.ID, rule.ID, "webhook")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = s.HasDispatched(ctx, event.ID, rule.ID, "slack")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestWebhookChannelStatusHandling(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	var received atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)

	ch := NewWebhookChannel(srv.URL, time.Second)
	event, rule := model.Event{ID: "ev-1", EntityID: "acme", FieldKey: "base_price"}, model.AlertRule{ID: "r-1"}

	require.NoError(t, ch.Send(context.Background(), event, rule))

	status.Store(http.StatusServiceUnavailable)
	err := ch.Send(context.Background(), event, rule)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	status.Store(http.StatusBadRequest)
	err = ch.Send(context.Background(), event, rule)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(3), received.Load())
}
