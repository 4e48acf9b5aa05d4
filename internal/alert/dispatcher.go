package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/compintel-cli/internal/config"
	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/resilience"
	"github.com/sells-group/compintel-cli/internal/store"
)

// Dispatcher evaluates enabled rules against events and delivers matched
// notifications exactly once per (event, rule, channel). A SENT record
// suppresses re-delivery on later cycles; failures are recorded and leave
// the event OPEN for manual follow-up.
type Dispatcher struct {
	store          store.Store
	channels       map[string]Channel
	retry          resilience.RetryConfig
	limiter        *rate.Limiter
	channelTimeout time.Duration
}

// NewDispatcher creates a Dispatcher over the given channels.
func NewDispatcher(st store.Store, cfg config.DispatchConfig, channels ...Channel) *Dispatcher {
	byName := make(map[string]Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMS > 0 {
		retry.InitialBackoff = time.Duration(cfg.InitialBackoffMS) * time.Millisecond
	}

	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	timeout := time.Duration(cfg.ChannelTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Dispatcher{
		store:          st,
		channels:       byName,
		retry:          retry,
		limiter:        rate.NewLimiter(rate.Limit(perSec), int(perSec)+1),
		channelTimeout: timeout,
	}
}

// HandleEvent evaluates all enabled rules against one newly opened event.
// Implements the pipeline's notifier hook.
func (d *Dispatcher) HandleEvent(ctx context.Context, event model.Event) error {
	rules, err := d.store.ListRules(ctx, true)
	if err != nil {
		return eris.Wrap(err, "dispatch: load rules")
	}

	var firstErr error
	for _, rule := range rules {
		if !Matches(rule, event) {
			continue
		}
		if err := d.dispatchRule(ctx, event, rule); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run sweeps all OPEN events against the current rule set. Used by the
// dispatch command to re-deliver after failures or rule changes; dispatch
// records make each sweep idempotent.
func (d *Dispatcher) Run(ctx context.Context) (int, error) {
	events, err := d.store.ListEvents(ctx, store.EventFilter{Status: model.EventOpen, Limit: 1000})
	if err != nil {
		return 0, eris.Wrap(err, "dispatch: load open events")
	}
	rules, err := d.store.ListRules(ctx, true)
	if err != nil {
		return 0, eris.Wrap(err, "dispatch: load rules")
	}

	sent := 0
	for _, event := range events {
		for _, rule := range rules {
			if !Matches(rule, event) {
				continue
			}
			if err := d.dispatchRule(ctx, event, rule); err != nil {
				if ctx.Err() != nil {
					return sent, ctx.Err()
				}
				continue
			}
			sent++
		}
	}
	return sent, nil
}

// dispatchRule delivers one matched (event, rule) pair on each of the rule's
// channels. Timeouts are per channel; a slow or failing channel never blocks
// the others.
func (d *Dispatcher) dispatchRule(ctx context.Context, event model.Event, rule model.AlertRule) error {
	var firstErr error
	for _, name := range rule.Channels {
		ch, ok := d.channels[name]
		if !ok {
			zap.L().Warn("dispatch: unknown channel",
				zap.String("channel", name),
				zap.String("rule", rule.ID),
			)
			continue
		}

		already, err := d.store.HasDispatched(ctx, event.ID, rule.ID, name)
		if err != nil {
			return err
		}
		if already {
			continue
		}

		if err := d.send(ctx, event, rule, ch); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *Dispatcher) send(ctx context.Context, event model.Event, rule model.AlertRule, ch Channel) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "dispatch: rate limit wait")
	}

	attempts := 0
	retry := d.retry
	retry.OnRetry = resilience.RetryLogger(ch.Name(), "dispatch")

	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, d.channelTimeout)
		defer cancel()
		return ch.Send(sendCtx, event, rule)
	})

	status := model.DispatchSent
	lastError := ""
	if err != nil {
		status = model.DispatchFailed
		lastError = err.Error()
		zap.L().Error("dispatch: delivery failed",
			zap.String("event_id", event.ID),
			zap.String("rule_id", rule.ID),
			zap.String("channel", ch.Name()),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	} else {
		zap.L().Info("dispatch: delivered",
			zap.String("event_id", event.ID),
			zap.String("rule_id", rule.ID),
			zap.String("channel", ch.Name()),
		)
	}

	if recErr := d.store.RecordDispatch(ctx, model.DispatchRecord{
		ID:           uuid.New().String(),
		EventID:      event.ID,
		RuleID:       rule.ID,
		Channel:      ch.Name(),
		Status:       status,
		Attempts:     attempts,
		LastError:    lastError,
		DispatchedAt: time.Now().UTC(),
	}); recErr != nil {
		return eris.Wrap(recErr, "dispatch: record")
	}
	return err
}
