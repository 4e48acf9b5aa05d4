package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compintel-cli/internal/alert"
	"github.com/sells-group/compintel-cli/internal/model"
	"github.com/sells-group/compintel-cli/internal/pipeline"
	"github.com/sells-group/compintel-cli/internal/registry"
	"github.com/sells-group/compintel-cli/internal/store"
)

// initStore opens the configured backend and brings the schema up to date,
// so every command works against a fresh database.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "compintel.db"
		}
		st, err = store.NewSQLite(path)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func loadRegistry() (*model.FieldRegistry, error) {
	return registry.Load(cfg.Registry.Path)
}

// initDispatcher wires the configured notification channels. A dispatcher
// with no channels still records matches as failed lookups in the log.
func initDispatcher(st store.Store) *alert.Dispatcher {
	timeout := time.Duration(cfg.Dispatch.ChannelTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var channels []alert.Channel
	if cfg.Channels.Webhook.URL != "" {
		channels = append(channels, alert.NewWebhookChannel(cfg.Channels.Webhook.URL, timeout))
	}
	if cfg.Channels.Slack.Token != "" && cfg.Channels.Slack.Channel != "" {
		channels = append(channels, alert.NewSlackChannel(cfg.Channels.Slack.Token, cfg.Channels.Slack.Channel))
	}
	return alert.NewDispatcher(st, cfg.Dispatch, channels...)
}

func initPipeline(st store.Store) (*pipeline.Pipeline, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}
	return pipeline.New(st, reg, cfg.Pipeline, initDispatcher(st)), nil
}
