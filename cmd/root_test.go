package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel-cli/internal/config"
	"github.com/sells-group/compintel-cli/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"ingest", "claims", "review", "events", "rules", "dispatch", "migrate", "evidence"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "compintel", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestClaimsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range claimsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"show", "history", "verify"} {
		assert.True(t, names[name], "expected claims subcommand %q not found", name)
	}

	flag := claimsVerifyCmd.Flags().Lookup("rebuild")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestReviewCommand_Flags(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range reviewCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "start", "resolve", "reject"} {
		assert.True(t, names[name], "expected review subcommand %q not found", name)
	}

	flag := reviewResolveCmd.Flags().Lookup("reviewer")
	require.NotNil(t, flag, "review resolve should have --reviewer flag")
	flag = reviewResolveCmd.Flags().Lookup("value")
	require.NotNil(t, flag, "review resolve should have --value flag")
}

func TestRulesAddCommand_Defaults(t *testing.T) {
	flag := rulesAddCmd.Flags().Lookup("condition")
	require.NotNil(t, flag)
	assert.Equal(t, "CHANGED", flag.DefValue)

	flag = rulesAddCmd.Flags().Lookup("entity")
	require.NotNil(t, flag)
	assert.Equal(t, "ALL", flag.DefValue)
}

func TestInitStoreMigratesFreshDatabase(t *testing.T) {
	prev := cfg
	t.Cleanup(func() { cfg = prev })
	cfg = &config.Config{
		Store: config.StoreConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "compintel.db"),
		},
	}

	ctx := context.Background()
	st, err := initStore(ctx)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	// Read-only commands hit the schema immediately, so the store must be
	// migrated by the time initStore returns.
	claims, err := st.ListCurrentClaims(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, claims)

	tasks, err := st.ListReviewTasks(ctx, model.TaskOpen, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEventsListCommand_Flags(t *testing.T) {
	flag := eventsListCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "50", flag.DefValue)
}
