package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogurasousui/directory-sync/internal/core/lookup"
	"github.com/ogurasousui/directory-sync/internal/core/reconcile"
	"github.com/ogurasousui/directory-sync/internal/platform/config"
)

func TestSyncOptions(t *testing.T) {
	t.Parallel()

	opts, err := syncOptions(config.SyncConfig{
		Concurrency:  4,
		InvalidDates: "skip",
		DryRun:       true,
		Lookups:      config.LookupPolicies{Unit: "exact", Department: "fold"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, opts.Concurrency)
	assert.Equal(t, reconcile.DatePolicySkip, opts.InvalidDates)
	assert.True(t, opts.DryRun)
	assert.Equal(t, lookup.PolicyExact, opts.LabelPolicies[lookup.DimensionUnit])
	assert.Equal(t, lookup.PolicyFold, opts.LabelPolicies[lookup.DimensionDepartment])
}

func TestSyncOptionsRejectsUnknownPolicies(t *testing.T) {
	t.Parallel()

	_, err := syncOptions(config.SyncConfig{InvalidDates: "explode"})
	assert.Error(t, err)

	_, err = syncOptions(config.SyncConfig{Lookups: config.LookupPolicies{Department: "soundex"}})
	assert.ErrorContains(t, err, "sync.lookups.department")
}

func TestEffectiveConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, defaultConfigPath, effectiveConfigPath(""))

	t.Setenv("CONFIG_PATH", "/etc/directory-sync.yaml")
	assert.Equal(t, "/etc/directory-sync.yaml", effectiveConfigPath(""))
	assert.Equal(t, "custom.yaml", effectiveConfigPath("custom.yaml"))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newApp().rootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "serve", "migrate"}, names)

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.NotNil(t, run.Flags().Lookup("dry-run"))
}
