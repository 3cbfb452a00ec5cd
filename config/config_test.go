package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom(t *testing.T) {
	t.Setenv("SCAN_MAX_TABS", "5")
	t.Setenv("SCAN_JOB_TIMEOUT", "90s")
	t.Setenv("PIPELINE_AUTO_ADVANCE", "false")

	cfg, err := LoadFrom("testdata")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Scan.MaxConcurrentTabs)
	assert.Equal(t, 90*time.Second, cfg.Scan.JobTimeout)
	assert.False(t, cfg.Pipeline.AutoAdvance)
	assert.Equal(t, 30*time.Second, cfg.Scan.IdleCooldown)

	require.Contains(t, cfg.Sites, "kijiji")
	assert.Equal(t, "[data-testid='listing-card']", cfg.Sites["kijiji"].Selectors.Card)

	searches := cfg.SavedSearches()
	require.Len(t, searches, 3)
	assert.Equal(t, "kijiji-gaming-pc", searches[0].ID)
	assert.False(t, searches[2].Enabled)

	searches[0].ID = "changed"
	assert.Equal(t, "kijiji-gaming-pc", cfg.Searches[0].ID)

	assert.Equal(t, 150.0, cfg.Comps.BaseValue)
	assert.NotEmpty(t, cfg.Comps.GPUs)
	assert.Contains(t, cfg.Comps.Urgent, "must go")
}

func TestLoadFrom_MissingDirIsEmpty(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Sites)
	assert.Empty(t, cfg.Searches)
}

func TestLoadFrom_RejectsUnknownSite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "searches"), 0o755))
	search := []byte("searches:\n  - id: s1\n    name: S1\n    site: ebay\n    url: https://example.com\n    enabled: true\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "searches", "s.yaml"), search, 0o644))

	_, err := LoadFrom(dir)
	assert.ErrorContains(t, err, "unknown site")
}

func TestValidate(t *testing.T) {
	cfg, err := LoadFrom("testdata")
	require.NoError(t, err)

	cfg.Scan.MaxConcurrentTabs = 0
	assert.Error(t, cfg.Validate())

	cfg.Scan.MaxConcurrentTabs = 2
	cfg.Scan.Gateway = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}
