package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunchdao/model-runner-orchestrator/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("ORCH_CRUNCH_ID", "crunch-1")
	t.Setenv("ORCH_HOST", "example.org")
	t.Setenv("ORCH_PORT", "1234")

	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "crunch-1", cfg.CrunchID)
	assert.Equal(t, "example.org", cfg.Host)
	assert.Equal(t, 1234, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 5, cfg.RetryAttempts)
	assert.Equal(t, 3, cfg.MaxConsecutiveFailures)
	assert.True(t, cfg.ReportFailure)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crunch_id: from-file\nhost: file-host\nport: 9090\n"), 0o600))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.CrunchID)
	assert.Equal(t, "file-host", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	_, err := config.Load("", nil)
	require.Error(t, err)
}
