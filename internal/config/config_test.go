package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoice-gateway/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
	assert.Equal(t, 3, cfg.MaxRetryAttempts)
	assert.Equal(t, time.Second, cfg.PollBase)
	assert.Equal(t, 30*time.Second, cfg.PollCap)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.False(t, cfg.Debug)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("EINVOICE_GATEWAY_AUTHORITY_BASE_URL", "https://authority.example.test")
	t.Setenv("EINVOICE_GATEWAY_AUTH_TOKEN", "secret")
	t.Setenv("EINVOICE_GATEWAY_MAX_RETRY_ATTEMPTS", "5")
	t.Setenv("EINVOICE_GATEWAY_DEBUG", "true")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://authority.example.test", cfg.AuthorityBaseURL)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, 5, cfg.MaxRetryAttempts)
	assert.True(t, cfg.Debug)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := `authority_base_url: https://authority.example.test
auth_token: file-token
context_identifier: "5213017228"
poll_base: 2s
poll_cap: 1m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://authority.example.test", cfg.AuthorityBaseURL)
	assert.Equal(t, "file-token", cfg.AuthToken)
	assert.Equal(t, "5213017228", cfg.ContextIdentifier)
	assert.Equal(t, 2*time.Second, cfg.PollBase)
	assert.Equal(t, time.Minute, cfg.PollCap)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth_token: file-token\n"), 0o644))

	t.Setenv("EINVOICE_GATEWAY_AUTH_TOKEN", "env-token")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.AuthToken)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/nonexistent/gateway.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := config.Default()
	valid.AuthorityBaseURL = "https://authority.example.test"
	valid.AuthToken = "secret"
	require.NoError(t, valid.Validate())

	noURL := valid
	noURL.AuthorityBaseURL = ""
	assert.Error(t, noURL.Validate())

	noToken := valid
	noToken.AuthToken = ""
	assert.Error(t, noToken.Validate())

	badRetries := valid
	badRetries.MaxRetryAttempts = 0
	assert.Error(t, badRetries.Validate())

	badPoll := valid
	badPoll.PollBase = 10 * time.Second
	badPoll.PollCap = time.Second
	assert.Error(t, badPoll.Validate())
}
