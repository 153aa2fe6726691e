package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("GEMINI_API_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 5, cfg.MaxQuestionsDaily)
	assert.Equal(t, 60*time.Second, cfg.QuotaCacheTTL)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_QUESTIONS_DAILY", "10")
	t.Setenv("QUOTA_CACHE_TTL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxQuestionsDaily)
	assert.Equal(t, 30*time.Second, cfg.QuotaCacheTTL)
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("GEMINI_API_KEY", "k")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveLimit(t *testing.T) {
	setRequired(t)
	t.Setenv("MAX_QUESTIONS_DAILY", "0")

	_, err := Load()
	assert.Error(t, err)
}
