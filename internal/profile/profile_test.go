package profile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileDefaults(t *testing.T) {
	clearEnvVars(t)

	profile := &Profile{}
	profile.FromEnv()

	assert.Equal(t, "http://127.0.0.1:8765", profile.BridgeURL)
	assert.Equal(t, DefaultQueueSize, profile.QueueSize)
	assert.Equal(t, time.Second, profile.IdleInterval)
	assert.Equal(t, time.Second, profile.PollInterval)
	assert.Equal(t, 3*time.Second, profile.DisconnectedBackoff)
	assert.Equal(t, 2*time.Second, profile.FetchErrorBackoff)
	assert.Equal(t, 5*time.Second, profile.IterationErrorBackoff)
	assert.Equal(t, 60*time.Second, profile.PopTimeout)
	assert.Equal(t, DefaultLLMBaseURL, profile.LLMBaseURL)
	assert.Equal(t, DefaultLLMFallbackURLs, profile.LLMFallbackURLs)
	assert.Equal(t, 2, profile.HistoryLoadAttempts)
	assert.Empty(t, profile.SecretKey)
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		check    func(t *testing.T, p *Profile)
	}{
		{
			name:     "bridge url",
			envVar:   "REPLYBRIDGE_BRIDGE_URL",
			envValue: "http://10.0.0.2:9000",
			check:    func(t *testing.T, p *Profile) { assert.Equal(t, "http://10.0.0.2:9000", p.BridgeURL) },
		},
		{
			name:     "duration in go syntax",
			envVar:   "REPLYBRIDGE_MONITOR_POLL_INTERVAL",
			envValue: "1500ms",
			check:    func(t *testing.T, p *Profile) { assert.Equal(t, 1500*time.Millisecond, p.PollInterval) },
		},
		{
			name:     "duration in seconds",
			envVar:   "REPLYBRIDGE_PROCESSOR_POP_TIMEOUT",
			envValue: "10",
			check:    func(t *testing.T, p *Profile) { assert.Equal(t, 10*time.Second, p.PopTimeout) },
		},
		{
			name:     "invalid duration falls back",
			envVar:   "REPLYBRIDGE_MONITOR_IDLE_INTERVAL",
			envValue: "soon",
			check:    func(t *testing.T, p *Profile) { assert.Equal(t, DefaultIdleInterval, p.IdleInterval) },
		},
		{
			name:     "fallback list",
			envVar:   "REPLYBRIDGE_LLM_FALLBACK_URLS",
			envValue: "https://a.example/v1, ,https://b.example/v1",
			check: func(t *testing.T, p *Profile) {
				assert.Equal(t, []string{"https://a.example/v1", "https://b.example/v1"}, p.LLMFallbackURLs)
			},
		},
		{
			name:     "send rate",
			envVar:   "REPLYBRIDGE_SEND_RATE",
			envValue: "0.5",
			check:    func(t *testing.T, p *Profile) { assert.InDelta(t, 0.5, p.SendRate, 1e-9) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			t.Setenv(tt.envVar, tt.envValue)

			profile := &Profile{}
			profile.FromEnv()
			tt.check(t, profile)
		})
	}
}

func TestProfileFlagsWinOverEnv(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("REPLYBRIDGE_QUEUE_SIZE", "5")

	profile := &Profile{QueueSize: 42}
	profile.FromEnv()
	assert.Equal(t, 42, profile.QueueSize)
}

func TestProfileValidate(t *testing.T) {
	t.Run("sqlite dsn derived from data dir", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{Mode: "dev", Data: dir, QueueSize: 10}
		require.NoError(t, p.Validate())
		assert.Equal(t, "sqlite", p.Driver)
		assert.Equal(t, filepath.Join(dir, "replybridge_dev.db"), p.DSN)
	})

	t.Run("unknown mode becomes demo", func(t *testing.T) {
		p := &Profile{Mode: "staging", Data: t.TempDir(), QueueSize: 10}
		require.NoError(t, p.Validate())
		assert.Equal(t, "demo", p.Mode)
	})

	t.Run("missing data dir is created", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		p := &Profile{Mode: "dev", Data: dir, QueueSize: 10}
		require.NoError(t, p.Validate())
		assert.DirExists(t, dir)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", Driver: "postgres", Data: t.TempDir(), QueueSize: 10}
		assert.Error(t, p.Validate())
	})

	t.Run("unsupported driver", func(t *testing.T) {
		p := &Profile{Driver: "mysql", Data: t.TempDir(), QueueSize: 10}
		assert.Error(t, p.Validate())
	})

	t.Run("short secret key", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir(), QueueSize: 10, SecretKey: "short"}
		assert.Error(t, p.Validate())
	})
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"REPLYBRIDGE_BRIDGE_URL",
		"REPLYBRIDGE_BRIDGE_API_KEY",
		"REPLYBRIDGE_SECRET_KEY",
		"REPLYBRIDGE_METRICS_ADDR",
		"REPLYBRIDGE_QUEUE_SIZE",
		"REPLYBRIDGE_MONITOR_IDLE_INTERVAL",
		"REPLYBRIDGE_MONITOR_POLL_INTERVAL",
		"REPLYBRIDGE_MONITOR_DISCONNECTED_BACKOFF",
		"REPLYBRIDGE_MONITOR_FETCH_ERROR_BACKOFF",
		"REPLYBRIDGE_MONITOR_ERROR_BACKOFF",
		"REPLYBRIDGE_PROCESSOR_POP_TIMEOUT",
		"REPLYBRIDGE_LLM_BASE_URL",
		"REPLYBRIDGE_LLM_FALLBACK_URLS",
		"REPLYBRIDGE_LLM_TIMEOUT",
		"REPLYBRIDGE_SEND_RATE",
		"REPLYBRIDGE_SEND_BURST",
		"REPLYBRIDGE_HISTORY_LOAD_ATTEMPTS",
	} {
		t.Setenv(key, "")
	}
}
