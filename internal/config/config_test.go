package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns Defaults() with the fields an operator must supply.
func validConfig() Config {
	cfg := Defaults()
	cfg.Watchlist = []string{"NVDA", "AMD"}
	cfg.FlowAlpha.ApiKey = "key-1"
	cfg.FlowAlpha.ApiSecret = "c2VjcmV0"
	return cfg
}

func TestDefaultsCarryPolicyValues(t *testing.T) {
	cfg := Defaults()

	assert.InDelta(t, 180.0, cfg.Scoring.DecayMinutes, 1e-9)
	assert.InDelta(t, 0.5, cfg.Scoring.ToxicityThreshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.Scoring.PersistenceBonus, 1e-9)

	assert.InDelta(t, 6.0, cfg.Exits.ExitThreshold, 1e-9)
	assert.InDelta(t, 3.0, cfg.Exits.ReduceThreshold, 1e-9)
	assert.InDelta(t, -5.0, cfg.Exits.LossLimitPct, 1e-9)
	assert.InDelta(t, 2.0, cfg.Exits.LossLimitUrgency, 1e-9)

	assert.InDelta(t, 0.75, cfg.Displace.MinScoreDelta, 1e-9)
	assert.Equal(t, 20*time.Minute, cfg.Displace.MinHold.Duration)
	assert.InDelta(t, 3.0, cfg.Displace.EmergencyScore, 1e-9)
	assert.InDelta(t, -0.5, cfg.Displace.EmergencyPnLPct, 1e-9)

	assert.InDelta(t, 0.15, cfg.Learner.Alpha, 1e-9)
	assert.Equal(t, 30, cfg.Learner.MinSamples)
	assert.InDelta(t, 0.05, cfg.Learner.Step, 1e-9)
	assert.InDelta(t, 1.96, cfg.Learner.WilsonZ, 1e-9)
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg.Mode = "observe"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsReplayMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "replay"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay")
	assert.Contains(t, err.Error(), "not implemented")
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "yolo"
	cfg.Watchlist = nil
	cfg.Exits.ReduceThreshold = 7 // above exit threshold
	cfg.Learner.Alpha = 2
	cfg.Weights.Backend = "sqlite"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "unknown mode")
	assert.Contains(t, msg, "watchlist")
	assert.Contains(t, msg, "reduce_threshold")
	assert.Contains(t, msg, "learner: alpha")
	assert.Contains(t, msg, "weights: unknown backend")
	assert.Contains(t, msg, "\n  - ", "problems are reported as a bullet list")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "observe"
watchlist = ["NVDA", "TSLA"]

[scoring]
decay_minutes = 240.0

[displacement]
min_hold = "45m"

[flowalpha]
api_key = "file-key"
api_secret = "file-secret"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("FLOWBOT_FLOWALPHA_API_SECRET", "env-secret")
	t.Setenv("FLOWBOT_LEARNER_MIN_SAMPLES", "50")
	t.Setenv("FLOWBOT_DISPLACEMENT_MIN_HOLD", "30m")

	cfg, err := Load(path)
	require.NoError(t, err)

	// File overrides defaults.
	assert.Equal(t, "observe", cfg.Mode)
	assert.InDelta(t, 240.0, cfg.Scoring.DecayMinutes, 1e-9)
	assert.Equal(t, []string{"NVDA", "TSLA"}, cfg.Watchlist)

	// Env overrides the file.
	assert.Equal(t, "env-secret", cfg.FlowAlpha.ApiSecret)
	assert.Equal(t, 50, cfg.Learner.MinSamples)
	assert.Equal(t, 30*time.Minute, cfg.Displace.MinHold.Duration)

	// Untouched defaults survive the merge.
	assert.InDelta(t, 0.75, cfg.Displace.MinScoreDelta, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "redispw"
	cfg.Notify.TelegramToken = "12345:token"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.FlowAlpha.ApiSecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// The original is untouched, and the copy's slices are private.
	assert.Equal(t, "c2VjcmV0", cfg.FlowAlpha.ApiSecret)
	red.Watchlist[0] = "XXXX"
	assert.Equal(t, "NVDA", cfg.Watchlist[0])
}
