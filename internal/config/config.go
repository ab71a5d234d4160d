// Package config defines the top-level configuration for the flow engine and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FLOWBOT_* environment variables.
type Config struct {
	FlowAlpha FlowAlphaConfig `toml:"flowalpha"`
	Intel     IntelConfig     `toml:"intel"`
	Scan      ScanConfig      `toml:"scan"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Exits     ExitsConfig     `toml:"exits"`
	Displace  DisplaceConfig  `toml:"displacement"`
	Learner   LearnerConfig   `toml:"learner"`
	Weights   WeightsConfig   `toml:"weights"`
	Journal   JournalConfig   `toml:"journal"`
	Risk      RiskConfig      `toml:"risk"`
	Regime    RegimeConfig    `toml:"regime"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Watchlist []string        `toml:"watchlist"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
	LogFormat string          `toml:"log_format"`
}

// FlowAlphaConfig holds the intelligence-provider API parameters.
type FlowAlphaConfig struct {
	BaseURL          string   `toml:"base_url"`
	WsURL            string   `toml:"ws_url"`
	ApiKey           string   `toml:"api_key"`
	ApiSecret        string   `toml:"api_secret"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	Timeout          duration `toml:"timeout"`
	// RatePerSec and RateBurst bound REST polling against the provider's
	// published limits.
	RatePerSec float64 `toml:"rate_per_sec"`
	RateBurst  int     `toml:"rate_burst"`
	// Breaker settings: open after BreakerMaxFailures consecutive failures,
	// retry after BreakerCooldown.
	BreakerMaxFailures int      `toml:"breaker_max_failures"`
	BreakerCooldown    duration `toml:"breaker_cooldown"`
}

// IntelConfig holds intelligence-intake parameters.
type IntelConfig struct {
	PollInterval  duration `toml:"poll_interval"`
	CacheTTL      duration `toml:"cache_ttl"`
	StaleAfter    duration `toml:"stale_after"`
	StreamEnabled bool     `toml:"stream_enabled"`
	BatchSize     int      `toml:"batch_size"`
}

// ScanConfig holds candidate-scanner parameters.
type ScanConfig struct {
	Scanners       []string `toml:"scanners"`
	EntryThreshold float64  `toml:"entry_threshold"`
	CandidateTTL   duration `toml:"candidate_ttl"`
	DedupTTL       duration `toml:"dedup_ttl"`
	// FlowSurge trigger levels.
	SurgeMinConviction float64 `toml:"surge_min_conviction"`
	SurgeMinNotional   float64 `toml:"surge_min_notional"`
	// DarkPoolAccum trigger levels.
	DarkMinNotional float64 `toml:"dark_min_notional"`
	DarkMinPrints   int     `toml:"dark_min_prints"`
}

// ScoringConfig holds the composite-scoring policy constants.
type ScoringConfig struct {
	DecayMinutes         float64 `toml:"decay_minutes"`
	ToxicityThreshold    float64 `toml:"toxicity_threshold"`
	ToxicityWeight       float64 `toml:"toxicity_weight"`
	PersistenceBonus     float64 `toml:"persistence_bonus"`
	PersistenceMinStreak int     `toml:"persistence_min_streak"`
	BurstMinSweeps       int     `toml:"burst_min_sweeps"`
	BurstMinBlocks       int     `toml:"burst_min_blocks"`
}

// ExitsConfig holds the exit-urgency policy constants.
type ExitsConfig struct {
	ReconcileInterval      duration `toml:"reconcile_interval"`
	SignalDecayWeight      float64  `toml:"signal_decay_weight"`
	HealthyScoreRatio      float64  `toml:"healthy_score_ratio"`
	FlowReversalWeight     float64  `toml:"flow_reversal_weight"`
	DrawdownVelocityWeight float64  `toml:"drawdown_velocity_weight"`
	DrawdownFullPctPerHour float64  `toml:"drawdown_full_pct_per_hour"`
	TimeDecayWeight        float64  `toml:"time_decay_weight"`
	GraceHours             float64  `toml:"grace_hours"`
	TimeSaturationHours    float64  `toml:"time_saturation_hours"`
	MomentumReversalWeight float64  `toml:"momentum_reversal_weight"`
	MomentumFullScale      float64  `toml:"momentum_full_scale"`
	LossLimitPct           float64  `toml:"loss_limit_pct"`
	LossLimitUrgency       float64  `toml:"loss_limit_urgency"`
	ExitThreshold          float64  `toml:"exit_threshold"`
	ReduceThreshold        float64  `toml:"reduce_threshold"`
	ReduceFraction         float64  `toml:"reduce_fraction"`
}

// DisplaceConfig holds the displacement policy constants.
type DisplaceConfig struct {
	MinScoreDelta   float64  `toml:"min_score_delta"`
	MinHold         duration `toml:"min_hold"`
	EmergencyScore  float64  `toml:"emergency_score"`
	EmergencyPnLPct float64  `toml:"emergency_pnl_pct"`
}

// LearnerConfig holds the adaptive weight-learner constants.
type LearnerConfig struct {
	Alpha              float64 `toml:"alpha"`
	MinSamples         int     `toml:"min_samples"`
	Step               float64 `toml:"step"`
	WilsonZ            float64 `toml:"wilson_z"`
	IncreaseLowerBound float64 `toml:"increase_lower_bound"`
	DecreaseUpperBound float64 `toml:"decrease_upper_bound"`
	NeutralBandLow     float64 `toml:"neutral_band_low"`
	NeutralBandHigh    float64 `toml:"neutral_band_high"`
	DecayFraction      float64 `toml:"decay_fraction"`
	UpdateCron         string  `toml:"update_cron"`
}

// WeightsConfig selects and locates the weight-band store.
type WeightsConfig struct {
	// Backend is "file" or "postgres".
	Backend  string `toml:"backend"`
	FilePath string `toml:"file_path"`
}

// JournalConfig holds attribution-journal parameters.
type JournalConfig struct {
	Dir            string `toml:"dir"`
	Prefix         string `toml:"prefix"`
	FsyncEachWrite bool   `toml:"fsync_each_write"`
}

// RiskConfig holds book-capacity and sizing limits.
type RiskConfig struct {
	MaxPositions      int     `toml:"max_positions"`
	MaxPerSymbol      int     `toml:"max_per_symbol"`
	MaxSymbolNotional float64 `toml:"max_symbol_notional"`
	DefaultSize       float64 `toml:"default_size"`
}

// RegimeConfig holds regime-detection parameters.
type RegimeConfig struct {
	RefreshCron string   `toml:"refresh_cron"`
	StaleAfter  duration `toml:"stale_after"`
	// Volatility-index bands separating NEUTRAL, RISK_OFF, and PANIC.
	VolRiskOff float64 `toml:"vol_risk_off"`
	VolPanic   float64 `toml:"vol_panic"`
	// TrendRiskOn is the index-over-moving-average percent above which the
	// regime reads RISK_ON.
	TrendRiskOn float64 `toml:"trend_risk_on"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage and archival parameters.
type S3Config struct {
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveEnabled       bool   `toml:"archive_enabled"`
	ArchiveCron          string `toml:"archive_cron"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	ApiKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`

	// RateLimit caps API requests per client IP per RateWindow. Zero
	// disables rate limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the documented policy defaults.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		FlowAlpha: FlowAlphaConfig{
			BaseURL:            "https://api.flowalpha.io/v1",
			WsURL:              "wss://stream.flowalpha.io/v1",
			Timeout:            duration{15 * time.Second},
			RatePerSec:         5,
			RateBurst:          10,
			BreakerMaxFailures: 5,
			BreakerCooldown:    duration{30 * time.Second},
		},
		Intel: IntelConfig{
			PollInterval:  duration{1 * time.Minute},
			CacheTTL:      duration{15 * time.Minute},
			StaleAfter:    duration{5 * time.Minute},
			StreamEnabled: true,
			BatchSize:     25,
		},
		Scan: ScanConfig{
			Scanners:           []string{"flow_surge", "darkpool_accumulation"},
			EntryThreshold:     4.0,
			CandidateTTL:       duration{10 * time.Minute},
			DedupTTL:           duration{30 * time.Minute},
			SurgeMinConviction: 0.65,
			SurgeMinNotional:   1_000_000,
			DarkMinNotional:    5_000_000,
			DarkMinPrints:      8,
		},
		Scoring: ScoringConfig{
			DecayMinutes:         180,
			ToxicityThreshold:    0.5,
			ToxicityWeight:       2.0,
			PersistenceBonus:     0.5,
			PersistenceMinStreak: 3,
			BurstMinSweeps:       10,
			BurstMinBlocks:       3,
		},
		Exits: ExitsConfig{
			ReconcileInterval:      duration{1 * time.Minute},
			SignalDecayWeight:      2.5,
			HealthyScoreRatio:      0.70,
			FlowReversalWeight:     3.0,
			DrawdownVelocityWeight: 2.0,
			DrawdownFullPctPerHour: 3.0,
			TimeDecayWeight:        1.5,
			GraceHours:             72,
			TimeSaturationHours:    96,
			MomentumReversalWeight: 1.5,
			MomentumFullScale:      0.02,
			LossLimitPct:           -5.0,
			LossLimitUrgency:       2.0,
			ExitThreshold:          6.0,
			ReduceThreshold:        3.0,
			ReduceFraction:         0.5,
		},
		Displace: DisplaceConfig{
			MinScoreDelta:   0.75,
			MinHold:         duration{20 * time.Minute},
			EmergencyScore:  3.0,
			EmergencyPnLPct: -0.5,
		},
		Learner: LearnerConfig{
			Alpha:              0.15,
			MinSamples:         30,
			Step:               0.05,
			WilsonZ:            1.96,
			IncreaseLowerBound: 0.55,
			DecreaseUpperBound: 0.45,
			NeutralBandLow:     0.48,
			NeutralBandHigh:    0.52,
			DecayFraction:      0.10,
			UpdateCron:         "0 22 * * 1-5", // after the close, weekdays
		},
		Weights: WeightsConfig{
			Backend:  "file",
			FilePath: "data/weights.json",
		},
		Journal: JournalConfig{
			Dir:    "data/journal",
			Prefix: "journal",
		},
		Risk: RiskConfig{
			MaxPositions:      8,
			MaxPerSymbol:      1,
			MaxSymbolNotional: 50_000,
			DefaultSize:       100,
		},
		Regime: RegimeConfig{
			RefreshCron: "*/15 * * * *",
			StaleAfter:  duration{1 * time.Hour},
			VolRiskOff:  22,
			VolPanic:    32,
			TrendRiskOn: 1.0,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flowbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "flowbot-data",
			UseSSL:               false,
			ForcePathStyle:       true,
			ArchiveEnabled:       false,
			ArchiveCron:          "0 3 * * *",
			ArchiveRetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "displacement", "loss_limit", "weight_update", "feed_degraded", "error"},
		},
		Watchlist: []string{},
		Mode:      "trade",
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// validModes enumerates the accepted values for Config.Mode. "replay" is a
// reserved flag value: recognized so it can be rejected with a pointed
// message rather than the generic unknown-mode one.
var validModes = map[string]bool{
	"trade":   true,
	"observe": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	mode := strings.ToLower(c.Mode)
	if mode == "replay" {
		errs = append(errs, "mode \"replay\" is reserved and not implemented; use trade or observe")
	} else if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, observe)", c.Mode))
	}

	// Logging
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Sprintf("unknown log_format %q (valid: json, text)", c.LogFormat))
	}

	// FlowAlpha — a credential source is required whenever intel flows.
	if c.FlowAlpha.BaseURL == "" {
		errs = append(errs, "flowalpha: base_url must not be empty")
	}
	if c.FlowAlpha.ApiSecret == "" && c.FlowAlpha.EncryptedKeyPath == "" {
		errs = append(errs, "flowalpha: either api_secret or encrypted_key_path must be set")
	}
	if c.FlowAlpha.EncryptedKeyPath != "" && c.FlowAlpha.KeyPassword == "" {
		errs = append(errs, "flowalpha: key_password is required when encrypted_key_path is set")
	}
	if c.FlowAlpha.RatePerSec <= 0 {
		errs = append(errs, "flowalpha: rate_per_sec must be > 0")
	}

	// Intel
	if c.Intel.PollInterval.Duration <= 0 {
		errs = append(errs, "intel: poll_interval must be > 0")
	}
	if c.Intel.CacheTTL.Duration < c.Intel.StaleAfter.Duration {
		errs = append(errs, "intel: cache_ttl must not be shorter than stale_after")
	}

	// Watchlist
	if len(c.Watchlist) == 0 {
		errs = append(errs, "watchlist: at least one symbol is required")
	}

	// Scan
	if c.Scan.EntryThreshold <= 0 || c.Scan.EntryThreshold > 8 {
		errs = append(errs, fmt.Sprintf("scan: entry_threshold must be in (0, 8], got %g", c.Scan.EntryThreshold))
	}
	if len(c.Scan.Scanners) == 0 {
		errs = append(errs, "scan: at least one scanner must be enabled")
	}

	// Scoring
	if c.Scoring.DecayMinutes <= 0 {
		errs = append(errs, "scoring: decay_minutes must be > 0")
	}
	if c.Scoring.ToxicityThreshold < 0 || c.Scoring.ToxicityThreshold > 1 {
		errs = append(errs, "scoring: toxicity_threshold must be in [0, 1]")
	}

	// Exits
	if c.Exits.ReduceThreshold >= c.Exits.ExitThreshold {
		errs = append(errs, "exits: reduce_threshold must be below exit_threshold")
	}
	if c.Exits.HealthyScoreRatio <= 0 || c.Exits.HealthyScoreRatio > 1 {
		errs = append(errs, "exits: healthy_score_ratio must be in (0, 1]")
	}
	if c.Exits.LossLimitPct >= 0 {
		errs = append(errs, "exits: loss_limit_pct must be negative")
	}
	if c.Exits.ReduceFraction <= 0 || c.Exits.ReduceFraction >= 1 {
		errs = append(errs, "exits: reduce_fraction must be in (0, 1)")
	}

	// Displacement
	if c.Displace.MinScoreDelta <= 0 {
		errs = append(errs, "displacement: min_score_delta must be > 0")
	}
	if c.Displace.MinHold.Duration <= 0 {
		errs = append(errs, "displacement: min_hold must be > 0")
	}

	// Learner
	if c.Learner.Alpha <= 0 || c.Learner.Alpha >= 1 {
		errs = append(errs, "learner: alpha must be in (0, 1)")
	}
	if c.Learner.MinSamples < 1 {
		errs = append(errs, "learner: min_samples must be >= 1")
	}
	if c.Learner.DecreaseUpperBound >= c.Learner.IncreaseLowerBound {
		errs = append(errs, "learner: decrease_upper_bound must be below increase_lower_bound")
	}
	if c.Learner.NeutralBandLow >= c.Learner.NeutralBandHigh {
		errs = append(errs, "learner: neutral_band_low must be below neutral_band_high")
	}

	// Weights
	switch c.Weights.Backend {
	case "file":
		if c.Weights.FilePath == "" {
			errs = append(errs, "weights: file_path is required for the file backend")
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Sprintf("weights: unknown backend %q (valid: file, postgres)", c.Weights.Backend))
	}

	// Journal
	if c.Journal.Dir == "" {
		errs = append(errs, "journal: dir must not be empty")
	}

	// Risk
	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}
	if c.Risk.DefaultSize <= 0 {
		errs = append(errs, "risk: default_size must be > 0")
	}

	// Regime
	if c.Regime.VolPanic <= c.Regime.VolRiskOff {
		errs = append(errs, "regime: vol_panic must exceed vol_risk_off")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — required only when archival runs.
	if c.S3.ArchiveEnabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
