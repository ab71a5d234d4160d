package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FLOWBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FLOWBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── FlowAlpha ──
	setStr(&cfg.FlowAlpha.BaseURL, "FLOWBOT_FLOWALPHA_BASE_URL")
	setStr(&cfg.FlowAlpha.WsURL, "FLOWBOT_FLOWALPHA_WS_URL")
	setStr(&cfg.FlowAlpha.ApiKey, "FLOWBOT_FLOWALPHA_API_KEY")
	setStr(&cfg.FlowAlpha.ApiSecret, "FLOWBOT_FLOWALPHA_API_SECRET")
	setStr(&cfg.FlowAlpha.EncryptedKeyPath, "FLOWBOT_FLOWALPHA_ENCRYPTED_KEY_PATH")
	setStr(&cfg.FlowAlpha.KeyPassword, "FLOWBOT_FLOWALPHA_KEY_PASSWORD")
	setDuration(&cfg.FlowAlpha.Timeout, "FLOWBOT_FLOWALPHA_TIMEOUT")
	setFloat64(&cfg.FlowAlpha.RatePerSec, "FLOWBOT_FLOWALPHA_RATE_PER_SEC")
	setInt(&cfg.FlowAlpha.RateBurst, "FLOWBOT_FLOWALPHA_RATE_BURST")
	setInt(&cfg.FlowAlpha.BreakerMaxFailures, "FLOWBOT_FLOWALPHA_BREAKER_MAX_FAILURES")
	setDuration(&cfg.FlowAlpha.BreakerCooldown, "FLOWBOT_FLOWALPHA_BREAKER_COOLDOWN")

	// ── Intel ──
	setDuration(&cfg.Intel.PollInterval, "FLOWBOT_INTEL_POLL_INTERVAL")
	setDuration(&cfg.Intel.CacheTTL, "FLOWBOT_INTEL_CACHE_TTL")
	setDuration(&cfg.Intel.StaleAfter, "FLOWBOT_INTEL_STALE_AFTER")
	setBool(&cfg.Intel.StreamEnabled, "FLOWBOT_INTEL_STREAM_ENABLED")
	setInt(&cfg.Intel.BatchSize, "FLOWBOT_INTEL_BATCH_SIZE")

	// ── Scan ──
	setStringSlice(&cfg.Scan.Scanners, "FLOWBOT_SCAN_SCANNERS")
	setFloat64(&cfg.Scan.EntryThreshold, "FLOWBOT_SCAN_ENTRY_THRESHOLD")
	setDuration(&cfg.Scan.CandidateTTL, "FLOWBOT_SCAN_CANDIDATE_TTL")
	setDuration(&cfg.Scan.DedupTTL, "FLOWBOT_SCAN_DEDUP_TTL")
	setFloat64(&cfg.Scan.SurgeMinConviction, "FLOWBOT_SCAN_SURGE_MIN_CONVICTION")
	setFloat64(&cfg.Scan.SurgeMinNotional, "FLOWBOT_SCAN_SURGE_MIN_NOTIONAL")
	setFloat64(&cfg.Scan.DarkMinNotional, "FLOWBOT_SCAN_DARK_MIN_NOTIONAL")
	setInt(&cfg.Scan.DarkMinPrints, "FLOWBOT_SCAN_DARK_MIN_PRINTS")

	// ── Scoring ──
	setFloat64(&cfg.Scoring.DecayMinutes, "FLOWBOT_SCORING_DECAY_MINUTES")
	setFloat64(&cfg.Scoring.ToxicityThreshold, "FLOWBOT_SCORING_TOXICITY_THRESHOLD")
	setFloat64(&cfg.Scoring.ToxicityWeight, "FLOWBOT_SCORING_TOXICITY_WEIGHT")
	setFloat64(&cfg.Scoring.PersistenceBonus, "FLOWBOT_SCORING_PERSISTENCE_BONUS")
	setInt(&cfg.Scoring.PersistenceMinStreak, "FLOWBOT_SCORING_PERSISTENCE_MIN_STREAK")
	setInt(&cfg.Scoring.BurstMinSweeps, "FLOWBOT_SCORING_BURST_MIN_SWEEPS")
	setInt(&cfg.Scoring.BurstMinBlocks, "FLOWBOT_SCORING_BURST_MIN_BLOCKS")

	// ── Exits ──
	setDuration(&cfg.Exits.ReconcileInterval, "FLOWBOT_EXITS_RECONCILE_INTERVAL")
	setFloat64(&cfg.Exits.SignalDecayWeight, "FLOWBOT_EXITS_SIGNAL_DECAY_WEIGHT")
	setFloat64(&cfg.Exits.HealthyScoreRatio, "FLOWBOT_EXITS_HEALTHY_SCORE_RATIO")
	setFloat64(&cfg.Exits.FlowReversalWeight, "FLOWBOT_EXITS_FLOW_REVERSAL_WEIGHT")
	setFloat64(&cfg.Exits.DrawdownVelocityWeight, "FLOWBOT_EXITS_DRAWDOWN_VELOCITY_WEIGHT")
	setFloat64(&cfg.Exits.DrawdownFullPctPerHour, "FLOWBOT_EXITS_DRAWDOWN_FULL_PCT_PER_HOUR")
	setFloat64(&cfg.Exits.TimeDecayWeight, "FLOWBOT_EXITS_TIME_DECAY_WEIGHT")
	setFloat64(&cfg.Exits.GraceHours, "FLOWBOT_EXITS_GRACE_HOURS")
	setFloat64(&cfg.Exits.TimeSaturationHours, "FLOWBOT_EXITS_TIME_SATURATION_HOURS")
	setFloat64(&cfg.Exits.MomentumReversalWeight, "FLOWBOT_EXITS_MOMENTUM_REVERSAL_WEIGHT")
	setFloat64(&cfg.Exits.MomentumFullScale, "FLOWBOT_EXITS_MOMENTUM_FULL_SCALE")
	setFloat64(&cfg.Exits.LossLimitPct, "FLOWBOT_EXITS_LOSS_LIMIT_PCT")
	setFloat64(&cfg.Exits.LossLimitUrgency, "FLOWBOT_EXITS_LOSS_LIMIT_URGENCY")
	setFloat64(&cfg.Exits.ExitThreshold, "FLOWBOT_EXITS_EXIT_THRESHOLD")
	setFloat64(&cfg.Exits.ReduceThreshold, "FLOWBOT_EXITS_REDUCE_THRESHOLD")
	setFloat64(&cfg.Exits.ReduceFraction, "FLOWBOT_EXITS_REDUCE_FRACTION")

	// ── Displacement ──
	setFloat64(&cfg.Displace.MinScoreDelta, "FLOWBOT_DISPLACEMENT_MIN_SCORE_DELTA")
	setDuration(&cfg.Displace.MinHold, "FLOWBOT_DISPLACEMENT_MIN_HOLD")
	setFloat64(&cfg.Displace.EmergencyScore, "FLOWBOT_DISPLACEMENT_EMERGENCY_SCORE")
	setFloat64(&cfg.Displace.EmergencyPnLPct, "FLOWBOT_DISPLACEMENT_EMERGENCY_PNL_PCT")

	// ── Learner ──
	setFloat64(&cfg.Learner.Alpha, "FLOWBOT_LEARNER_ALPHA")
	setInt(&cfg.Learner.MinSamples, "FLOWBOT_LEARNER_MIN_SAMPLES")
	setFloat64(&cfg.Learner.Step, "FLOWBOT_LEARNER_STEP")
	setFloat64(&cfg.Learner.WilsonZ, "FLOWBOT_LEARNER_WILSON_Z")
	setFloat64(&cfg.Learner.IncreaseLowerBound, "FLOWBOT_LEARNER_INCREASE_LOWER_BOUND")
	setFloat64(&cfg.Learner.DecreaseUpperBound, "FLOWBOT_LEARNER_DECREASE_UPPER_BOUND")
	setFloat64(&cfg.Learner.NeutralBandLow, "FLOWBOT_LEARNER_NEUTRAL_BAND_LOW")
	setFloat64(&cfg.Learner.NeutralBandHigh, "FLOWBOT_LEARNER_NEUTRAL_BAND_HIGH")
	setFloat64(&cfg.Learner.DecayFraction, "FLOWBOT_LEARNER_DECAY_FRACTION")
	setStr(&cfg.Learner.UpdateCron, "FLOWBOT_LEARNER_UPDATE_CRON")

	// ── Weights ──
	setStr(&cfg.Weights.Backend, "FLOWBOT_WEIGHTS_BACKEND")
	setStr(&cfg.Weights.FilePath, "FLOWBOT_WEIGHTS_FILE_PATH")

	// ── Journal ──
	setStr(&cfg.Journal.Dir, "FLOWBOT_JOURNAL_DIR")
	setStr(&cfg.Journal.Prefix, "FLOWBOT_JOURNAL_PREFIX")
	setBool(&cfg.Journal.FsyncEachWrite, "FLOWBOT_JOURNAL_FSYNC_EACH_WRITE")

	// ── Risk ──
	setInt(&cfg.Risk.MaxPositions, "FLOWBOT_RISK_MAX_POSITIONS")
	setInt(&cfg.Risk.MaxPerSymbol, "FLOWBOT_RISK_MAX_PER_SYMBOL")
	setFloat64(&cfg.Risk.MaxSymbolNotional, "FLOWBOT_RISK_MAX_SYMBOL_NOTIONAL")
	setFloat64(&cfg.Risk.DefaultSize, "FLOWBOT_RISK_DEFAULT_SIZE")

	// ── Regime ──
	setStr(&cfg.Regime.RefreshCron, "FLOWBOT_REGIME_REFRESH_CRON")
	setDuration(&cfg.Regime.StaleAfter, "FLOWBOT_REGIME_STALE_AFTER")
	setFloat64(&cfg.Regime.VolRiskOff, "FLOWBOT_REGIME_VOL_RISK_OFF")
	setFloat64(&cfg.Regime.VolPanic, "FLOWBOT_REGIME_VOL_PANIC")
	setFloat64(&cfg.Regime.TrendRiskOn, "FLOWBOT_REGIME_TREND_RISK_ON")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FLOWBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FLOWBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FLOWBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FLOWBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FLOWBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FLOWBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FLOWBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FLOWBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FLOWBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FLOWBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FLOWBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FLOWBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FLOWBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FLOWBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FLOWBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FLOWBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FLOWBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FLOWBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FLOWBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FLOWBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FLOWBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FLOWBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FLOWBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.ArchiveEnabled, "FLOWBOT_S3_ARCHIVE_ENABLED")
	setStr(&cfg.S3.ArchiveCron, "FLOWBOT_S3_ARCHIVE_CRON")
	setInt(&cfg.S3.ArchiveRetentionDays, "FLOWBOT_S3_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FLOWBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FLOWBOT_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "FLOWBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "FLOWBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "FLOWBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FLOWBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FLOWBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FLOWBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FLOWBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FLOWBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStringSlice(&cfg.Watchlist, "FLOWBOT_WATCHLIST")
	setStr(&cfg.Mode, "FLOWBOT_MODE")
	setStr(&cfg.LogLevel, "FLOWBOT_LOG_LEVEL")
	setStr(&cfg.LogFormat, "FLOWBOT_LOG_FORMAT")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
