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
// built-in defaults, applies ODDSMESH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known ODDSMESH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ODDSMESH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ODDSMESH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ODDSMESH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ODDSMESH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ODDSMESH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ODDSMESH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ODDSMESH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ODDSMESH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ODDSMESH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ODDSMESH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ODDSMESH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ODDSMESH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ODDSMESH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ODDSMESH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ODDSMESH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ODDSMESH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ODDSMESH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ODDSMESH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ODDSMESH_S3_REGION")
	setStr(&cfg.S3.Bucket, "ODDSMESH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ODDSMESH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ODDSMESH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ODDSMESH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ODDSMESH_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "ODDSMESH_FEED_SOURCE")
	setStr(&cfg.Feed.SnapshotPath, "ODDSMESH_FEED_SNAPSHOT_PATH")
	setStr(&cfg.Feed.RelayURL, "ODDSMESH_FEED_RELAY_URL")
	setStringSlice(&cfg.Feed.Venues, "ODDSMESH_FEED_VENUES")

	// ── Normalize ──
	setDuration(&cfg.Normalize.StalenessBound, "ODDSMESH_NORMALIZE_STALENESS_BOUND")
	setStringSlice(&cfg.Normalize.ExtraNoiseTokens, "ODDSMESH_NORMALIZE_EXTRA_NOISE_TOKENS")
	setInt(&cfg.Normalize.MinMentionLen, "ODDSMESH_NORMALIZE_MIN_MENTION_LEN")

	// ── Resolve ──
	setDuration(&cfg.Resolve.BlockWindow, "ODDSMESH_RESOLVE_BLOCK_WINDOW")
	setFloat64(&cfg.Resolve.TokenWeight, "ODDSMESH_RESOLVE_TOKEN_WEIGHT")
	setFloat64(&cfg.Resolve.DateWeight, "ODDSMESH_RESOLVE_DATE_WEIGHT")
	setFloat64(&cfg.Resolve.AdmissionFloor, "ODDSMESH_RESOLVE_ADMISSION_FLOOR")
	setFloat64(&cfg.Resolve.AcceptAbove, "ODDSMESH_RESOLVE_ACCEPT_ABOVE")
	setFloat64(&cfg.Resolve.RejectBelow, "ODDSMESH_RESOLVE_REJECT_BELOW")
	setFloat64(&cfg.Resolve.CentralityCut, "ODDSMESH_RESOLVE_CENTRALITY_CUT")
	setInt(&cfg.Resolve.MaxPairsPerNode, "ODDSMESH_RESOLVE_MAX_PAIRS_PER_NODE")
	setStringSlice(&cfg.Resolve.ExtraGenericTerms, "ODDSMESH_RESOLVE_EXTRA_GENERIC_TERMS")
	setStringSlice(&cfg.Resolve.ExtraQualifiers, "ODDSMESH_RESOLVE_EXTRA_QUALIFIERS")
	setInt(&cfg.Resolve.BlockWorkers, "ODDSMESH_RESOLVE_BLOCK_WORKERS")

	// ── Oracle ──
	setBool(&cfg.Oracle.Enabled, "ODDSMESH_ORACLE_ENABLED")
	setStr(&cfg.Oracle.APIKey, "ODDSMESH_ORACLE_API_KEY")
	setStr(&cfg.Oracle.APIKey, "ANTHROPIC_API_KEY") // compatibility alias
	setStr(&cfg.Oracle.Model, "ODDSMESH_ORACLE_MODEL")
	setDuration(&cfg.Oracle.Timeout, "ODDSMESH_ORACLE_TIMEOUT")
	setInt(&cfg.Oracle.MaxConcurrent, "ODDSMESH_ORACLE_MAX_CONCURRENT")
	setInt(&cfg.Oracle.CallBudget, "ODDSMESH_ORACLE_CALL_BUDGET")
	setFloat64(&cfg.Oracle.MinConfidence, "ODDSMESH_ORACLE_MIN_CONFIDENCE")
	setInt(&cfg.Oracle.TopK, "ODDSMESH_ORACLE_TOP_K")
	setDuration(&cfg.Oracle.CacheTTL, "ODDSMESH_ORACLE_CACHE_TTL")

	// ── Project ──
	setInt(&cfg.Project.MaxIterations, "ODDSMESH_PROJECT_MAX_ITERATIONS")
	setFloat64(&cfg.Project.Tolerance, "ODDSMESH_PROJECT_TOLERANCE")
	setInt(&cfg.Project.QuantizeDecimals, "ODDSMESH_PROJECT_QUANTIZE_DECIMALS")
	setDuration(&cfg.Project.CacheTTL, "ODDSMESH_PROJECT_CACHE_TTL")

	// ── Detect ──
	setFloat64(&cfg.Detect.SumEpsilon, "ODDSMESH_DETECT_SUM_EPSILON")
	setFloat64(&cfg.Detect.TransactionCost, "ODDSMESH_DETECT_TRANSACTION_COST")
	setFloat64(&cfg.Detect.MinNetEV, "ODDSMESH_DETECT_MIN_NET_EV")
	setFloat64(&cfg.Detect.ReferenceEV, "ODDSMESH_DETECT_REFERENCE_EV")

	// ── Epoch ──
	setDuration(&cfg.Epoch.Interval, "ODDSMESH_EPOCH_INTERVAL")
	setInt(&cfg.Epoch.ClusterWorkers, "ODDSMESH_EPOCH_CLUSTER_WORKERS")
	setDuration(&cfg.Epoch.LockTTL, "ODDSMESH_EPOCH_LOCK_TTL")
	setDuration(&cfg.Epoch.FlushTimeout, "ODDSMESH_EPOCH_FLUSH_TIMEOUT")
	setStr(&cfg.Epoch.SignalChannel, "ODDSMESH_EPOCH_SIGNAL_CHANNEL")
	setStr(&cfg.Epoch.SignalStream, "ODDSMESH_EPOCH_SIGNAL_STREAM")
	setBool(&cfg.Epoch.ArchiveUploads, "ODDSMESH_EPOCH_ARCHIVE_UPLOADS")
	setDuration(&cfg.Epoch.ArchiveRetention, "ODDSMESH_EPOCH_ARCHIVE_RETENTION")
	setBool(&cfg.Epoch.PersistClusters, "ODDSMESH_EPOCH_PERSIST_CLUSTERS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ODDSMESH_MODE")
	setStr(&cfg.LogLevel, "ODDSMESH_LOG_LEVEL")
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
