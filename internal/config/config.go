// Package config defines the top-level configuration for the oddsmesh
// resolution engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ODDSMESH_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Feed      FeedConfig      `toml:"feed"`
	Normalize NormalizeConfig `toml:"normalize"`
	Resolve   ResolveConfig   `toml:"resolve"`
	Oracle    OracleConfig    `toml:"oracle"`
	Project   ProjectConfig   `toml:"project"`
	Detect    DetectConfig    `toml:"detect"`
	Epoch     EpochConfig     `toml:"epoch"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
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

// S3Config holds S3-compatible object storage parameters for the epoch
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig selects and parameterizes the listing source.
type FeedConfig struct {
	// Source selects the ingestion boundary: "file" reads snapshot JSON from
	// snapshot_path, "ws" consumes raw listing frames from a relay.
	Source       string   `toml:"source"`
	SnapshotPath string   `toml:"snapshot_path"`
	RelayURL     string   `toml:"relay_url"`
	Venues       []string `toml:"venues"`
}

// NormalizeConfig holds listing canonicalization parameters.
type NormalizeConfig struct {
	StalenessBound duration `toml:"staleness_bound"`
	// ExtraNoiseTokens extends the built-in noise token list per deployment.
	ExtraNoiseTokens []string `toml:"extra_noise_tokens"`
	MinMentionLen    int      `toml:"min_mention_len"`
}

// ResolveConfig holds similarity graph and clustering parameters.
type ResolveConfig struct {
	BlockWindow     duration `toml:"block_window"`
	TokenWeight     float64  `toml:"token_weight"`
	DateWeight      float64  `toml:"date_weight"`
	AdmissionFloor  float64  `toml:"admission_floor"`
	AcceptAbove     float64  `toml:"accept_above"`
	RejectBelow     float64  `toml:"reject_below"`
	CentralityCut   float64  `toml:"centrality_cut"`
	MaxPairsPerNode int      `toml:"max_pairs_per_node"`
	// ExtraGenericTerms and ExtraQualifiers extend the built-in hub term and
	// qualifier denylists.
	ExtraGenericTerms []string `toml:"extra_generic_terms"`
	ExtraQualifiers   []string `toml:"extra_qualifiers"`
	BlockWorkers      int      `toml:"block_workers"`
}

// OracleConfig holds semantic oracle parameters.
type OracleConfig struct {
	Enabled       bool     `toml:"enabled"`
	APIKey        string   `toml:"api_key"`
	Model         string   `toml:"model"`
	Timeout       duration `toml:"timeout"`
	MaxConcurrent int      `toml:"max_concurrent"`
	CallBudget    int      `toml:"call_budget"` // max oracle calls per epoch
	MinConfidence float64  `toml:"min_confidence"`
	TopK          int      `toml:"top_k"` // candidates pre-ranked per listing
	CacheTTL      duration `toml:"cache_ttl"`
}

// ProjectConfig holds polytope projection parameters.
type ProjectConfig struct {
	MaxIterations    int      `toml:"max_iterations"`
	Tolerance        float64  `toml:"tolerance"`
	QuantizeDecimals int      `toml:"quantize_decimals"`
	CacheTTL         duration `toml:"cache_ttl"`
}

// DetectConfig holds violation detection and signal scoring parameters.
type DetectConfig struct {
	SumEpsilon      float64 `toml:"sum_epsilon"`
	TransactionCost float64 `toml:"transaction_cost"`
	MinNetEV        float64 `toml:"min_net_ev"`
	ReferenceEV     float64 `toml:"reference_ev"` // scales confidence: gross/reference capped at 1
}

// EpochConfig holds epoch scheduling and worker parameters.
type EpochConfig struct {
	Interval       duration `toml:"interval"`
	ClusterWorkers int      `toml:"cluster_workers"`
	LockTTL        duration `toml:"lock_ttl"`
	FlushTimeout   duration `toml:"flush_timeout"`
	SignalChannel  string   `toml:"signal_channel"`
	SignalStream   string   `toml:"signal_stream"`
	ArchiveUploads bool     `toml:"archive_uploads"`
	// ArchiveRetention bounds how long archived epochs are kept; zero keeps
	// them forever.
	ArchiveRetention duration `toml:"archive_retention"`
	PersistClusters  bool     `toml:"persist_clusters"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "oddsmesh",
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
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "oddsmesh-epochs",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			Source:       "file",
			SnapshotPath: "./snapshots",
			Venues:       []string{},
		},
		Normalize: NormalizeConfig{
			StalenessBound: duration{5 * time.Minute},
			MinMentionLen:  4,
		},
		Resolve: ResolveConfig{
			BlockWindow:     duration{24 * time.Hour},
			TokenWeight:     0.7,
			DateWeight:      0.3,
			AdmissionFloor:  0.30,
			AcceptAbove:     0.85,
			RejectBelow:     0.55,
			CentralityCut:   0.05,
			MaxPairsPerNode: 50,
			BlockWorkers:    4,
		},
		Oracle: OracleConfig{
			Enabled:       false,
			Model:         "claude-sonnet-4-5",
			Timeout:       duration{20 * time.Second},
			MaxConcurrent: 4,
			CallBudget:    50,
			MinConfidence: 0.90,
			TopK:          3,
			CacheTTL:      duration{168 * time.Hour},
		},
		Project: ProjectConfig{
			MaxIterations:    100,
			Tolerance:        1e-6,
			QuantizeDecimals: 4,
			CacheTTL:         duration{24 * time.Hour},
		},
		Detect: DetectConfig{
			SumEpsilon:      0.005,
			TransactionCost: 0.005,
			MinNetEV:        0.005,
			ReferenceEV:     0.05,
		},
		Epoch: EpochConfig{
			Interval:         duration{time.Minute},
			ClusterWorkers:   4,
			LockTTL:          duration{2 * time.Minute},
			FlushTimeout:     duration{10 * time.Second},
			SignalChannel:    "oddsmesh:signals",
			SignalStream:     "oddsmesh:signals:stream",
			ArchiveUploads:   false,
			ArchiveRetention: duration{30 * 24 * time.Hour},
			PersistClusters:  true,
		},
		Mode:     "scan",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"resolve": true,
	"audit":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validFeedSources enumerates the accepted values for Feed.Source.
var validFeedSources = map[string]bool{
	"file": true,
	"ws":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, resolve, audit)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
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

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Feed
	if !validFeedSources[strings.ToLower(c.Feed.Source)] {
		errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: file, ws)", c.Feed.Source))
	}
	if strings.ToLower(c.Feed.Source) == "file" && c.Feed.SnapshotPath == "" {
		errs = append(errs, "feed: snapshot_path must not be empty for file source")
	}
	if strings.ToLower(c.Feed.Source) == "ws" && c.Feed.RelayURL == "" {
		errs = append(errs, "feed: relay_url must not be empty for ws source")
	}

	// Normalize
	if c.Normalize.StalenessBound.Duration <= 0 {
		errs = append(errs, "normalize: staleness_bound must be > 0")
	}
	if c.Normalize.MinMentionLen < 1 {
		errs = append(errs, "normalize: min_mention_len must be >= 1")
	}

	// Resolve
	if c.Resolve.BlockWindow.Duration <= 0 {
		errs = append(errs, "resolve: block_window must be > 0")
	}
	if c.Resolve.TokenWeight < 0 || c.Resolve.DateWeight < 0 {
		errs = append(errs, "resolve: token_weight and date_weight must be >= 0")
	}
	if c.Resolve.TokenWeight+c.Resolve.DateWeight <= 0 {
		errs = append(errs, "resolve: token_weight + date_weight must be > 0")
	}
	if c.Resolve.AdmissionFloor < 0 || c.Resolve.AdmissionFloor >= 1 {
		errs = append(errs, fmt.Sprintf("resolve: admission_floor must be in [0,1), got %g", c.Resolve.AdmissionFloor))
	}
	if c.Resolve.RejectBelow >= c.Resolve.AcceptAbove {
		errs = append(errs, fmt.Sprintf("resolve: reject_below (%g) must be less than accept_above (%g)", c.Resolve.RejectBelow, c.Resolve.AcceptAbove))
	}
	if c.Resolve.AcceptAbove > 1 {
		errs = append(errs, "resolve: accept_above must be <= 1")
	}
	if c.Resolve.CentralityCut <= 0 || c.Resolve.CentralityCut > 1 {
		errs = append(errs, fmt.Sprintf("resolve: centrality_cut must be in (0,1], got %g", c.Resolve.CentralityCut))
	}
	if c.Resolve.BlockWorkers < 1 {
		errs = append(errs, "resolve: block_workers must be >= 1")
	}

	// Oracle
	if c.Oracle.Enabled {
		if c.Oracle.APIKey == "" {
			errs = append(errs, "oracle: api_key is required when enabled")
		}
		if c.Oracle.Model == "" {
			errs = append(errs, "oracle: model must not be empty when enabled")
		}
		if c.Oracle.Timeout.Duration <= 0 {
			errs = append(errs, "oracle: timeout must be > 0")
		}
		if c.Oracle.MaxConcurrent < 1 {
			errs = append(errs, "oracle: max_concurrent must be >= 1")
		}
		if c.Oracle.MinConfidence <= 0 || c.Oracle.MinConfidence > 1 {
			errs = append(errs, fmt.Sprintf("oracle: min_confidence must be in (0,1], got %g", c.Oracle.MinConfidence))
		}
		if c.Oracle.TopK < 1 {
			errs = append(errs, "oracle: top_k must be >= 1")
		}
	}

	// Project
	if c.Project.MaxIterations < 1 {
		errs = append(errs, "project: max_iterations must be >= 1")
	}
	if c.Project.Tolerance <= 0 {
		errs = append(errs, "project: tolerance must be > 0")
	}
	if c.Project.QuantizeDecimals < 1 || c.Project.QuantizeDecimals > 8 {
		errs = append(errs, fmt.Sprintf("project: quantize_decimals must be 1-8, got %d", c.Project.QuantizeDecimals))
	}

	// Detect
	if c.Detect.SumEpsilon <= 0 {
		errs = append(errs, "detect: sum_epsilon must be > 0")
	}
	if c.Detect.TransactionCost < 0 {
		errs = append(errs, "detect: transaction_cost must be >= 0")
	}
	if c.Detect.MinNetEV < 0 {
		errs = append(errs, "detect: min_net_ev must be >= 0")
	}
	if c.Detect.ReferenceEV <= 0 {
		errs = append(errs, "detect: reference_ev must be > 0")
	}

	// Epoch
	if c.Epoch.Interval.Duration <= 0 {
		errs = append(errs, "epoch: interval must be > 0")
	}
	if c.Epoch.ClusterWorkers < 1 {
		errs = append(errs, "epoch: cluster_workers must be >= 1")
	}
	if c.Epoch.LockTTL.Duration <= 0 {
		errs = append(errs, "epoch: lock_ttl must be > 0")
	}
	if c.Epoch.ArchiveRetention.Duration < 0 {
		errs = append(errs, "epoch: archive_retention must be >= 0")
	}
	if c.Epoch.SignalChannel == "" {
		errs = append(errs, "epoch: signal_channel must not be empty")
	}
	if c.Epoch.SignalStream == "" {
		errs = append(errs, "epoch: signal_stream must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
