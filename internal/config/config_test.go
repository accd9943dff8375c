package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v, want nil", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Project.MaxIterations = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"unknown mode", "unknown log_level", "redis: addr", "project: max_iterations"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_Band(t *testing.T) {
	cfg := Defaults()
	cfg.Resolve.RejectBelow = 0.9
	cfg.Resolve.AcceptAbove = 0.8

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "reject_below") {
		t.Errorf("Validate() = %v, want reject_below error", err)
	}
}

func TestValidate_OracleRequiresKey(t *testing.T) {
	cfg := Defaults()
	cfg.Oracle.Enabled = true
	cfg.Oracle.APIKey = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "oracle: api_key") {
		t.Errorf("Validate() = %v, want oracle api_key error", err)
	}
}

func TestValidate_FeedSource(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown source",
			mutate:  func(c *Config) { c.Feed.Source = "carrier-pigeon" },
			wantErr: "unknown source",
		},
		{
			name: "file source without path",
			mutate: func(c *Config) {
				c.Feed.Source = "file"
				c.Feed.SnapshotPath = ""
			},
			wantErr: "snapshot_path",
		},
		{
			name: "ws source without relay",
			mutate: func(c *Config) {
				c.Feed.Source = "ws"
				c.Feed.RelayURL = ""
			},
			wantErr: "relay_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ODDSMESH_MODE", "resolve")
	t.Setenv("ODDSMESH_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("ODDSMESH_RESOLVE_ACCEPT_ABOVE", "0.92")
	t.Setenv("ODDSMESH_EPOCH_INTERVAL", "30s")
	t.Setenv("ODDSMESH_FEED_VENUES", "polaris, kite ,")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "resolve" {
		t.Errorf("Mode = %q, want %q", cfg.Mode, "resolve")
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "redis.internal:6380")
	}
	if cfg.Resolve.AcceptAbove != 0.92 {
		t.Errorf("Resolve.AcceptAbove = %g, want 0.92", cfg.Resolve.AcceptAbove)
	}
	if cfg.Epoch.Interval.Duration != 30*time.Second {
		t.Errorf("Epoch.Interval = %v, want 30s", cfg.Epoch.Interval.Duration)
	}
	if got := len(cfg.Feed.Venues); got != 2 {
		t.Fatalf("len(Feed.Venues) = %d, want 2", got)
	}
	if cfg.Feed.Venues[1] != "kite" {
		t.Errorf("Feed.Venues[1] = %q, want %q", cfg.Feed.Venues[1], "kite")
	}
}

func TestEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("ODDSMESH_PROJECT_MAX_ITERATIONS", "a lot")
	t.Setenv("ODDSMESH_EPOCH_INTERVAL", "whenever")

	cfg := Defaults()
	before := cfg.Project.MaxIterations
	applyEnvOverrides(&cfg)

	if cfg.Project.MaxIterations != before {
		t.Errorf("MaxIterations = %d, want %d", cfg.Project.MaxIterations, before)
	}
	if cfg.Epoch.Interval.Duration != Defaults().Epoch.Interval.Duration {
		t.Errorf("Interval = %v, want default", cfg.Epoch.Interval.Duration)
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d duration
	if err := d.UnmarshalText([]byte("90s")); err != nil {
		t.Fatalf("UnmarshalText(90s) = %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText(soon) = nil, want error")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Oracle.APIKey = "sk-x"
	cfg.S3.SecretKey = "shh"

	red := RedactedConfig(&cfg)

	if red.Postgres.Password != "***" {
		t.Errorf("Postgres.Password = %q, want ***", red.Postgres.Password)
	}
	if red.Oracle.APIKey != "***" {
		t.Errorf("Oracle.APIKey = %q, want ***", red.Oracle.APIKey)
	}
	if red.S3.SecretKey != "***" {
		t.Errorf("S3.SecretKey = %q, want ***", red.S3.SecretKey)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Error("RedactedConfig mutated the original")
	}
}
