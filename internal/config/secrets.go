package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log or print: every secret
// field holds the redaction placeholder instead of its value.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, secret := range []*string{
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Oracle.APIKey,
	} {
		if *secret != "" {
			*secret = redacted
		}
	}

	// Slice fields still alias cfg after the shallow copy; clone them so the
	// original cannot be mutated through the redacted copy.
	out.Feed.Venues = slices.Clone(cfg.Feed.Venues)
	out.Normalize.ExtraNoiseTokens = slices.Clone(cfg.Normalize.ExtraNoiseTokens)
	out.Resolve.ExtraGenericTerms = slices.Clone(cfg.Resolve.ExtraGenericTerms)
	out.Resolve.ExtraQualifiers = slices.Clone(cfg.Resolve.ExtraQualifiers)

	return out
}
