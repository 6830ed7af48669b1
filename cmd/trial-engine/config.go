// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/pdiddy/trial-engine/internal/llm"
	"github.com/pdiddy/trial-engine/internal/loop"
	"github.com/pdiddy/trial-engine/internal/quality"
	"github.com/pdiddy/trial-engine/internal/repair"
	"github.com/pdiddy/trial-engine/internal/retry"
	"github.com/pdiddy/trial-engine/internal/secrets"
	"github.com/pdiddy/trial-engine/pkg/types"
)

// setDefaults registers every config key so AutomaticEnv can override it
// and Unmarshal sees it.
func setDefaults(v *viper.Viper) {
	rp := retry.DefaultPolicy()

	v.SetDefault("log.level", "")
	v.SetDefault("ai.provider", "claude")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.max_tokens", llm.DefaultMaxTokens)
	v.SetDefault("ai.timeout", llm.DefaultTimeout)
	v.SetDefault("ai.requests_per_minute", 0)
	v.SetDefault("loop.max_iterations", 3)
	v.SetDefault("loop.degradation_window", 2)
	v.SetDefault("loop.schema_floor", loop.DefaultSchemaFloor)
	v.SetDefault("loop.retry.max_retries", rp.MaxRetries)
	v.SetDefault("loop.retry.initial_delay", rp.InitialDelay)
	v.SetDefault("loop.retry.max_delay", rp.MaxDelay)
	v.SetDefault("store.output_dir", "output")
	v.SetDefault("store.db_path", "")
	v.SetDefault("schemas.extraction", "")
	v.SetDefault("schemas.report", "")
	v.SetDefault("repair.preferred_id_fields", []string{})
	v.SetDefault("repair.excluded_id_fields", []string{})
}

// loadConfig decodes the merged configuration and fills in derived values.
func loadConfig(v *viper.Viper) (types.EngineConfig, error) {
	var cfg types.EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = filepath.Join(cfg.Store.OutputDir, "history.db")
	}
	if cfg.Loop.MaxIterations < 0 {
		return cfg, fmt.Errorf("loop.max_iterations must not be negative (got %d)", cfg.Loop.MaxIterations)
	}
	secrets.Apply(loadedSecrets, &cfg.AI)
	return cfg, nil
}

// retryPolicy applies the configured overrides to the default policy.
func retryPolicy(c types.RetryConfig) retry.Policy {
	p := retry.DefaultPolicy()
	if c.MaxRetries >= 0 {
		p.MaxRetries = c.MaxRetries
	}
	if c.InitialDelay > 0 {
		p.InitialDelay = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		p.MaxDelay = c.MaxDelay
	}
	p.Jitter = true
	return p
}

// schemaPath returns the schema file for kind, preferring an explicit flag.
func schemaPath(cfg types.EngineConfig, kind types.Kind, flag string) string {
	if flag != "" {
		return flag
	}
	if kind == types.KindReport {
		return cfg.Schemas.Report
	}
	return cfg.Schemas.Extraction
}

// repairOptions applies the configured identifier lists to the defaults.
func repairOptions(c types.RepairConfig) repair.Options {
	o := repair.DefaultOptions()
	if len(c.PreferredIDFields) > 0 {
		o.PreferredIDFields = c.PreferredIDFields
	}
	if len(c.ExcludedIDFields) > 0 {
		o.ExcludedIDFields = c.ExcludedIDFields
	}
	return o
}

// thresholds merges the configured overrides onto the kind's defaults.
func thresholds(cfg types.EngineConfig, kind types.Kind) (types.QualityThresholds, error) {
	base, err := quality.ThresholdsFor(kind)
	if err != nil {
		return types.QualityThresholds{}, err
	}
	return cfg.Loop.Thresholds.Apply(base), nil
}
