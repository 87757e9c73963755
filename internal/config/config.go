// Package config defines the option surface a host client maps its own
// CLI/environment configuration onto before constructing the pipeline.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config mirrors the option table in the specification verbatim. Field
// names match the canonical option names with Go casing.
type Config struct {
	Enabled bool `toml:"enabled"`

	GasMultiplier      uint64  `toml:"gas_multiplier"`
	RefundMultiplier   float64 `toml:"refund_multiplier"`
	StipendMultiplier  float64 `toml:"stipend_multiplier"`
	GasLimitMultiplier uint64  `toml:"gas_limit_multiplier"`

	StartBlock uint64 `toml:"start_block"`

	DBPath        string `toml:"db_path"`
	QueueCapacity uint32 `toml:"queue_capacity"`
	BatchSize     uint32 `toml:"batch_size"`

	// FingerprintIncludesTransient resolves Open Question #2 in spec §9:
	// whether the state fingerprint includes transient storage. Default
	// true.
	FingerprintIncludesTransient bool `toml:"fingerprint_includes_transient"`
}

// Default returns the option defaults from the specification's table.
func Default() Config {
	return Config{
		Enabled:                      false,
		GasMultiplier:                128,
		RefundMultiplier:             1.0,
		StipendMultiplier:            1.0,
		GasLimitMultiplier:           128,
		StartBlock:                   0,
		DBPath:                       "./divergence.db",
		QueueCapacity:                4096,
		BatchSize:                    256,
		FingerprintIncludesTransient: true,
	}
}

// Load reads a TOML file and overlays whatever keys it defines on top of
// the defaults; keys the file omits keep their Default() value (including
// gas_limit_multiplier's "= gas_multiplier" fallback, which only applies
// when the file sets gas_multiplier but not gas_limit_multiplier).
func Load(path string) (Config, error) {
	var parsed Config
	meta, err := toml.DecodeFile(path, &parsed)
	if err != nil {
		return Config{}, fmt.Errorf("config: failed to load %s: %w", path, err)
	}

	cfg := Default()
	for _, key := range meta.Keys() {
		switch key.String() {
		case "enabled":
			cfg.Enabled = parsed.Enabled
		case "gas_multiplier":
			cfg.GasMultiplier = parsed.GasMultiplier
		case "refund_multiplier":
			cfg.RefundMultiplier = parsed.RefundMultiplier
		case "stipend_multiplier":
			cfg.StipendMultiplier = parsed.StipendMultiplier
		case "gas_limit_multiplier":
			cfg.GasLimitMultiplier = parsed.GasLimitMultiplier
		case "start_block":
			cfg.StartBlock = parsed.StartBlock
		case "db_path":
			cfg.DBPath = parsed.DBPath
		case "queue_capacity":
			cfg.QueueCapacity = parsed.QueueCapacity
		case "batch_size":
			cfg.BatchSize = parsed.BatchSize
		case "fingerprint_includes_transient":
			cfg.FingerprintIncludesTransient = parsed.FingerprintIncludesTransient
		}
	}

	if !meta.IsDefined("gas_limit_multiplier") && meta.IsDefined("gas_multiplier") {
		cfg.GasLimitMultiplier = cfg.GasMultiplier
	}

	return cfg, nil
}

// Validate aggregates every invariant violation into a single error so a
// host can report all misconfiguration at once instead of one field at a
// time.
func (c Config) Validate() error {
	var problems []string

	if c.GasMultiplier < 1 {
		problems = append(problems, "gas_multiplier must be >= 1")
	}
	if c.GasLimitMultiplier < 1 {
		problems = append(problems, "gas_limit_multiplier must be >= 1")
	}
	if c.RefundMultiplier < 0 {
		problems = append(problems, "refund_multiplier must be >= 0")
	}
	if c.StipendMultiplier < 0 {
		problems = append(problems, "stipend_multiplier must be >= 0")
	}
	if c.DBPath == "" {
		problems = append(problems, "db_path must not be empty")
	}
	if c.QueueCapacity == 0 {
		problems = append(problems, "queue_capacity must be > 0")
	}
	if c.BatchSize == 0 {
		problems = append(problems, "batch_size must be > 0")
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("config: invalid configuration: %s", strings.Join(problems, "; "))
}
