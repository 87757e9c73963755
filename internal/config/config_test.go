package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
enabled = true
gas_multiplier = 64
start_block = 18000000
db_path = "/tmp/divergence.db"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.EqualValues(t, 64, cfg.GasMultiplier)
	assert.EqualValues(t, 64, cfg.GasLimitMultiplier, "gas_limit_multiplier defaults to gas_multiplier")
	assert.EqualValues(t, 18000000, cfg.StartBlock)
	assert.Equal(t, 1.0, cfg.RefundMultiplier, "unspecified fields keep their default")
}

func TestValidateAggregatesAllProblems(t *testing.T) {
	cfg := Config{
		GasMultiplier:      0,
		GasLimitMultiplier: 0,
		RefundMultiplier:   -1,
		StipendMultiplier:  -1,
		DBPath:             "",
		QueueCapacity:      0,
		BatchSize:          0,
	}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"gas_multiplier", "gas_limit_multiplier", "refund_multiplier",
		"stipend_multiplier", "db_path", "queue_capacity", "batch_size",
	} {
		assert.Contains(t, msg, want)
	}
}
