package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfigDefaults tests default values
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5001, cfg.Server.Port)
	assert.Equal(t, 0.30, cfg.Data.TestSize)
	assert.Equal(t, int64(42), cfg.Data.RandomSeed)
	assert.Equal(t, "artifacts", cfg.Artifacts.Dir)
	assert.True(t, cfg.Artifacts.Cache)
	assert.Equal(t, 100, cfg.Training.ForestTrees)
	assert.Equal(t, filepath.Join("artifacts", "model.json"), cfg.ArtifactPath(cfg.Artifacts.ModelFile))
}

// TestLoadConfigEnv tests environment overrides
func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("GEMPRICE_ENVIRONMENT", "test")
	t.Setenv("GEMPRICE_LOG__LEVEL", "debug")
	t.Setenv("GEMPRICE_SERVER__PORT", "9090")
	t.Setenv("GEMPRICE_SERVER__READ_TIMEOUT", "5s")
	t.Setenv("GEMPRICE_TRAINING__FOREST_TREES", "10")
	t.Setenv("GEMPRICE_ARTIFACTS__CACHE", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10, cfg.Training.ForestTrees)
	assert.False(t, cfg.Artifacts.Cache)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
}

// TestLoadConfigFile tests YAML file overrides and env precedence over the file
func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlDoc := `
environment: staging
data:
  source_url: ./gemstone.csv
  test_size: 0.25
training:
  schedule: "0 3 * * *"
  svr_max_samples: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0644))
	t.Setenv("GEMPRICE_DATA__TEST_SIZE", "0.2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "./gemstone.csv", cfg.Data.SourceURL)
	assert.Equal(t, 0.2, cfg.Data.TestSize)
	assert.Equal(t, "0 3 * * *", cfg.Training.Schedule)
	assert.Equal(t, 500, cfg.Training.SVRMaxSamples)
	assert.Equal(t, "raw.csv", cfg.Data.RawFile)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"test size above one", "GEMPRICE_DATA__TEST_SIZE", "1.5"},
		{"bad log level", "GEMPRICE_LOG__LEVEL", "loud"},
		{"port out of range", "GEMPRICE_SERVER__PORT", "70000"},
		{"zero trees", "GEMPRICE_TRAINING__FOREST_TREES", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
