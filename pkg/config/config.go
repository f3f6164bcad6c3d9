package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override, e.g. GEMPRICE_SERVER__PORT.
	EnvPrefix = "GEMPRICE_"
	// ConfigPathEnvVar overrides the config file location.
	ConfigPathEnvVar = "GEMPRICE_CONFIG"
	// DefaultSourceURL is the public gemstone dataset the pipeline trains on.
	DefaultSourceURL = "https://raw.githubusercontent.com/abhijitpaul0212/GemstonePricePrediction/refs/heads/master/notebooks/data/gemstone.csv"
)

// DefaultConfigPaths are searched in order when no explicit path is given
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// Config holds the application configuration
type Config struct {
	Environment string          `koanf:"environment" validate:"required"`
	Log         LogConfig       `koanf:"log"`
	Server      ServerConfig    `koanf:"server"`
	Data        DataConfig      `koanf:"data"`
	Artifacts   ArtifactsConfig `koanf:"artifacts"`
	Training    TrainingConfig  `koanf:"training"`
	Store       StoreConfig     `koanf:"store"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Dir    string `koanf:"dir"`
}

// ServerConfig controls the prediction HTTP server
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gt=0"`
}

// DataConfig describes where the dataset comes from and how it is split
type DataConfig struct {
	SourceURL  string  `koanf:"source_url" validate:"required"`
	RawFile    string  `koanf:"raw_file" validate:"required"`
	TrainFile  string  `koanf:"train_file" validate:"required"`
	TestFile   string  `koanf:"test_file" validate:"required"`
	TestSize   float64 `koanf:"test_size" validate:"gt=0,lt=1"`
	RandomSeed int64   `koanf:"random_seed"`
}

// ArtifactsConfig is the persisted artifact layout shared by training and serving
type ArtifactsConfig struct {
	Dir             string `koanf:"dir" validate:"required"`
	TransformerFile string `koanf:"transformer_file" validate:"required"`
	ModelFile       string `koanf:"model_file" validate:"required"`
	ManifestFile    string `koanf:"manifest_file" validate:"required"`
	Cache           bool   `koanf:"cache"`
	Watch           bool   `koanf:"watch"`
}

// TrainingConfig holds candidate hyperparameters that are tunable for runtime
type TrainingConfig struct {
	ForestTrees    int    `koanf:"forest_trees" validate:"min=1"`
	ForestMaxDepth int    `koanf:"forest_max_depth" validate:"min=0"`
	SVRMaxSamples  int    `koanf:"svr_max_samples" validate:"min=1"`
	Workers        int    `koanf:"workers" validate:"min=0"`
	Schedule       string `koanf:"schedule"`
}

// StoreConfig locates the training run registry
type StoreConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Environment: "development",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5001,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Data: DataConfig{
			SourceURL:  DefaultSourceURL,
			RawFile:    "raw.csv",
			TrainFile:  "train.csv",
			TestFile:   "test.csv",
			TestSize:   0.30,
			RandomSeed: 42,
		},
		Artifacts: ArtifactsConfig{
			Dir:             "artifacts",
			TransformerFile: "preprocessor.json",
			ModelFile:       "model.json",
			ManifestFile:    "manifest.json",
			Cache:           true,
			Watch:           true,
		},
		Training: TrainingConfig{
			ForestTrees:    100,
			ForestMaxDepth: 0,
			SVRMaxSamples:  2000,
			Workers:        0,
		},
		Store: StoreConfig{
			Path: "artifacts/runs.db",
		},
	}
}

// LoadConfig loads configuration from defaults, an optional YAML file and
// GEMPRICE_* environment variables, in that order of precedence.
func LoadConfig() (*Config, error) {
	return Load(findConfigFile())
}

// Load is LoadConfig with an explicit config file path ("" for none)
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the struct constraints
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// ArtifactPath joins name onto the artifact directory
func (c *Config) ArtifactPath(name string) string {
	return filepath.Join(c.Artifacts.Dir, name)
}

// Addr returns the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// envKey maps GEMPRICE_SERVER__PORT to server.port
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
