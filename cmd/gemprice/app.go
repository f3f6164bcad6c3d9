package main

import (
	"fmt"

	"github.com/mimir-aip/gemprice/pkg/artifact"
	"github.com/mimir-aip/gemprice/pkg/config"
	"github.com/mimir-aip/gemprice/pkg/logging"
)

// globals are flags shared by every subcommand
type globals struct {
	configPath string
}

// load reads the configuration and initialises logging from it
func (g *globals) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.Load(g.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}
	return cfg, nil
}

func newArtifactStore(cfg *config.Config) *artifact.Store {
	return artifact.NewStore(cfg.Artifacts.Dir, cfg.Artifacts.TransformerFile, cfg.Artifacts.ModelFile, cfg.Artifacts.ManifestFile)
}
