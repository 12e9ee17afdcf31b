package main

import (
	"fmt"
	"path/filepath"

	"owlsearch/internal/accelcache"
	"owlsearch/internal/builder"
	"owlsearch/internal/config"
	"owlsearch/internal/encoder"
	"owlsearch/internal/logging"
	"owlsearch/internal/vectorindex"
)

// engine bundles the constructed collaborators a subcommand needs, built
// once from the resolved Config.
type engine struct {
	cfg     config.Config
	enc     *encoder.Adapter
	accel   *accelcache.Cache
	builder *builder.Builder
}

func newEngine() (*engine, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagBaseDir != "" {
		cfg.BaseDir = flagBaseDir
	}

	logging.SetDefault(logging.New(logging.Options{Level: logging.LevelFromString(cfg.LogLevel)}))

	enc := encoder.New(encoder.Config{
		Endpoints:        cfg.Endpoints,
		InitialBatchSize: cfg.BatchSize,
		ProgressEnabled:  cfg.ProgressEnabled,
		ModelName:        cfg.ModelName,
	})

	var accel *accelcache.Cache
	if cfg.AccelCachePath != "" {
		accel, err = accelcache.Open(cfg.AccelCachePath)
		if err != nil {
			return nil, fmt.Errorf("opening accelerator cache: %w", err)
		}
	}

	b := builder.New(builder.Config{
		Encoder: enc,
		Accel:   accel,
		BaseDir: cfg.BaseDir,
		Metric:  vectorindex.L2,
		Workers: cfg.Workers,
		Logger:  logging.Default(),
	})

	return &engine{cfg: cfg, enc: enc, accel: accel, builder: b}, nil
}

func (e *engine) targetRoot() (string, error) {
	return filepath.Abs(flagRoot)
}
