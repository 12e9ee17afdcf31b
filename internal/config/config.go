// Package config loads process configuration: encoder endpoints, worker
// pool size, accelerator cache path, and log level. Environment variables
// over typed defaults are the main source, with an optional file layer read
// via viper so a deployment can check in a config file instead of exporting
// a dozen variables.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"owlsearch/internal/encoder"
)

func getenv(key string) string {
	return os.Getenv(key)
}

// Config is the complete process configuration for one owlsearch instance.
type Config struct {
	ModelName        string
	Endpoints        []encoder.Endpoint
	BatchSize        int
	ProgressEnabled  bool
	Workers          int
	AccelCachePath   string // empty disables the accelerator
	LogLevel         string
	BaseDir          string // persistence root for all targets
	HTTPAddr         string
}

// Default returns the built-in defaults, before any env or file overrides.
func Default() Config {
	return Config{
		ModelName:       "default",
		Endpoints:       []encoder.Endpoint{{Device: "cpu", URL: "http://127.0.0.1:1234/v1/embeddings"}},
		BatchSize:       32,
		ProgressEnabled: true,
		Workers:         8,
		LogLevel:        "info",
		BaseDir:         ".owlsearch",
		HTTPAddr:        ":8089",
	}
}

// Load builds a Config from defaults, an optional file at configPath (read
// via viper; a missing path is not an error), and finally environment
// variables, which always win on conflict per SPEC_FULL.md §6.
//
// Recognized variables: OWL_MODEL_NAME, OWL_BATCH_SIZE, OWL_PROGRESS,
// OWL_ENCODER_ENDPOINTS (comma-separated device=url pairs), OWL_WORKERS,
// OWL_ACCEL_CACHE, OWL_LOG_LEVEL, OWL_BASE_DIR, OWL_HTTP_ADDR.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return cfg, err
			}
		} else {
			applyFile(&cfg, v)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyFile(cfg *Config, v *viper.Viper) {
	if v.IsSet("model_name") {
		cfg.ModelName = v.GetString("model_name")
	}
	if v.IsSet("batch_size") {
		cfg.BatchSize = v.GetInt("batch_size")
	}
	if v.IsSet("progress") {
		cfg.ProgressEnabled = v.GetBool("progress")
	}
	if v.IsSet("workers") {
		cfg.Workers = v.GetInt("workers")
	}
	if v.IsSet("accel_cache") {
		cfg.AccelCachePath = v.GetString("accel_cache")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("base_dir") {
		cfg.BaseDir = v.GetString("base_dir")
	}
	if v.IsSet("http_addr") {
		cfg.HTTPAddr = v.GetString("http_addr")
	}
	if v.IsSet("encoder_endpoints") {
		if raw := v.GetStringSlice("encoder_endpoints"); len(raw) > 0 {
			cfg.Endpoints = parseEndpoints(strings.Join(raw, ","))
		}
	}
}

func applyEnv(cfg *Config) {
	if v := getenv("OWL_MODEL_NAME"); v != "" {
		cfg.ModelName = v
	}
	if v := getenv("OWL_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BatchSize = n
		}
	}
	if v := getenv("OWL_PROGRESS"); v != "" {
		cfg.ProgressEnabled = parseBool(v, cfg.ProgressEnabled)
	}
	if v := getenv("OWL_ENCODER_ENDPOINTS"); v != "" {
		if eps := parseEndpoints(v); len(eps) > 0 {
			cfg.Endpoints = eps
		}
	}
	if v := getenv("OWL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	if v := getenv("OWL_ACCEL_CACHE"); v != "" {
		cfg.AccelCachePath = v
	}
	if v := getenv("OWL_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("OWL_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := getenv("OWL_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
}

// parseEndpoints parses "device=url,device=url" into an ordered endpoint
// list, preserving the given preference order (§4.4: mps -> cuda -> cpu).
func parseEndpoints(s string) []encoder.Endpoint {
	var eps []encoder.Endpoint
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		eps = append(eps, encoder.Endpoint{Device: strings.TrimSpace(parts[0]), URL: strings.TrimSpace(parts[1])})
	}
	return eps
}

// parseBool parses a string as boolean, returning defaultVal for anything
// it does not recognize.
func parseBool(s string, defaultVal bool) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "true", "1", "yes", "on", "enabled":
		return true
	case "false", "0", "no", "off", "disabled":
		return false
	default:
		return defaultVal
	}
}
