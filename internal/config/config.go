// Package config provides configuration management for the
// reconciliation engine defaults.
package config

import (
	"encoding/json"
	"math"
	"os"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"forecast-reconcile/internal/errors"
	"forecast-reconcile/internal/logging"
)

// FillPolicy selects the marker used for missing observations when an
// unbalanced panel is pivoted into a dense matrix. Strategies that assume
// fully observed history behave differently under each marker, so this is
// an explicit decision rather than an inferred one.
type FillPolicy string

const (
	// FillNaN marks missing observations with NaN
	FillNaN FillPolicy = "nan"

	// FillZero marks missing observations with 0
	FillZero FillPolicy = "zero"
)

// Config is the engine default configuration
type Config struct {
	// Version is the configuration version
	Version string `json:"version"`

	// FillPolicy is the missing-observation marker for unbalanced pivots
	FillPolicy FillPolicy `json:"fill_policy" env:"RECONCILE_FILL_POLICY"`

	// IntervalRefSamples is the reference sample count used to map a
	// confidence level to a normal quantile (level/ref_samples)
	IntervalRefSamples int `json:"interval_ref_samples" env:"RECONCILE_INTERVAL_REF_SAMPLES"`

	// Logging contains logging configuration
	Logging logging.Config `json:"logging"`
}

// Default returns the built-in defaults
func Default() Config {
	return Config{
		Version:            "1",
		FillPolicy:         FillNaN,
		IntervalRefSamples: 200,
		Logging:            logging.DefaultConfig(),
	}
}

// FillValue resolves the fill policy to its numeric marker
func (c Config) FillValue() float64 {
	if c.FillPolicy == FillZero {
		return 0
	}
	return math.NaN()
}

// Validate checks the configuration for unsupported values
func (c Config) Validate() error {
	switch c.FillPolicy {
	case FillNaN, FillZero:
	default:
		return errors.Configf("unknown fill policy: %s", c.FillPolicy)
	}
	if c.IntervalRefSamples <= 0 {
		return errors.Configf("interval_ref_samples must be positive, got %d", c.IntervalRefSamples)
	}
	return nil
}

// Load reads configuration from an optional JSON file, then applies
// environment overrides. A missing file yields the defaults. A .env file
// in the working directory is honored when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, errors.Wrap(errors.TypeConfig, "reading config file", err)
			}
		} else if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrap(errors.TypeConfig, "parsing config file", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, errors.Wrap(errors.TypeConfig, "parsing environment overrides", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
