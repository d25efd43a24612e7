// Package config loads solver settings from YAML files.
//
// A file holds the backend choice, an iteration budget, mock device limits
// and the options of both backends:
//
//	backend: admm
//	iterations: 500
//	device:
//	  memory_limit_mb: 64
//	pdhg:
//	  stepsize_variant: goldstein
//	admm:
//	  rho0: 2
//
// Missing keys keep their defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	algoprox "github.com/cwbudde/algo-prox"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("algoprox/config: invalid configuration")

var validate = validator.New()

// Backend names.
const (
	BackendPDHG = "pdhg"
	BackendADMM = "admm"
)

// Config is the complete solver configuration.
type Config struct {
	Backend    string `yaml:"backend" validate:"oneof=pdhg admm"`
	Iterations int    `yaml:"iterations" validate:"gte=1"`

	// LogEvery is the number of iterations between progress records.
	// Zero disables progress logging.
	LogEvery int `yaml:"log_every" validate:"gte=0"`

	Device Device `yaml:"device"`

	PDHG algoprox.PDHGOptions `yaml:"pdhg"`
	ADMM algoprox.ADMMOptions `yaml:"admm"`
}

// Device configures the device the solver runs on.
type Device struct {
	Index         int `yaml:"index" validate:"gte=0"`
	MemoryLimitMB int `yaml:"memory_limit_mb" validate:"gte=0"`
	Workers       int `yaml:"workers" validate:"gte=0"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Backend:    BackendPDHG,
		Iterations: 1000,
		LogEvery:   100,
		PDHG:       algoprox.DefaultPDHGOptions(),
		ADMM:       algoprox.DefaultADMMOptions(),
	}
}

// Validate checks field ranges and the options of the selected backend.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var err error
	switch c.Backend {
	case BackendPDHG:
		err = c.PDHG.Validate()
	case BackendADMM:
		err = c.ADMM.Validate()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Parse decodes YAML on top of the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// Load reads the file at path, applies ALGOPROX_* environment overrides
// and validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides the backend and iteration budget from the environment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("ALGOPROX_BACKEND"); ok {
		cfg.Backend = v
	}
	if v, ok := lookup("ALGOPROX_ITERATIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ALGOPROX_ITERATIONS: %w", ErrInvalidConfig, err)
		}
		cfg.Iterations = n
	}
	return nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
