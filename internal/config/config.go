// Package config loads, defaults and validates the operator configuration
// file. The zero configuration is not usable; start from Default and
// overlay the file on top, which is what Load does.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"streamop/pkg/logging"
)

const subsystem = "config"

// Mode selects where desired state comes from.
type Mode string

const (
	// ModeKubernetes watches Stream resources in a cluster.
	ModeKubernetes Mode = "kubernetes"
	// ModeStandalone reads stream manifests from a directory.
	ModeStandalone Mode = "standalone"
)

// Duration is a time.Duration that unmarshals from yaml scalars like "30s"
// or "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Config is the operator configuration.
type Config struct {
	// Mode selects the desired-state source.
	Mode Mode `yaml:"mode" validate:"required,oneof=kubernetes standalone"`

	// Namespace is the namespace whose streams this instance owns.
	Namespace string `yaml:"namespace" validate:"required"`

	// Selector restricts the watched streams by label, empty means all.
	Selector string `yaml:"selector"`

	// SweepInterval is the period of the full reconciliation sweep.
	SweepInterval Duration `yaml:"sweepInterval"`

	// LockTimeout bounds how long a reconciliation waits for its key lock.
	LockTimeout Duration `yaml:"lockTimeout"`

	// Workers sizes the reconciliation pool.
	Workers int `yaml:"workers" validate:"min=1,max=64"`

	// SecretPrefix prefixes the name of every key-material secret.
	SecretPrefix string `yaml:"secretPrefix" validate:"required"`

	LogLevel string `yaml:"logLevel" validate:"oneof=debug info warn error"`

	Source  SourceConfig  `yaml:"source"`
	Records RecordsConfig `yaml:"recordStore"`
	PKI     PKIConfig     `yaml:"pki"`
	Ops     OpsConfig     `yaml:"ops"`
	Drift   DriftConfig   `yaml:"drift"`
}

// SourceConfig configures the standalone desired-state source.
type SourceConfig struct {
	// Dir is the directory of stream manifests, required in standalone mode.
	Dir string `yaml:"dir"`
}

// RecordsConfig selects and configures the record store backend.
type RecordsConfig struct {
	Backend string `yaml:"backend" validate:"oneof=filesystem postgres"`

	// Path is the record directory of the filesystem backend.
	Path string `yaml:"path"`

	// DSN is the connection string of the postgres backend.
	DSN string `yaml:"dsn"`
}

// PKIConfig points at the CA key pair used to issue client certificates.
// Both files or neither: with neither set an ephemeral CA is generated.
type PKIConfig struct {
	CACertFile string `yaml:"caCertFile"`
	CAKeyFile  string `yaml:"caKeyFile"`
}

// OpsConfig configures the operational HTTP endpoint.
type OpsConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// DriftConfig toggles the topic drift check.
type DriftConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration an empty file resolves to.
func Default() Config {
	return Config{
		Mode:          ModeKubernetes,
		Namespace:     "default",
		SweepInterval: Duration{15 * time.Minute},
		LockTimeout:   Duration{10 * time.Second},
		Workers:       4,
		SecretPrefix:  "streamop-",
		LogLevel:      "info",
		Records: RecordsConfig{
			Backend: "filesystem",
			Path:    "/var/lib/streamop/records",
		},
		Ops:   OpsConfig{Addr: ":8080"},
		Drift: DriftConfig{Enabled: true},
	}
}

// Load reads path over the defaults. A missing file is fine and resolves to
// Default; a malformed or invalid one is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info(subsystem, "No configuration at %s, using defaults", path)
	case err != nil:
		return Config{}, fmt.Errorf("read configuration %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse configuration %s: %w", path, err)
		}
		logging.Info(subsystem, "Loaded configuration from %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration, including the conditions the struct
// tags cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.SweepInterval.Duration <= 0 {
		return errors.New("invalid configuration: sweepInterval must be positive")
	}
	if c.LockTimeout.Duration <= 0 {
		return errors.New("invalid configuration: lockTimeout must be positive")
	}
	if c.Mode == ModeStandalone && c.Source.Dir == "" {
		return errors.New("invalid configuration: standalone mode needs source.dir")
	}
	switch c.Records.Backend {
	case "filesystem":
		if c.Records.Path == "" {
			return errors.New("invalid configuration: filesystem record store needs recordStore.path")
		}
	case "postgres":
		if c.Records.DSN == "" {
			return errors.New("invalid configuration: postgres record store needs recordStore.dsn")
		}
	}
	if (c.PKI.CACertFile == "") != (c.PKI.CAKeyFile == "") {
		return errors.New("invalid configuration: pki needs both caCertFile and caKeyFile, or neither")
	}
	return nil
}
