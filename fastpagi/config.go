package fastpagi

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the resolved supervisor configuration. It is loaded once at
// startup and never modified afterwards.
type Config struct {
	// Path is the absolute path the configuration was loaded from.
	Path string `yaml:"-"`

	Server      ServerConfig      `yaml:"server"`
	Application ApplicationConfig `yaml:"application"`
	// Env is exported into the supervisor's environment on startup, so every
	// worker inherits it.
	Env map[string]string `yaml:"env"`
}

// ServerConfig describes the supervisor itself.
type ServerConfig struct {
	// Listen is host:port, tcp://host:port, unix:///path or an absolute path.
	Listen  string `yaml:"listen"`
	PidFile string `yaml:"pidfile"`
	// Journal is the optional path of the JSON event journal.
	Journal string `yaml:"journal"`
	// Metrics is the optional host:port of the metrics endpoint.
	Metrics string `yaml:"metrics"`
}

// ApplicationConfig is the launch descriptor of the application that serves
// each connection.
type ApplicationConfig struct {
	// Class names the application entry point.
	Class string `yaml:"class"`
	// Bootstrap is the executable started for each connection. If empty, the
	// supervisor binary itself is started in worker mode and runs the
	// registered application named by Class.
	Bootstrap string   `yaml:"bootstrap"`
	Args      []string `yaml:"args"`
	// Log is handed to the application as its log destination.
	Log string `yaml:"log"`
	// Options are passed to the application as-is.
	Options map[string]string `yaml:"options"`
}

// LoadConfig reads and validates the configuration file at path. All errors
// wrap ErrConfig.
func LoadConfig(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "cannot resolve %q: %v", path, err)
	}

	b, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "cannot read %s: %v", abs, err)
	}

	cfg, err := ParseConfig(b)
	if err != nil {
		return nil, errors.Wrap(err, abs)
	}

	cfg.Path = abs
	return cfg, nil
}

// ParseConfig decodes and validates a YAML configuration.
func ParseConfig(b []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(ErrConfig, "cannot parse: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that all required fields are present.
func (cfg *Config) Validate() error {
	switch {
	case cfg.Server.Listen == "":
		return errors.Wrap(ErrConfig, "missing server.listen")
	case cfg.Server.PidFile == "":
		return errors.Wrap(ErrConfig, "missing server.pidfile")
	case cfg.Application.Class == "":
		return errors.Wrap(ErrConfig, "missing application.class")
	}

	if _, _, err := ParseAddress(cfg.Server.Listen); err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}

	return nil
}

// ApplyEnv exports the env section into the current process environment.
// Keys are applied in sorted order so errors are deterministic.
func (cfg *Config) ApplyEnv() error {
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := os.Setenv(k, cfg.Env[k]); err != nil {
			return errors.Wrapf(ErrConfig, "cannot set env %q: %v", k, err)
		}
	}

	return nil
}
