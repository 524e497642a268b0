// Package config loads the pngtools YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime names.
const (
	RuntimeNative = "native"
	RuntimePython = "python"
	RuntimeDocker = "docker"
)

// Environment variables consulted by Locate and ApplyEnv.
const (
	EnvConfig  = "PNGTOOLS_CONFIG"
	EnvRuntime = "PNGTOOLS_RUNTIME"
	EnvDebug   = "PNGTOOLS_DEBUG"
)

// PythonConfig configures the out-of-process interpreter.
type PythonConfig struct {
	Interpreter string   `yaml:"interpreter"`
	Path        []string `yaml:"path,omitempty"`
}

// DockerConfig configures the container the interpreter runs in.
type DockerConfig struct {
	Image string   `yaml:"image"`
	Pull  bool     `yaml:"pull"`
	Binds []string `yaml:"binds,omitempty"`
	Env   []string `yaml:"env,omitempty"`
}

// Config is the pngtools configuration file.
type Config struct {
	Runtime        string        `yaml:"runtime"`
	HistoryFile    string        `yaml:"history_file"`
	AuditLog       string        `yaml:"audit_log,omitempty"`
	Debug          bool          `yaml:"debug"`
	Watch          bool          `yaml:"watch"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
	Python         PythonConfig  `yaml:"python"`
	Docker         DockerConfig  `yaml:"docker"`
}

var (
	errUnknownRuntime = errors.New("unknown runtime")
	errBadTimeout     = errors.New("startup_timeout must be positive")
	errNoInterpreter  = errors.New("python.interpreter must not be empty")
	errNoImage        = errors.New("docker.image must not be empty")
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Runtime:        RuntimeNative,
		HistoryFile:    "~/.pngtools_history.dat",
		Watch:          true,
		StartupTimeout: 30 * time.Second,
		Python: PythonConfig{
			Interpreter: "python3",
		},
		Docker: DockerConfig{
			Image: "python:3.11-slim",
		},
	}
}

// Locate returns the configuration file path derived from the environment.
func Locate(getenv func(string) string) string {
	if p := getenv(EnvConfig); p != "" {
		return p
	}
	if xdg := getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pngtools", "config.yaml")
	}
	if home := getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", "pngtools", "config.yaml")
	}
	return ""
}

// Load reads the configuration at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.validate()
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := decode(f, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv locates, loads and applies environment overrides.
func LoadFromEnv() (*Config, error) {
	cfg, err := Load(Locate(os.Getenv))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides the runtime and debug settings from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if rt := getenv(EnvRuntime); rt != "" {
		c.Runtime = strings.ToLower(strings.TrimSpace(rt))
	}
	if v := getenv(EnvDebug); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvDebug, err)
		}
		c.Debug = debug
	}
	return c.validate()
}

func (c *Config) validate() error {
	switch c.Runtime {
	case RuntimeNative, RuntimePython, RuntimeDocker:
	default:
		return fmt.Errorf("%w %q (want native, python or docker)", errUnknownRuntime, c.Runtime)
	}
	if c.StartupTimeout <= 0 {
		return errBadTimeout
	}
	if c.Runtime != RuntimeNative && c.Python.Interpreter == "" {
		return errNoInterpreter
	}
	if c.Runtime == RuntimeDocker && c.Docker.Image == "" {
		return errNoImage
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
