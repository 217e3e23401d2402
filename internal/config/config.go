// Package config loads tapharness.yaml.
//
// The file is decoded with yaml.v3 and validated against an embedded CUE
// schema before it is used, so typos in keys and out-of-range values are
// reported with their path instead of being silently ignored.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// EnvVar names the environment variable pointing at a config file.
const EnvVar = "TAPHARNESS_CONFIG"

// DefaultFile is the file name looked up by the CLI when --config is unset.
const DefaultFile = "tapharness.yaml"

// Config is the decoded configuration. Zero values mean "not set".
type Config struct {
	Timeout   string `yaml:"timeout"`
	Output    string `yaml:"output"`
	DB        string `yaml:"db"`
	LogLevel  string `yaml:"log_level"`
	Format    string `yaml:"format"`
	Locations *bool  `yaml:"locations"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{Output: "stdout", LogLevel: "info", Format: "text"}
}

// Load reads and validates the file at path, applying defaults for unset
// keys.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads the file named by TAPHARNESS_CONFIG. It reports false when
// the variable is unset.
func FromEnv() (Config, bool, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), false, nil
	}
	cfg, err := Load(path)
	return cfg, true, err
}

// Parse validates YAML config data against the schema and decodes it.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ValidationError lists every schema violation found in a config file.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	if raw == nil {
		raw = map[string]any{}
	}
	value := def.Unify(ctx.Encode(raw))
	err := value.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var problems []string
	for _, e := range cueerrors.Errors(err) {
		problems = append(problems, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	return &ValidationError{Problems: problems}
}

// TimeoutDuration parses the timeout key. An unset timeout is zero.
func (c Config) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parse timeout: %w", err)
	}
	return d, nil
}

// Level maps log_level to a slog level, defaulting to info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// LocationsEnabled reports whether failing records carry source locations.
func (c Config) LocationsEnabled() bool {
	return c.Locations == nil || *c.Locations
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenOutput resolves the output key to a writer. "stdout" and "stderr" map
// to the given streams; anything else is a file that is created or
// truncated. The returned closer must be closed when the run is over.
func (c Config) OpenOutput(stdout, stderr io.Writer) (io.Writer, io.Closer, error) {
	switch c.Output {
	case "", "stdout", "-":
		return stdout, nopCloser{}, nil
	case "stderr":
		return stderr, nopCloser{}, nil
	}
	f, err := os.Create(c.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open output: %w", err)
	}
	return f, f, nil
}

// IsValidation reports whether err is a schema violation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
