// Package config loads the issai configuration file.
//
// The file is YAML. Every field has a documented default, so an absent
// file is a valid configuration. Relative paths are resolved against the
// directory holding the file. Command-line flags override file values after
// loading.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/roach88/issai/internal/entity"
	"github.com/roach88/issai/internal/exporter"
	"github.com/roach88/issai/internal/i18n"
	"github.com/roach88/issai/internal/importer"
	"github.com/roach88/issai/internal/runner"
)

// DefaultStorePath is the SQLite store used when none is configured.
const DefaultStorePath = "issai.db"

// Config is the top-level configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Locale string       `yaml:"locale"`
	Export ExportConfig `yaml:"export"`
	Import ImportConfig `yaml:"import"`
	Runner RunnerConfig `yaml:"runner"`

	// MetricsFile receives Prometheus metrics in text format after each
	// command. Empty disables it.
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

// StoreConfig locates the SQLite store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ExportConfig holds export defaults.
type ExportConfig struct {
	// Attachments is "reference" (default) or "embed".
	Attachments    string `yaml:"attachments"`
	IncludeResults bool   `yaml:"include_results"`
}

// ImportConfig holds import defaults.
type ImportConfig struct {
	// Workers bounds concurrent writes per dependency level. Default 1.
	Workers int `yaml:"workers"`
	// MergeMode is skip, overwrite or update-missing (default).
	MergeMode string `yaml:"merge_mode"`
}

// RunnerConfig configures test execution.
type RunnerConfig struct {
	// Timeout bounds each test process, e.g. "90s". Zero disables it.
	Timeout time.Duration `yaml:"timeout"`
	// TestRoot is where test modules live. Exported to tests as
	// ISSAI_TEST_ROOT.
	TestRoot string `yaml:"test_root"`
	// WorkDir defaults to TestRoot.
	WorkDir string `yaml:"work_dir,omitempty"`
	// TestMode is exported as ISSAI_TEST_MODE for self-test modules.
	TestMode string `yaml:"test_mode,omitempty"`
	// Env is added to the environment of every test process.
	Env map[string]string `yaml:"env,omitempty"`
	// Aliases names built-in runners with fixed extra arguments.
	Aliases map[string]runner.Alias `yaml:"aliases,omitempty"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		Store:  StoreConfig{Path: DefaultStorePath},
		Locale: "en",
		Export: ExportConfig{Attachments: string(exporter.AttachReference)},
		Import: ImportConfig{Workers: 1, MergeMode: string(importer.DefaultMergeMode)},
	}
}

// Load reads path over the defaults and validates the result. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Strict decoding catches typos such as "merge-mode:"
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, entity.NewConfigurationError("parse %s: %v", path, err)
	}

	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Store.Path)
	resolve(&c.Runner.TestRoot)
	resolve(&c.Runner.WorkDir)
	resolve(&c.MetricsFile)
}

// Validate rejects invalid values. All failures are ConfigurationErrors.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return entity.NewConfigurationError("store.path is required")
	}
	if _, err := c.Language(); err != nil {
		return err
	}
	switch exporter.AttachmentMode(c.Export.Attachments) {
	case "", exporter.AttachReference, exporter.AttachEmbed:
	default:
		return entity.NewConfigurationError("export.attachments must be reference or embed, got %q", c.Export.Attachments)
	}
	if c.Import.Workers < 1 {
		return entity.NewConfigurationError("import.workers must be at least 1, got %d", c.Import.Workers)
	}
	if _, err := importer.ParseMergeMode(c.Import.MergeMode); err != nil {
		return err
	}
	if c.Runner.Timeout < 0 {
		return entity.NewConfigurationError("runner.timeout must not be negative, got %s", c.Runner.Timeout)
	}
	if _, err := c.Registry(); err != nil {
		return err
	}
	return nil
}

// Language parses Locale.
func (c *Config) Language() (language.Tag, error) {
	tag, err := i18n.ParseLocale(c.Locale)
	if err != nil {
		return language.Und, entity.NewConfigurationError("locale: %v", err)
	}
	return tag, nil
}

// Registry returns the built-in runners plus the configured aliases.
func (c *Config) Registry() (*runner.Registry, error) {
	reg := runner.NewRegistry()
	for name, alias := range c.Runner.Aliases {
		if err := reg.Register(name, alias); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// ExportOptions returns export options carrying the configured defaults.
func (c *Config) ExportOptions(logger *slog.Logger) exporter.Options {
	return exporter.Options{
		IncludeResults: c.Export.IncludeResults,
		Attachments:    exporter.AttachmentMode(c.Export.Attachments),
		Logger:         logger,
	}
}

// ImportOptions returns import options carrying the configured defaults.
func (c *Config) ImportOptions(logger *slog.Logger) importer.Options {
	return importer.Options{
		MergeMode: importer.MergeMode(c.Import.MergeMode),
		Workers:   c.Import.Workers,
		Logger:    logger,
	}
}

// DriverConfig returns the runner supervision settings.
func (c *Config) DriverConfig(logger *slog.Logger) runner.DriverConfig {
	env := runner.Env{}
	for k, v := range c.Runner.Env {
		env[k] = v
	}
	if c.Runner.TestMode != "" {
		env[runner.EnvTestMode] = c.Runner.TestMode
	}
	return runner.DriverConfig{
		Timeout:     c.Runner.Timeout,
		RuntimeRoot: c.Runner.TestRoot,
		WorkDir:     c.Runner.WorkDir,
		Env:         env,
		Logger:      logger,
	}
}
