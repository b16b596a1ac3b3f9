package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/gyeh/caremodel/internal/normalize"
)

// Output formats accepted by --format.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatSQLite  = "sqlite"
)

// DefaultOutDir is where tables are written when --out is not given.
const DefaultOutDir = "./data/answers"

// DefaultStatusCutoff is the default last Inactive day.
const DefaultStatusCutoff = "2021-12-31"

// Config holds all runtime configuration for a caremodel run.
type Config struct {
	ConfigFile   string
	InputPath    string
	OutDir       string
	Format       string // "csv", "parquet" or "sqlite"
	DSN          string // optional Postgres publish target
	StatusCutoff string // YYYY-MM-DD
	Strict       bool   // exit non-zero on any reconciliation finding
	Preview      int    // rows per table to print after the run
	LogFormat    string // "text" or "json"
	LogLevel     string
}

// File is the on-disk structure, in YAML or TOML. Absent keys are nil and
// leave the corresponding Config field alone.
type File struct {
	Input        *string `yaml:"input" toml:"input"`
	Out          *string `yaml:"out" toml:"out"`
	Format       *string `yaml:"format" toml:"format"`
	DSN          *string `yaml:"dsn" toml:"dsn"`
	StatusCutoff *string `yaml:"status_cutoff" toml:"status_cutoff"`
	Strict       *bool   `yaml:"strict" toml:"strict"`
	Preview      *int    `yaml:"preview" toml:"preview"`
	LogFormat    *string `yaml:"log_format" toml:"log_format"`
	LogLevel     *string `yaml:"log_level" toml:"log_level"`
}

// ReadFile parses a config file. Files ending in .toml are read as TOML,
// anything else as YAML.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &f)
	default:
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &f, nil
}

// LoadFromFile reads path and merges every key it sets into c, except keys
// for which explicit reports true. explicit receives the flag name, so
// values given on the command line win over the file. A nil explicit
// merges everything.
func (c *Config) LoadFromFile(path string, explicit func(flag string) bool) error {
	f, err := ReadFile(path)
	if err != nil {
		return err
	}
	if explicit == nil {
		explicit = func(string) bool { return false }
	}
	setString := func(flag string, dst *string, v *string) {
		if v != nil && !explicit(flag) {
			*dst = *v
		}
	}
	setString("input", &c.InputPath, f.Input)
	setString("out", &c.OutDir, f.Out)
	setString("format", &c.Format, f.Format)
	setString("dsn", &c.DSN, f.DSN)
	setString("status-cutoff", &c.StatusCutoff, f.StatusCutoff)
	setString("log-format", &c.LogFormat, f.LogFormat)
	setString("log-level", &c.LogLevel, f.LogLevel)
	if f.Strict != nil && !explicit("strict") {
		c.Strict = *f.Strict
	}
	if f.Preview != nil && !explicit("preview") {
		c.Preview = *f.Preview
	}
	return nil
}

// Validate checks the fields shared by run and plan.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("--input is required")
	}
	if _, err := os.Stat(c.InputPath); err != nil {
		return fmt.Errorf("input not accessible: %w", err)
	}
	if c.StatusCutoff != "" && normalize.ParseDate(c.StatusCutoff) == nil {
		return fmt.Errorf("invalid --status-cutoff %q", c.StatusCutoff)
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("invalid --log-level %q", c.LogLevel)
		}
	}
	return nil
}

// ValidateRun additionally checks the output settings.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch c.Format {
	case FormatCSV, FormatParquet, FormatSQLite:
	default:
		return fmt.Errorf("unknown --format %q (want csv, parquet or sqlite)", c.Format)
	}
	if c.OutDir == "" {
		return fmt.Errorf("--out must not be empty")
	}
	if c.Preview < 0 {
		return fmt.Errorf("--preview must be >= 0")
	}
	return nil
}

// ValidateDSN checks that a Postgres DSN is set.
func (c *Config) ValidateDSN() error {
	if c.DSN == "" {
		return fmt.Errorf("--dsn or CAREMODEL_DB_URL is required")
	}
	return nil
}
