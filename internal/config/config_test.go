package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeFile(t, "caremodel.yaml", "input: legacy.csv\nformat: parquet\nstatus_cutoff: \"2022-06-30\"\nstrict: true\npreview: 3\n")

	c := Config{Format: FormatCSV, OutDir: DefaultOutDir}
	if err := c.LoadFromFile(path, nil); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.InputPath != "legacy.csv" || c.Format != FormatParquet || !c.Strict || c.Preview != 3 {
		t.Errorf("unexpected config: %+v", c)
	}
	if c.OutDir != DefaultOutDir {
		t.Errorf("absent key overwrote OutDir: %q", c.OutDir)
	}
	if c.StatusCutoff != "2022-06-30" {
		t.Errorf("cutoff: %q", c.StatusCutoff)
	}
}

func TestLoadFromFile_TOML(t *testing.T) {
	path := writeFile(t, "caremodel.toml", "out = \"/tmp/answers\"\nformat = \"sqlite\"\nlog_level = \"debug\"\n")

	var c Config
	if err := c.LoadFromFile(path, nil); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.OutDir != "/tmp/answers" || c.Format != FormatSQLite || c.LogLevel != "debug" {
		t.Errorf("unexpected config: %+v", c)
	}
}

func TestLoadFromFile_FlagsWin(t *testing.T) {
	path := writeFile(t, "caremodel.yaml", "format: parquet\npreview: 9\n")

	c := Config{Format: FormatSQLite}
	explicit := func(flag string) bool { return flag == "format" }
	if err := c.LoadFromFile(path, explicit); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if c.Format != FormatSQLite {
		t.Errorf("explicit flag overwritten: %q", c.Format)
	}
	if c.Preview != 9 {
		t.Errorf("preview: got %d, want 9", c.Preview)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		var c Config
		if err := c.LoadFromFile("/nonexistent/config.yaml", nil); err == nil {
			t.Fatal("expected error for missing file")
		}
	})
	t.Run("bad_yaml", func(t *testing.T) {
		var c Config
		if err := c.LoadFromFile(writeFile(t, "bad.yaml", "preview: [1, 2\n"), nil); err == nil {
			t.Fatal("expected parse error")
		}
	})
	t.Run("bad_toml", func(t *testing.T) {
		var c Config
		if err := c.LoadFromFile(writeFile(t, "bad.toml", "preview = \"many\"\n"), nil); err == nil {
			t.Fatal("expected parse error")
		}
	})
}

func TestValidateRun(t *testing.T) {
	input := writeFile(t, "legacy.csv", "patient_id\n")
	valid := func() Config {
		return Config{InputPath: input, OutDir: DefaultOutDir, Format: FormatCSV}
	}

	if c := valid(); c.ValidateRun() != nil {
		t.Fatalf("valid config rejected: %v", c.ValidateRun())
	}

	cases := map[string]func(c *Config){
		"missing_input":  func(c *Config) { c.InputPath = "" },
		"absent_input":   func(c *Config) { c.InputPath = input + ".gone" },
		"unknown_format": func(c *Config) { c.Format = "xlsx" },
		"bad_cutoff":     func(c *Config) { c.StatusCutoff = "soon" },
		"bad_log_level":  func(c *Config) { c.LogLevel = "loud" },
		"negative_rows":  func(c *Config) { c.Preview = -1 },
		"empty_out":      func(c *Config) { c.OutDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			if err := c.ValidateRun(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateDSN(t *testing.T) {
	var c Config
	if err := c.ValidateDSN(); err == nil {
		t.Error("expected error for empty DSN")
	}
	c.DSN = "postgres://localhost/care"
	if err := c.ValidateDSN(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
