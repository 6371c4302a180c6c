package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("FKMAP_CONFIG", filepath.Join(t.TempDir(), "absent.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Catalog.Prefix != "GrayScott" || cfg.Catalog.Extension != "gif" {
		t.Fatalf("unexpected catalog defaults %+v", cfg.Catalog)
	}
	if !cfg.Cache.Enabled {
		t.Fatalf("expected cache enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"paths":{"image_dir":"/data/gif","database_driver":"sqlite3"},"cache":{"enabled":false},"resize":{"width":32}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FKMAP_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Paths.ImageDir != "/data/gif" {
		t.Fatalf("expected image_dir override, got %q", cfg.Paths.ImageDir)
	}
	if cfg.Cache.Enabled {
		t.Fatalf("expected cache disabled")
	}
	if cfg.Resize.Width != 32 || cfg.Resize.Height != 64 {
		t.Fatalf("expected partial resize override, got %+v", cfg.Resize)
	}
	if cfg.Paths.CacheFile != "fk_data_cache.pb" {
		t.Fatalf("expected untouched default cache file, got %q", cfg.Paths.CacheFile)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty prefix", func(c *Config) { c.Catalog.Prefix = " " }},
		{"empty extension", func(c *Config) { c.Catalog.Extension = "." }},
		{"zero width", func(c *Config) { c.Resize.Width = 0 }},
		{"zero frames", func(c *Config) { c.Resize.Frames = 0 }},
		{"negative workers", func(c *Config) { c.Processing.Workers = -1 }},
		{"bad driver", func(c *Config) { c.Paths.DatabaseDriver = "postgres" }},
		{"bad shape", func(c *Config) { c.Export.WolframShape = "table" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestExpandUser(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := expandUser("~/x/y.json")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "x/y.json") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got, _ := expandUser("/abs"); got != "/abs" {
		t.Fatalf("absolute paths must be untouched, got %q", got)
	}
}
