package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	defaultConfigPath = "~/.config/fkmap/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the pipeline.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
	Catalog    Catalog    `json:"catalog"`
	Cache      Cache      `json:"cache"`
	Export     Export     `json:"export"`
	Resize     Resize     `json:"resize"`
	Server     Server     `json:"server"`
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"` // concurrent pipeline jobs
	Workers      int    `json:"workers"`       // per-file metric workers, 0 = NumCPU
	Decoder      string `json:"decoder"`       // native, imagick
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	ImageDir       string `json:"image_dir"`
	CacheFile      string `json:"cache_file"`
	OutputDir      string `json:"output_dir"`
	DatabasePath   string `json:"database_path"`
	DatabaseDriver string `json:"database_driver"` // sqlite (pure Go), sqlite3 (cgo)
}

// Catalog describes the simulation file naming convention.
type Catalog struct {
	Prefix    string `json:"prefix"`
	Extension string `json:"extension"`
}

// Cache toggles use of the persisted dataset.
type Cache struct {
	Enabled bool `json:"enabled"`
}

// Export holds exporter defaults.
type Export struct {
	WolframShape string `json:"wolfram_shape"` // list, association
}

// Resize configures the GIF downsampling tool.
type Resize struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Frames    int    `json:"frames"`
	OutputDir string `json:"output_dir"`
}

// Server configures the HTTP and gRPC listeners.
type Server struct {
	Addr     string `json:"addr"`
	GRPCAddr string `json:"grpc_addr"`
}

// Path returns the config file location honoring FKMAP_CONFIG.
func Path() string {
	if p := os.Getenv("FKMAP_CONFIG"); p != "" {
		return p
	}
	return defaultConfigPath
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config at path over the defaults. A missing file is not
// an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	expanded, err := expandUser(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			Workers:      runtime.NumCPU(),
			Decoder:      "native",
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			ImageDir:       "gif",
			CacheFile:      "fk_data_cache.pb",
			OutputDir:      ".",
			DatabasePath:   filepath.Join(os.TempDir(), "fkmap.db"),
			DatabaseDriver: "sqlite",
		},
		Catalog: Catalog{
			Prefix:    "GrayScott",
			Extension: "gif",
		},
		Cache: Cache{Enabled: true},
		Export: Export{
			WolframShape: "association",
		},
		Resize: Resize{
			Width:     64,
			Height:    64,
			Frames:    64,
			OutputDir: "gif_half",
		},
		Server: Server{
			Addr:     ":8080",
			GRPCAddr: ":9090",
		},
	}
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Catalog.Prefix) == "" {
		return errors.New("catalog.prefix must not be empty")
	}
	if strings.TrimSpace(strings.TrimPrefix(c.Catalog.Extension, ".")) == "" {
		return errors.New("catalog.extension must not be empty")
	}
	if c.Resize.Width <= 0 || c.Resize.Height <= 0 {
		return fmt.Errorf("resize dimensions must be positive, got %dx%d", c.Resize.Width, c.Resize.Height)
	}
	if c.Resize.Frames <= 0 {
		return fmt.Errorf("resize.frames must be positive, got %d", c.Resize.Frames)
	}
	if c.Processing.Workers < 0 {
		return fmt.Errorf("processing.workers must not be negative, got %d", c.Processing.Workers)
	}
	switch c.Paths.DatabaseDriver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unknown database driver %q (sqlite|sqlite3)", c.Paths.DatabaseDriver)
	}
	switch c.Export.WolframShape {
	case "", "list", "association":
	default:
		return fmt.Errorf("unknown wolfram shape %q (list|association)", c.Export.WolframShape)
	}
	return nil
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
