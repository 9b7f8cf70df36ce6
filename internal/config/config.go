package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	appDir             = "hlsmirror"
	DefaultConcurrency = 5
	DefaultFFmpeg      = "ffmpeg"
)

// Config holds the settings that can live in the YAML config file. Command
// line flags override them.
type Config struct {
	Debug       bool              `yaml:"debug"`
	TempDir     string            `yaml:"tempdir"`
	Concurrency int               `yaml:"concurrency"`
	UserAgent   string            `yaml:"user_agent"`
	Proxy       string            `yaml:"proxy"`
	Headers     map[string]string `yaml:"headers"`
	FFmpeg      string            `yaml:"ffmpeg"`
	S3Profile   string            `yaml:"s3_profile"`
}

func Default() Config {
	return Config{
		TempDir:     DefaultCacheDir(),
		Concurrency: DefaultConcurrency,
		FFmpeg:      DefaultFFmpeg,
	}
}

// DefaultPath is <user config dir>/hlsmirror/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appDir, "config.yaml")
}

// DefaultCacheDir picks the platform cache location for temp files.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appDir)
	}
	return filepath.Join(home, ".cache", appDir)
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("error reading config file: %v", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file: %v", err)
	}
	if cfg.TempDir == "" {
		cfg.TempDir = DefaultCacheDir()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.FFmpeg == "" {
		cfg.FFmpeg = DefaultFFmpeg
	}
	log.Debug().Str("op", "config").Msgf("Loaded config from %s", path)
	return cfg, nil
}
