package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ccollins476ad/savedl/media/gfycat"
	"github.com/ccollins476ad/savedl/media/imgur"
	"github.com/ccollins476ad/savedl/pipeline"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SAVEDL"

// Source formats.
const (
	FormatArchive  = "archive"  // bdfr archive directory.
	FormatManifest = "manifest" // yaml/json list of saved items.
	FormatLinks    = "links"    // text file of urls.
	FormatFailures = "failures" // items that failed in earlier runs.
)

type ImgurConfig struct {
	ClientID string `mapstructure:"client_id"`
	APIBase  string `mapstructure:"api_base"`
}

type GfycatConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	APIBase      string `mapstructure:"api_base"`
}

type Config struct {
	Source          string        `mapstructure:"source"`           // Path of the saved-items source.
	SourceFormat    string        `mapstructure:"source_format"`    // One of the Format* constants.
	DestDir         string        `mapstructure:"dest_dir"`         // Directory to save media to.
	Verbose         bool          `mapstructure:"verbose"`          // True for verbose output.
	Jobs            int           `mapstructure:"jobs"`             // Number of items to process in parallel.
	HistoryDir      string        `mapstructure:"history_dir"`      // Outcome ledger; disabled if empty.
	MetricsAddr     string        `mapstructure:"metrics_addr"`     // Prometheus listen address; disabled if empty.
	ResolveTimeout  time.Duration `mapstructure:"resolve_timeout"`  // Per-item provider lookup bound.
	DownloadTimeout time.Duration `mapstructure:"download_timeout"` // Per-asset download bound.
	CacheSize       int           `mapstructure:"cache_size"`       // Resolver cache entries.

	Imgur  ImgurConfig  `mapstructure:"imgur"`
	Gfycat GfycatConfig `mapstructure:"gfycat"`
}

// flagKeys maps command line flag names to config keys.
var flagKeys = map[string]string{
	"format":       "source_format",
	"jobs":         "jobs",
	"verbose":      "verbose",
	"history-dir":  "history_dir",
	"metrics-addr": "metrics_addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source", "")
	v.SetDefault("source_format", FormatArchive)
	v.SetDefault("dest_dir", "")
	v.SetDefault("verbose", false)
	v.SetDefault("history_dir", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("jobs", pipeline.DefaultJobs)
	v.SetDefault("resolve_timeout", pipeline.DefaultResolveTimeout)
	v.SetDefault("download_timeout", pipeline.DefaultDownloadTimeout)
	v.SetDefault("cache_size", 512)
	v.SetDefault("imgur.client_id", "")
	v.SetDefault("imgur.api_base", imgur.DefaultAPIBase)
	v.SetDefault("gfycat.client_id", "")
	v.SetDefault("gfycat.client_secret", "")
	v.SetDefault("gfycat.api_base", gfycat.DefaultAPIBase)
}

// loadConfig merges, from lowest to highest precedence: defaults, the config
// file, SAVEDL_* environment variables (including those from a .env file), and
// command line flags. configFile may be empty, in which case savedl.yaml is
// looked up in the working directory.
func loadConfig(configFile string, flags *pflag.FlagSet, args []string) (*Config, error) {
	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("savedl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) || configFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	for name, key := range flagKeys {
		if flags == nil {
			break
		}
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Positional arguments: <source> <dest_dir>, or just <dest_dir> when
	// retrying failures.
	switch {
	case len(args) == 1 && cfg.SourceFormat == FormatFailures:
		cfg.DestDir = args[0]
	case len(args) == 1:
		cfg.Source = args[0]
	case len(args) >= 2:
		cfg.Source = args[0]
		cfg.DestDir = args[1]
	}

	return cfg, nil
}

// validate checks the settings needed for a download run.
func (cfg *Config) validate() error {
	switch cfg.SourceFormat {
	case FormatArchive, FormatManifest, FormatLinks:
		if cfg.Source == "" {
			return fmt.Errorf("missing required argument: source")
		}
	case FormatFailures:
		if cfg.HistoryDir == "" {
			return fmt.Errorf("source format %q requires history_dir", FormatFailures)
		}
	default:
		return fmt.Errorf("unknown source format: %q", cfg.SourceFormat)
	}

	if cfg.DestDir == "" {
		return fmt.Errorf("missing required argument: dest_dir")
	}
	if cfg.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1: have=%d", cfg.Jobs)
	}

	return nil
}
