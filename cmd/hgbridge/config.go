package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	hgbridge "github.com/ahrav/go-hgbridge"
)

const (
	configName      = ".hgbridge"
	configType      = "yaml"
	envPrefix       = "HGBRIDGE"
	envKeySeparator = "_"
)

// settings is the merged view of defaults, config file, environment and
// flags. Field tags use mapstructure for viper unmarshalling.
type settings struct {
	GitDir           string `mapstructure:"git_dir"`
	MetadataRef      string `mapstructure:"metadata_ref"`
	VerifyChangesets bool   `mapstructure:"verify_changesets"`
	ObjectCacheSize  int    `mapstructure:"object_cache_size"`
	MaxDeltaDepth    int    `mapstructure:"max_delta_depth"`
	VerifyCRC        bool   `mapstructure:"verify_crc"`
	LogLevel         string `mapstructure:"log_level"`
	MetricsFile      string `mapstructure:"metrics_file"`
}

// flagKeys binds persistent flags to their config keys.
var flagKeys = map[string]string{
	"git-dir":      "git_dir",
	"metadata-ref": "metadata_ref",
	"log-level":    "log_level",
	"metrics-file": "metrics_file",
}

// loadSettings reads configPath, or .hgbridge.yaml from the working
// directory or $HOME when configPath is empty. A missing file is not an
// error. Flags set on the command line override everything else.
func loadSettings(configPath string, flags *pflag.FlagSet) (*settings, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	for flag, key := range flagKeys {
		if f := flags.Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, nil
}

func applyDefaults(v *viper.Viper) {
	def := hgbridge.DefaultConfig()
	v.SetDefault("git_dir", "")
	v.SetDefault("metadata_ref", def.MetadataRef)
	v.SetDefault("verify_changesets", def.VerifyChangesets)
	v.SetDefault("object_cache_size", def.ObjectCacheSize)
	v.SetDefault("max_delta_depth", def.MaxDeltaDepth)
	v.SetDefault("verify_crc", def.VerifyCRC)
	v.SetDefault("log_level", "warn")
	v.SetDefault("metrics_file", "")
}

// bridgeConfig turns settings into a library Config, discovering the git
// directory when none was given.
func (s *settings) bridgeConfig() (hgbridge.Config, error) {
	gitDir := s.GitDir
	if gitDir == "" {
		found, err := hgbridge.FindGitDir(".")
		if err != nil {
			return hgbridge.Config{}, err
		}
		gitDir = found
	}
	cfg := hgbridge.Config{
		GitDir:           gitDir,
		MetadataRef:      s.MetadataRef,
		VerifyChangesets: s.VerifyChangesets,
		ObjectCacheSize:  s.ObjectCacheSize,
		MaxDeltaDepth:    s.MaxDeltaDepth,
		VerifyCRC:        s.VerifyCRC,
	}
	if err := cfg.Validate(); err != nil {
		return hgbridge.Config{}, err
	}
	return cfg, nil
}

func (s *settings) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", s.LogLevel, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
