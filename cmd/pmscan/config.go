package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/david-ria/pmscanv2-sub000/internal/profile"
)

// appConfig is everything the tool reads from its config file and
// environment. All keys have usable defaults; a missing config file is not
// an error.
type appConfig struct {
	Scan struct {
		Duration time.Duration `mapstructure:"duration"`
	} `mapstructure:"scan"`

	Picker struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"picker"`

	Reconnect struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"reconnect"`

	Prefs struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"prefs"`

	Profiles struct {
		// Path to a YAML file with profile overrides (UUIDs, offsets)
		Path string `mapstructure:"path"`
	} `mapstructure:"profiles"`

	Log struct {
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
	} `mapstructure:"log"`
}

// loadConfig reads the optional config file named by --config plus any
// PMSCAN_* environment overrides.
func loadConfig(cmd *cobra.Command) (*appConfig, error) {
	v := viper.New()

	v.SetDefault("scan.duration", 10*time.Second)
	v.SetDefault("picker.timeout", 10*time.Second)
	v.SetDefault("reconnect.interval", 7*time.Second)
	v.SetDefault("prefs.path", defaultPrefsPath())
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)

	v.SetEnvPrefix("PMSCAN")
	v.AutomaticEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg appConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func defaultPrefsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "pmscan-prefs.db"
	}
	return dir + "/pmscan/prefs.db"
}

// loadProfiles builds the profile registry, applying file overrides when
// configured.
func loadProfiles(cfg *appConfig) (*profile.Registry, error) {
	reg := profile.NewRegistry()
	if cfg.Profiles.Path == "" {
		return reg, nil
	}
	f, err := os.Open(cfg.Profiles.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile overrides: %w", err)
	}
	defer f.Close()
	if err := reg.LoadOverrides(f); err != nil {
		return nil, err
	}
	return reg, nil
}
