package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/subdupes/internal/common"
	"github.com/Veraticus/subdupes/internal/detect"
	"github.com/Veraticus/subdupes/internal/schedule"
)

// Config is the resolved application configuration.
type Config struct {
	Logging   LoggingConfig
	Database  DatabaseConfig
	API       APIConfig
	Detection DetectionConfig
	Scheduler schedule.Config
	Sync      SyncConfig
	Prompt    PromptConfig
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string
	Format string
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path string
}

// APIConfig configures the backend client.
type APIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// DetectionConfig tunes the page scanner.
type DetectionConfig struct {
	RulesFile       string
	Threshold       int
	PromptThreshold int
}

// SyncConfig tunes background sync.
type SyncConfig struct {
	LockFile string
	Interval time.Duration
}

// PromptConfig tunes the save prompt gate.
type PromptConfig struct {
	Cooldown time.Duration
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("database.path", "~/.local/share/subdupes/subdupes.db")
	v.SetDefault("api.base_url", "https://backend.subdupes.com/api")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("detection.threshold", 40)
	v.SetDefault("detection.prompt_threshold", 55)
	v.SetDefault("detection.rules_file", "")
	v.SetDefault("scheduler.debounce", 3*time.Second)
	v.SetDefault("scheduler.throttle", 5*time.Second)
	v.SetDefault("scheduler.poll_interval", time.Second)
	v.SetDefault("sync.interval", 24*time.Hour)
	v.SetDefault("sync.lock_file", "~/.local/share/subdupes/sync.lock")
	v.SetDefault("prompt.cooldown", 24*time.Hour)
}

// Load reads and validates the configuration from v. Paths are expanded.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Database: DatabaseConfig{
			Path: ExpandPath(v.GetString("database.path")),
		},
		API: APIConfig{
			BaseURL: v.GetString("api.base_url"),
			Token:   v.GetString("api.token"),
			Timeout: v.GetDuration("api.timeout"),
		},
		Detection: DetectionConfig{
			Threshold:       v.GetInt("detection.threshold"),
			PromptThreshold: v.GetInt("detection.prompt_threshold"),
			RulesFile:       ExpandPath(v.GetString("detection.rules_file")),
		},
		Scheduler: schedule.Config{
			Debounce:     v.GetDuration("scheduler.debounce"),
			Throttle:     v.GetDuration("scheduler.throttle"),
			PollInterval: v.GetDuration("scheduler.poll_interval"),
		},
		Sync: SyncConfig{
			Interval: v.GetDuration("sync.interval"),
			LockFile: ExpandPath(v.GetString("sync.lock_file")),
		},
		Prompt: PromptConfig{
			Cooldown: v.GetDuration("prompt.cooldown"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and required settings.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: logging.format %q", common.ErrInvalidConfig, c.Logging.Format)
	}

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api.base_url %q", common.ErrInvalidConfig, c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("%w: api.timeout must be positive", common.ErrInvalidConfig)
	}

	if c.Detection.Threshold <= 0 || c.Detection.Threshold > 100 {
		return fmt.Errorf("%w: detection.threshold %d out of range", common.ErrInvalidConfig, c.Detection.Threshold)
	}
	if c.Detection.PromptThreshold < c.Detection.Threshold || c.Detection.PromptThreshold > 100 {
		return fmt.Errorf("%w: detection.prompt_threshold %d must be between threshold and 100",
			common.ErrInvalidConfig, c.Detection.PromptThreshold)
	}

	for name, d := range map[string]time.Duration{
		"scheduler.debounce":      c.Scheduler.Debounce,
		"scheduler.throttle":      c.Scheduler.Throttle,
		"scheduler.poll_interval": c.Scheduler.PollInterval,
		"sync.interval":           c.Sync.Interval,
		"prompt.cooldown":         c.Prompt.Cooldown,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", common.ErrInvalidConfig, name)
		}
	}
	return nil
}

// Rules builds the scanner rule table: defaults, overlaid by the rules file,
// then the configured thresholds.
func (c Config) Rules() (detect.Rules, error) {
	rules := detect.DefaultRules()
	if c.Detection.RulesFile != "" {
		loaded, err := detect.LoadRules(c.Detection.RulesFile)
		if err != nil {
			return detect.Rules{}, err
		}
		rules = loaded
	}

	rules.Threshold = c.Detection.Threshold
	rules.PromptThreshold = c.Detection.PromptThreshold
	if err := rules.Validate(); err != nil {
		return detect.Rules{}, err
	}
	return rules, nil
}
