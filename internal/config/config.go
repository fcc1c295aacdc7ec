package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	// Tool paths
	ADBPath      string `mapstructure:"adb-path"`
	FastbootPath string `mapstructure:"fastboot-path"`

	// Catalog and working directories
	CatalogDir string `mapstructure:"catalog-dir"`
	WorkDir    string `mapstructure:"work-dir"`

	// Database paths
	SQLitePath string `mapstructure:"sqlite-path"`
	FSMDBPath  string `mapstructure:"fsm-db-path"`

	// S3 mirror configuration (for s3:// image sources)
	S3Region string `mapstructure:"s3-region"`

	// Device monitoring
	PollInterval  time.Duration `mapstructure:"poll-interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe-timeout"`
	RemovalMisses int           `mapstructure:"removal-misses"`

	// Install policy
	BatteryMin      int  `mapstructure:"battery-min"`
	DownloadRetries int  `mapstructure:"download-retries"`
	ResumeDownloads bool `mapstructure:"resume-downloads"`

	// FSM configuration
	FSMMaxRetries int `mapstructure:"fsm-max-retries"`
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("adb-path", "adb")
	viper.SetDefault("fastboot-path", "fastboot")
	viper.SetDefault("catalog-dir", "./catalog")
	viper.SetDefault("work-dir", "/tmp/droidflash")
	viper.SetDefault("sqlite-path", ".artifacts/installs.db")
	viper.SetDefault("fsm-db-path", ".artifacts/fsm.db")
	viper.SetDefault("s3-region", "us-east-1")
	viper.SetDefault("poll-interval", time.Second)
	viper.SetDefault("probe-timeout", 5*time.Second)
	viper.SetDefault("removal-misses", 3)
	viper.SetDefault("battery-min", 50)
	viper.SetDefault("download-retries", 0)
	viper.SetDefault("resume-downloads", true)
	viper.SetDefault("fsm-max-retries", 5)

	// Environment variables (will be DROIDFLASH_ADB_PATH, etc.)
	viper.SetEnvPrefix("DROIDFLASH")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.droidflash")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.ADBPath == "" {
		return fmt.Errorf("adb-path cannot be empty")
	}
	if c.FastbootPath == "" {
		return fmt.Errorf("fastboot-path cannot be empty")
	}
	if c.CatalogDir == "" {
		return fmt.Errorf("catalog-dir cannot be empty")
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("sqlite-path cannot be empty")
	}
	if c.FSMDBPath == "" {
		return fmt.Errorf("fsm-db-path cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe-timeout must be positive")
	}
	if c.RemovalMisses <= 0 {
		return fmt.Errorf("removal-misses must be positive")
	}
	if c.BatteryMin < 0 || c.BatteryMin > 100 {
		return fmt.Errorf("battery-min must be between 0 and 100")
	}
	if c.DownloadRetries < 0 {
		return fmt.Errorf("download-retries must be non-negative")
	}
	if c.FSMMaxRetries < 0 {
		return fmt.Errorf("fsm-max-retries must be non-negative")
	}
	return nil
}
