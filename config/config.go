package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type RemoteConfig struct {
	BaseURL            string `yaml:"base_url"`
	UserAgent          string `yaml:"user_agent"`
	ProbeTimeoutStr    string `yaml:"probe_timeout"`
	RequestTimeoutStr  string `yaml:"request_timeout"`
	DownloadTimeoutStr string `yaml:"download_timeout"`

	ProbeTimeout    time.Duration `yaml:"-"`
	RequestTimeout  time.Duration `yaml:"-"`
	DownloadTimeout time.Duration `yaml:"-"`
}

type ArchiveConfig struct {
	Root string `yaml:"root"`
}

type FetchConfig struct {
	IntervalStr      string `yaml:"interval"`
	RetryAttempts    int    `yaml:"retry_attempts"` // in-cycle retries per file after the first attempt
	CurrentMonthOnly bool   `yaml:"current_month_only"`
	Timezone         string `yaml:"timezone"`

	Interval time.Duration  `yaml:"-"`
	Location *time.Location `yaml:"-"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Remote   RemoteConfig   `yaml:"remote"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Fetch    FetchConfig    `yaml:"fetch"`
}

var AppConfig Config

// LoadConfig reads configuration from the YAML file at configPath, then lets
// environment variables (optionally loaded from a .env file) override the
// sensitive and deploy-specific fields.
func LoadConfig(configPath string) error {
	if configPath == "" {
		for _, p := range []string{"config.yaml", "config/config.yaml"} {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
		if configPath == "" {
			return fmt.Errorf("config.yaml not found in standard locations")
		}
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(file, &AppConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	_ = godotenv.Load()
	applyEnvOverrides(&AppConfig)
	applyDefaults(&AppConfig)

	if err := parseDurations(&AppConfig); err != nil {
		return err
	}

	AppConfig.Fetch.Location, err = time.LoadLocation(AppConfig.Fetch.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %q: %w", AppConfig.Fetch.Timezone, err)
	}

	if AppConfig.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}

	if AppConfig.Archive.Root != "" {
		if err := os.MkdirAll(filepath.Clean(AppConfig.Archive.Root), 0o755); err != nil {
			return fmt.Errorf("failed to create archive root %s: %w", AppConfig.Archive.Root, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"PILOTO_SERVER_PORT", &cfg.Server.Port},
		{"PILOTO_DB_HOST", &cfg.Database.Host},
		{"PILOTO_DB_PORT", &cfg.Database.Port},
		{"PILOTO_DB_USER", &cfg.Database.User},
		{"PILOTO_DB_PASSWORD", &cfg.Database.Password},
		{"PILOTO_DB_NAME", &cfg.Database.DBName},
		{"PILOTO_REMOTE_BASE_URL", &cfg.Remote.BaseURL},
		{"PILOTO_ARCHIVE_ROOT", &cfg.Archive.Root},
		{"PILOTO_FETCH_INTERVAL", &cfg.Fetch.IntervalStr},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8050"
	}
	if cfg.Remote.UserAgent == "" {
		cfg.Remote.UserAgent = "USACH-Piloto-Monitor/1.0"
	}
	if cfg.Archive.Root == "" {
		cfg.Archive.Root = "piloto_data"
	}
	if cfg.Fetch.Timezone == "" {
		cfg.Fetch.Timezone = "America/Santiago"
	}
	if cfg.Fetch.RetryAttempts == 0 {
		cfg.Fetch.RetryAttempts = 1
	}
}

func parseDurations(cfg *Config) error {
	parse := func(name, s string, fallback time.Duration) (time.Duration, error) {
		if s == "" {
			return fallback, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		return d, nil
	}

	var err error
	if cfg.Remote.ProbeTimeout, err = parse("remote.probe_timeout", cfg.Remote.ProbeTimeoutStr, 10*time.Second); err != nil {
		return err
	}
	if cfg.Remote.RequestTimeout, err = parse("remote.request_timeout", cfg.Remote.RequestTimeoutStr, 20*time.Second); err != nil {
		return err
	}
	if cfg.Remote.DownloadTimeout, err = parse("remote.download_timeout", cfg.Remote.DownloadTimeoutStr, 30*time.Second); err != nil {
		return err
	}
	if cfg.Fetch.Interval, err = parse("fetch.interval", cfg.Fetch.IntervalStr, 10*time.Minute); err != nil {
		return err
	}
	return nil
}
