package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	DatabasePath string

	ForecastAPIURL    string
	ForecastAPITimeout time.Duration
	Timezone          string

	RequestTimeout time.Duration
	CacheTTL       time.Duration

	FetchWorkers   int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	TaskWorkers   int
	TaskQueueSize int
	TaskRetention time.Duration

	GeneratorURL     string
	GeneratorTimeout time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	CleanupSchedule string

	ShutdownTimeout time.Duration

	RegionsFile string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	ForecastAPI struct {
		URL      string `yaml:"url"`
		Timeout  string `yaml:"timeout"`
		Timezone string `yaml:"timezone"`
	} `yaml:"forecast_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`

	Fetch struct {
		Workers        int    `yaml:"workers"`
		RetryAttempts  int    `yaml:"retry_attempts"`
		RetryBaseDelay string `yaml:"retry_base_delay"`
		RetryMaxDelay  string `yaml:"retry_max_delay"`
	} `yaml:"fetch"`

	Tasks struct {
		Workers   int    `yaml:"workers"`
		QueueSize int    `yaml:"queue_size"`
		Retention string `yaml:"retention"`
	} `yaml:"tasks"`

	Generator struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"generator"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Maintenance struct {
		CleanupSchedule string `yaml:"cleanup_schedule"`
	} `yaml:"maintenance"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Regions struct {
		File string `yaml:"file"`
	} `yaml:"regions"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev).
// DB_PATH and FORECAST_API_URL env vars override the file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.DatabasePath = strings.TrimSpace(os.Getenv("DB_PATH"))
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = fc.Database.Path
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "weather.db"
	}

	cfg.ForecastAPIURL = strings.TrimSpace(os.Getenv("FORECAST_API_URL"))
	if cfg.ForecastAPIURL == "" {
		cfg.ForecastAPIURL = fc.ForecastAPI.URL
	}
	if cfg.ForecastAPIURL == "" {
		cfg.ForecastAPIURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.ForecastAPITimeout = parseDuration(fc.ForecastAPI.Timeout, 10*time.Second)
	cfg.Timezone = fc.ForecastAPI.Timezone
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Karachi"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 30*time.Minute)

	cfg.FetchWorkers = fc.Fetch.Workers
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 15
	}
	cfg.RetryAttempts = fc.Fetch.RetryAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Fetch.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Fetch.RetryMaxDelay, 2*time.Second)

	cfg.TaskWorkers = fc.Tasks.Workers
	if cfg.TaskWorkers <= 0 {
		cfg.TaskWorkers = 4
	}
	cfg.TaskQueueSize = fc.Tasks.QueueSize
	if cfg.TaskQueueSize <= 0 {
		cfg.TaskQueueSize = 64
	}
	cfg.TaskRetention = parseDuration(fc.Tasks.Retention, time.Hour)

	cfg.GeneratorURL = strings.TrimSpace(os.Getenv("GENERATOR_URL"))
	if cfg.GeneratorURL == "" {
		cfg.GeneratorURL = fc.Generator.URL
	}
	cfg.GeneratorTimeout = parseDuration(fc.Generator.Timeout, 2*time.Minute)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.CleanupSchedule = strings.TrimSpace(fc.Maintenance.CleanupSchedule)
	if cfg.CleanupSchedule == "" {
		cfg.CleanupSchedule = "@hourly"
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.RegionsFile = fc.Regions.File
	if cfg.RegionsFile == "" {
		cfg.RegionsFile = filepath.Join(cwd, "config", "regions.yaml")
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing
// fails or the result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is auto-adjusted so
// a single upstream attempt can always complete inside the request window.
func validate(cfg *Config) error {
	if cfg.ForecastAPITimeout <= 0 {
		return fmt.Errorf("forecast_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ForecastAPITimeout {
		cfg.RequestTimeout = cfg.ForecastAPITimeout + time.Second
	}
	if cfg.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	return nil
}
