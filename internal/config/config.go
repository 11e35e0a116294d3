package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all agent configuration
type Config struct {
	Env         string `yaml:"env" env:"APP_ENV" env-default:"production"`
	StoragePath string `yaml:"storage_path" env:"STORAGE_PATH" env-default:"workout-agent.db"`

	Log struct {
		Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
		Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
	} `yaml:"log"`

	Backend struct {
		BaseURL string `yaml:"base_url" env:"BACKEND_BASE_URL"`
		APIKey  string `yaml:"api_key" env:"BACKEND_API_KEY"`
		Timeout int    `yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"30"` // seconds
	} `yaml:"backend"`

	Monitor struct {
		ID   string `yaml:"id" env:"MONITOR_ID"`
		Name string `yaml:"name" env:"MONITOR_NAME" env-default:"workout-monitor"`
	} `yaml:"monitor"`

	Link struct {
		ManagerURL   string `yaml:"manager_url" env:"LINK_MANAGER_URL" env-default:"http://localhost:9320"`
		DeviceID     string `yaml:"device_id" env:"LINK_DEVICE_ID"`
		DeviceName   string `yaml:"device_name" env:"LINK_DEVICE_NAME"`
		PollInterval int    `yaml:"poll_interval" env:"LINK_POLL_INTERVAL" env-default:"1"` // seconds
	} `yaml:"link"`

	Network struct {
		ProbeInterval int `yaml:"probe_interval" env:"NETWORK_PROBE_INTERVAL" env-default:"5"` // seconds
	} `yaml:"network"`

	Session struct {
		ResumeCountdown      int `yaml:"resume_countdown" env:"SESSION_RESUME_COUNTDOWN" env-default:"3"`        // seconds
		FlushInterval        int `yaml:"flush_interval" env:"SESSION_FLUSH_INTERVAL" env-default:"60"`           // seconds
		ReconnectMaxAttempts int `yaml:"reconnect_max_attempts" env:"SESSION_RECONNECT_MAX_ATTEMPTS" env-default:"5"`
	} `yaml:"session"`

	Recording struct {
		BatchSize          int `yaml:"batch_size" env:"RECORDING_BATCH_SIZE" env-default:"50"`
		BatchFlushInterval int `yaml:"batch_flush_interval" env:"RECORDING_BATCH_FLUSH_INTERVAL" env-default:"10"` // seconds
	} `yaml:"recording"`

	Retention struct {
		MaxAgeDays int `yaml:"max_age_days" env:"RETENTION_MAX_AGE_DAYS" env-default:"7"`
		MaxRetries int `yaml:"max_retries" env:"RETENTION_MAX_RETRIES" env-default:"10"`
	} `yaml:"retention"`

	Server struct {
		Enabled bool `yaml:"enabled" env:"SERVER_ENABLED" env-default:"true"`
		Port    int  `yaml:"port" env:"SERVER_PORT" env-default:"9321"`
	} `yaml:"server"`
}

// LoadConfig reads configuration from a YAML file with environment overrides
func LoadConfig(path string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("backend.base_url is required")
	}

	return &cfg, nil
}
