package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the prediction service configuration
type AppConfig struct {
	Server  ServerSettings  `yaml:"server"`
	Storage StorageSettings `yaml:"storage"`
	Models  ModelSettings   `yaml:"models"`
	Logging LoggingConfig   `yaml:"logging"`
}

// ServerSettings is the listener and stream auth
type ServerSettings struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	AuthToken      string        `yaml:"auth_token"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageSettings sizes the in-memory ring and the SQLite history
type StorageSettings struct {
	// BufferSize is the number of streamed records kept in memory per device
	BufferSize    int    `yaml:"buffer_size"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// ModelSettings points at optional classifier files; empty paths use the built-in rules
type ModelSettings struct {
	Fire string `yaml:"fire"`
	Zone string `yaml:"zone"`
	Air  string `yaml:"air"`
}

// LoadAppConfig loads the prediction service configuration from a YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults fills zero values
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8081
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "localhost"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if ac.Storage.BufferSize == 0 {
		ac.Storage.BufferSize = 100
	}
	if ac.Storage.DBPath == "" {
		ac.Storage.DBPath = "./data/predictd.db"
	}
	if ac.Storage.RetentionDays == 0 {
		ac.Storage.RetentionDays = 30
	}
	if ac.Logging.Level == "" {
		ac.Logging.Level = "info"
	}
	if ac.Logging.Format == "" {
		ac.Logging.Format = "json"
	}
}

// OverrideFromEnv applies PREDICTD_* and shared environment overrides
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SERVER_PORT: %w", err)
		}
		ac.Server.Port = port
	}
	for env, field := range map[string]*string{
		"SERVER_HOST":         &ac.Server.Host,
		"UPLINK_TOKEN":        &ac.Server.AuthToken,
		"LOG_LEVEL":           &ac.Logging.Level,
		"PREDICTD_DB_PATH":    &ac.Storage.DBPath,
		"PREDICTD_AIR_MODEL":  &ac.Models.Air,
		"PREDICTD_FIRE_MODEL": &ac.Models.Fire,
		"PREDICTD_ZONE_MODEL": &ac.Models.Zone,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
	return nil
}

// Validate reports every problem at once
func (ac *AppConfig) Validate() error {
	var errs []error
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", ac.Server.Port))
	}
	if ac.Server.AuthToken == "" {
		errs = append(errs, errors.New("server.auth_token is required"))
	}
	if ac.Storage.BufferSize < 10 {
		errs = append(errs, fmt.Errorf("storage.buffer_size %d below 10", ac.Storage.BufferSize))
	}
	if ac.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Errorf("storage.retention_days %d below 1", ac.Storage.RetentionDays))
	}
	for name, path := range map[string]string{"air": ac.Models.Air, "fire": ac.Models.Fire, "zone": ac.Models.Zone} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("models.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Addr is the listen address
func (ac *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", ac.Server.Host, ac.Server.Port)
}

// String returns a safe string representation (hides auth token)
func (ac *AppConfig) String() string {
	s := ac.Server
	s.AuthToken = maskToken(s.AuthToken)
	return fmt.Sprintf("AppConfig{Server: %+v, Storage: %+v, Models: %+v, Logging: %+v}",
		s,
		ac.Storage,
		ac.Models,
		ac.Logging,
	)
}
