package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape. The database settings live under a
// `database:` key so the file can grow other store sections later
// without breaking existing deployments.
type fileConfig struct {
	Database Config `yaml:"database"`
}

// LoadConfig loads database configuration from a YAML file with
// environment variable overrides. A missing file is not an error; the
// defaults (persistence disabled) apply.
func LoadConfig(configPath string) (Config, error) {
	var file fileConfig

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return Config{}, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}

			if err := yaml.Unmarshal(data, &file); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	config := file.Database
	applyEnvOverrides(&config)

	// Set defaults if not specified
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 30 * time.Minute
	}
	if config.ConnMaxIdleTime == 0 {
		config.ConnMaxIdleTime = 5 * time.Minute
	}
	if config.QueryTimeout == 0 {
		config.QueryTimeout = 30 * time.Second
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to database config
func applyEnvOverrides(config *Config) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		config.DSN = dsn
	}

	if enabled := os.Getenv("PG_ENABLED"); enabled != "" {
		if val, err := strconv.ParseBool(enabled); err == nil {
			config.Enabled = val
		}
	}

	if maxOpen := os.Getenv("PG_MAX_OPEN_CONNS"); maxOpen != "" {
		if val, err := strconv.Atoi(maxOpen); err == nil {
			config.MaxOpenConns = val
		}
	}

	if maxIdle := os.Getenv("PG_MAX_IDLE_CONNS"); maxIdle != "" {
		if val, err := strconv.Atoi(maxIdle); err == nil {
			config.MaxIdleConns = val
		}
	}

	if maxLifetime := os.Getenv("PG_CONN_MAX_LIFETIME"); maxLifetime != "" {
		if val, err := time.ParseDuration(maxLifetime); err == nil {
			config.ConnMaxLifetime = val
		}
	}

	if maxIdleTime := os.Getenv("PG_CONN_MAX_IDLE_TIME"); maxIdleTime != "" {
		if val, err := time.ParseDuration(maxIdleTime); err == nil {
			config.ConnMaxIdleTime = val
		}
	}

	if queryTimeout := os.Getenv("PG_QUERY_TIMEOUT"); queryTimeout != "" {
		if val, err := time.ParseDuration(queryTimeout); err == nil {
			config.QueryTimeout = val
		}
	}
}

// SaveConfig saves the database configuration to a YAML file
func SaveConfig(config Config, configPath string) error {
	data, err := yaml.Marshal(fileConfig{Database: config})
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	return nil
}

// Validate validates the database configuration
func (c *Config) Validate() error {
	if c.Enabled && c.DSN == "" {
		return fmt.Errorf("database DSN is required when database is enabled")
	}

	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}

	if c.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns cannot be negative")
	}

	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot exceed max_open_conns")
	}

	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}

	return nil
}

// ConfigPath is the default location of the database settings file.
func ConfigPath() string {
	return filepath.Join("config", "database.yaml")
}
