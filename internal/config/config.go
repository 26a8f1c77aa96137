// Package config loads the YAML configuration of the dbkit command.
package config

import (
	"fmt"
	"maps"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tordrt/dbkit/internal/query"
)

type DatabaseConfig struct {
	Type     string            `yaml:"type"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	Database string            `yaml:"database"`
	Username string            `yaml:"username"`
	Password string            `yaml:"password"`
	Prefix   string            `yaml:"prefix"`
	SSLMode  string            `yaml:"sslmode"`
	Options  map[string]string `yaml:"options"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document and fills in the defaults.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	c.Database.Type = normalizeDatabaseType(c.Database.Type)

	switch c.Database.Type {
	case "postgres":
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
	case "mysql":
		if c.Database.Port == 0 && !strings.HasPrefix(c.Database.Host, "/") {
			c.Database.Port = 3306
		}
	}
	if c.Database.Host == "" && c.Database.Type != "sqlite" {
		c.Database.Host = "localhost"
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Server returns the address the backend connects to: host:port, a socket
// path, or nothing for file based databases.
func (c *Config) Server() string {
	switch {
	case c.Database.Type == "sqlite":
		return ""
	case strings.HasPrefix(c.Database.Host, "/") || c.Database.Port == 0:
		return c.Database.Host
	default:
		return net.JoinHostPort(c.Database.Host, strconv.Itoa(c.Database.Port))
	}
}

// Params returns the handle parameters described by the configuration.
func (c *Config) Params() query.Params {
	p := query.Params{
		Engine:   c.Database.Type,
		Server:   c.Server(),
		Name:     c.Database.Database,
		User:     c.Database.Username,
		Password: c.Database.Password,
		Prefix:   c.Database.Prefix,
	}
	p.Options = maps.Clone(c.Database.Options)
	if c.Database.Type == "postgres" && c.Database.SSLMode != "" {
		if p.Options == nil {
			p.Options = make(map[string]string, 1)
		}
		p.Options["sslmode"] = c.Database.SSLMode
	}
	return p
}

func normalizeDatabaseType(dbType string) string {
	dbType = strings.ToLower(strings.TrimSpace(dbType))
	if dbType == "" {
		return "mysql"
	}

	switch dbType {
	case "postgres", "postgresql", "pgsql":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	case "mysql", "mariadb":
		return "mysql"
	default:
		return dbType
	}
}
