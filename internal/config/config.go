package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chameleon-db/rowsync/pkg/engine"
	"github.com/chameleon-db/rowsync/pkg/engine/introspect"
	"github.com/chameleon-db/rowsync/pkg/engine/mutation"
)

// Config is the project configuration read from .rowsync.yml
type Config struct {
	Version  string         `yaml:"version" toml:"version"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Access   AccessConfig   `yaml:"access" toml:"access"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Archive  ArchiveConfig  `yaml:"archive" toml:"archive"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// DatabaseConfig holds connection and execution settings. Timeouts are in
// seconds.
type DatabaseConfig struct {
	Driver              string `yaml:"driver" toml:"driver"`
	ConnectionString    string `yaml:"connection_string,omitempty" toml:"connection_string"`
	TrustedConnection   bool   `yaml:"trusted_connection" toml:"trusted_connection"`
	Server              string `yaml:"server,omitempty" toml:"server"`
	Port                int    `yaml:"port,omitempty" toml:"port"`
	Catalog             string `yaml:"catalog,omitempty" toml:"catalog"`
	User                string `yaml:"user,omitempty" toml:"user"`
	Password            string `yaml:"password,omitempty" toml:"password"`
	MaxConnections      int    `yaml:"max_connections" toml:"max_connections"`
	IsolationLevel      string `yaml:"isolation_level" toml:"isolation_level"`
	CommandTimeout      int    `yaml:"command_timeout" toml:"command_timeout"`
	MinCommandTimeout   int    `yaml:"min_command_timeout" toml:"min_command_timeout"`
	AutoSchemaDiscovery bool   `yaml:"auto_schema_discovery" toml:"auto_schema_discovery"`
}

// AccessConfig holds the execution policy
type AccessConfig struct {
	AllowedAccessMethod    string `yaml:"allowed_access_method" toml:"allowed_access_method"`
	ProcedurePrefix        string `yaml:"procedure_prefix" toml:"procedure_prefix"`
	DefaultAppRole         string `yaml:"default_app_role,omitempty" toml:"default_app_role"`
	DefaultAppRolePassword string `yaml:"default_app_role_password,omitempty" toml:"default_app_role_password"`
}

// LoggingConfig holds log output settings
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // console or json
}

// ArchiveConfig selects where parked snapshots live
type ArchiveConfig struct {
	Driver    string `yaml:"driver" toml:"driver"` // file or s3
	Dir       string `yaml:"dir,omitempty" toml:"dir"`
	Bucket    string `yaml:"bucket,omitempty" toml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty" toml:"prefix"`
	Region    string `yaml:"region,omitempty" toml:"region"`
	Endpoint  string `yaml:"endpoint,omitempty" toml:"endpoint"`
	PathStyle bool   `yaml:"path_style" toml:"path_style"`
}

// MetricsConfig enables the prometheus observer
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// Defaults returns the configuration used when no file exists
func Defaults() *Config {
	return &Config{
		Version: "0.1",
		Database: DatabaseConfig{
			Driver:            engine.DialectPostgres,
			Server:            "localhost",
			Port:              5432,
			User:              "postgres",
			MaxConnections:    10,
			IsolationLevel:    "readcommitted",
			CommandTimeout:    30,
			MinCommandTimeout: 0,
		},
		Access: AccessConfig{
			AllowedAccessMethod: string(engine.AccessAll),
			ProcedurePrefix:     mutation.DefaultProcedurePrefix,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Archive: ArchiveConfig{Driver: "file", Dir: ".rowsync/archive"},
	}
}

// Validate checks the settings a service needs
func (c *Config) Validate() error {
	if _, err := c.driver(); err != nil {
		return err
	}
	if _, err := engine.ParseAccessMethod(c.Access.AllowedAccessMethod); err != nil {
		return err
	}
	if _, err := engine.ParseIsolationLevel(c.Database.IsolationLevel); err != nil {
		return err
	}
	if c.Database.CommandTimeout < 0 || c.Database.MinCommandTimeout < 0 {
		return fmt.Errorf("command timeouts must not be negative")
	}
	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
		}
	}
	switch strings.ToLower(c.Archive.Driver) {
	case "", "file":
	case "s3":
		if c.Archive.Bucket == "" {
			return &engine.MissingConfigurationError{Setting: "archive.bucket", Hint: "required for the s3 archive driver"}
		}
	default:
		return fmt.Errorf("invalid archive driver %q (allowed: file, s3)", c.Archive.Driver)
	}
	if c.Access.DefaultAppRolePassword != "" && c.Access.DefaultAppRole == "" {
		return &engine.MissingConfigurationError{Setting: "access.default_app_role", Hint: "a role password was given without a role"}
	}

	_, err := c.connector().DSN()
	return err
}

// driver resolves the dialect, detecting it from the connection string
// when no driver is configured.
func (c *Config) driver() (string, error) {
	d := strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch d {
	case "postgresql", "pgx":
		d = engine.DialectPostgres
	case "sqlite3":
		d = engine.DialectSQLite
	case "":
		if c.Database.ConnectionString == "" {
			return "", &engine.MissingConfigurationError{Setting: "database.driver"}
		}
		return introspect.DetectFromConnString(c.Database.ConnectionString).Dialect()
	}
	if _, err := engine.DialectFor(d); err != nil {
		return "", err
	}
	return d, nil
}

// Dialect is the configured backend name, detected from the connection
// string when no driver is set.
func (c *Config) Dialect() (string, error) { return c.driver() }

func (c *Config) connector() engine.ConnectorConfig {
	driver, _ := c.driver()
	cc := engine.DefaultConfig()
	cc.Driver = driver
	cc.ConnectionString = c.Database.ConnectionString
	cc.TrustedConnection = c.Database.TrustedConnection
	cc.Server = c.Database.Server
	cc.Port = c.Database.Port
	cc.Catalog = c.Database.Catalog
	cc.User = c.Database.User
	cc.Password = c.Database.Password
	if c.Database.MaxConnections > 0 {
		cc.MaxOpenConns = c.Database.MaxConnections
	}
	return cc
}

// ToServiceConfig converts the file settings into a service configuration
func (c *Config) ToServiceConfig() (engine.ServiceConfig, error) {
	if err := c.Validate(); err != nil {
		return engine.ServiceConfig{}, err
	}
	access, _ := engine.ParseAccessMethod(c.Access.AllowedAccessMethod)
	isolation, _ := engine.ParseIsolationLevel(c.Database.IsolationLevel)

	return engine.ServiceConfig{
		Connector:    c.connector(),
		AccessMethod: access,
		Isolation:    isolation,
		DefaultRole: engine.AppRole{
			Name:     c.Access.DefaultAppRole,
			Password: c.Access.DefaultAppRolePassword,
		},
		CommandTimeout:      time.Duration(c.Database.CommandTimeout) * time.Second,
		MinCommandTimeout:   time.Duration(c.Database.MinCommandTimeout) * time.Second,
		ProcedurePrefix:     c.Access.ProcedurePrefix,
		AutoSchemaDiscovery: c.Database.AutoSchemaDiscovery,
	}, nil
}

// LogLevel returns the configured zerolog level, info when unset
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.Logging.Level))
	if err != nil || c.Logging.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}
