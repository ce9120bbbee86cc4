package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// sqlOpen is overridden in tests.
var sqlOpen = sql.Open

// ConnectorConfig holds connection settings
type ConnectorConfig struct {
	Driver string
	// ConnectionString overrides every other setting when set.
	ConnectionString string
	Server           string
	Port             int
	// Catalog is the database name, or the file path for sqlite.
	Catalog string
	// TrustedConnection uses the ambient OS/driver credentials instead of
	// User and Password.
	TrustedConnection bool
	User              string
	Password          string
	// Pool settings
	MaxOpenConns int
	MaxIdleConns int
	MaxIdleTime  time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() ConnectorConfig {
	return ConnectorConfig{
		Driver:       DialectPostgres,
		Server:       "localhost",
		Port:         5432,
		User:         "postgres",
		MaxOpenConns: 10,
		MaxIdleConns: 2,
		MaxIdleTime:  5 * time.Minute,
	}
}

// DSN builds the driver connection string
func (c ConnectorConfig) DSN() (string, error) {
	if strings.TrimSpace(c.ConnectionString) != "" {
		return c.ConnectionString, nil
	}

	dialect, err := DialectFor(c.Driver)
	if err != nil {
		return "", err
	}
	if c.Catalog == "" {
		return "", &MissingConfigurationError{Setting: "catalog", Hint: "set database.catalog or a connection string"}
	}

	switch dialect.Name() {
	case DialectSQLite:
		return "file:" + c.Catalog + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", nil

	case DialectMySQL:
		if c.Server == "" {
			return "", &MissingConfigurationError{Setting: "server"}
		}
		cfg := mysql.NewConfig()
		cfg.Net = "tcp"
		cfg.Addr = c.Server
		if c.Port > 0 {
			cfg.Addr = net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
		}
		cfg.DBName = c.Catalog
		cfg.ParseTime = true
		if !c.TrustedConnection {
			if c.User == "" {
				return "", &MissingConfigurationError{Setting: "user", Hint: "or enable trusted_connection"}
			}
			cfg.User = c.User
			cfg.Passwd = c.Password
		}
		return cfg.FormatDSN(), nil

	default:
		if c.Server == "" {
			return "", &MissingConfigurationError{Setting: "server"}
		}
		parts := []string{"host=" + c.Server}
		if c.Port > 0 {
			parts = append(parts, fmt.Sprintf("port=%d", c.Port))
		}
		parts = append(parts, "dbname="+c.Catalog)
		if !c.TrustedConnection {
			if c.User == "" {
				return "", &MissingConfigurationError{Setting: "user", Hint: "or enable trusted_connection"}
			}
			parts = append(parts, "user="+c.User)
			if c.Password != "" {
				parts = append(parts, "password="+c.Password)
			}
		}
		parts = append(parts, "sslmode=disable")
		return strings.Join(parts, " "), nil
	}
}

// Connector opens the database/sql handle for a ConnectorConfig
type Connector struct {
	config  ConnectorConfig
	dialect Dialect
	db      *sql.DB
}

// NewConnector creates a new connector (does not connect yet)
func NewConnector(config ConnectorConfig) (*Connector, error) {
	dialect, err := DialectFor(config.Driver)
	if err != nil {
		return nil, err
	}
	return &Connector{config: config, dialect: dialect}, nil
}

// Dialect returns the SQL dialect of the configured driver
func (c *Connector) Dialect() Dialect { return c.dialect }

// Connect opens the handle and verifies it with a ping
func (c *Connector) Connect(ctx context.Context) error {
	if c.db != nil {
		return nil
	}
	dsn, err := c.config.DSN()
	if err != nil {
		return err
	}

	db, err := sqlOpen(c.dialect.DriverName(), dsn)
	if err != nil {
		return &ConnectionInvalidError{Driver: c.dialect.Name(), Diagnostic: "open failed", Err: err}
	}
	if c.config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(c.config.MaxOpenConns)
	}
	db.SetMaxIdleConns(c.config.MaxIdleConns)
	if c.config.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(c.config.MaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &ConnectionInvalidError{Driver: c.dialect.Name(), Diagnostic: describeTarget(c.config), Err: err}
	}

	c.db = db
	return nil
}

// DB returns the underlying handle. Returns nil if not connected
func (c *Connector) DB() *sql.DB {
	return c.db
}

// IsConnected returns true if the handle is open
func (c *Connector) IsConnected() bool {
	return c.db != nil
}

// Ping verifies the connection is alive
func (c *Connector) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return fmt.Errorf("not connected")
	}
	return c.db.PingContext(ctx)
}

// Close closes the handle
func (c *Connector) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// describeTarget names the server and catalog without credentials.
func describeTarget(c ConnectorConfig) string {
	if c.ConnectionString != "" {
		return "using explicit connection string"
	}
	if c.Server == "" {
		return "catalog " + c.Catalog
	}
	return fmt.Sprintf("server %s catalog %s", c.Server, c.Catalog)
}
