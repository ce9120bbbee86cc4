package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

const (
	// FileName is the project configuration file
	FileName = ".rowsync.yml"
	// LegacyFileName is still read when FileName is absent
	LegacyFileName = "rowsync.toml"

	EnvDatabaseURL = "ROWSYNC_DATABASE_URL"
	EnvPassword    = "ROWSYNC_PASSWORD"
)

// ErrNotFound is returned by Load when neither configuration file exists
var ErrNotFound = errors.New("config file not found")

// Loader reads and writes the configuration of one working directory
type Loader struct {
	workDir  string
	filePath string
}

func NewLoader(workDir string) *Loader {
	return &Loader{
		workDir:  workDir,
		filePath: filepath.Join(workDir, FileName),
	}
}

// Path is the yaml file the loader reads and writes
func (l *Loader) Path() string { return l.filePath }

// Load reads .rowsync.yml, or rowsync.toml when only the legacy file
// exists, then applies environment overrides and validates.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	l.resolvePaths(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Defaults when no file exists
func (l *Loader) LoadOrDefault() (*Config, error) {
	cfg, err := l.Load()
	if errors.Is(err, ErrNotFound) {
		cfg = Defaults()
		applyEnv(cfg)
		l.resolvePaths(cfg)
		return cfg, nil
	}
	return cfg, err
}

func (l *Loader) read() (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(l.filePath)
	if err == nil {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", l.filePath, err)
	}

	legacy := filepath.Join(l.workDir, LegacyFileName)
	data, err = os.ReadFile(legacy)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s (run 'rowsync config init')", ErrNotFound, l.filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", legacy, err)
	}
	if _, err := toml.Decode(os.ExpandEnv(string(data)), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", LegacyFileName, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if url := strings.TrimSpace(os.Getenv(EnvDatabaseURL)); url != "" {
		cfg.Database.ConnectionString = url
	}
	if pw := os.Getenv(EnvPassword); pw != "" {
		cfg.Database.Password = pw
	}
}

// resolvePaths makes the archive directory and a sqlite catalog absolute
// relative to the working directory.
func (l *Loader) resolvePaths(cfg *Config) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || p == ":memory:" {
			return p
		}
		return filepath.Join(l.workDir, p)
	}
	cfg.Archive.Dir = abs(cfg.Archive.Dir)
	if d, err := cfg.driver(); err == nil && d == engine.DialectSQLite {
		cfg.Database.Catalog = abs(cfg.Database.Catalog)
	}
}

// Save writes cfg as yaml, without secrets that came from the environment
func (l *Loader) Save(cfg *Config) error {
	out := *cfg
	if os.Getenv(EnvPassword) != "" && out.Database.Password == os.Getenv(EnvPassword) {
		out.Database.Password = ""
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(l.filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", l.filePath, err)
	}
	return nil
}

// Template is the commented starter file written by 'config init'
func Template() string {
	return `# rowsync configuration
version: "0.1"

database:
  driver: "postgres"            # postgres, mysql or sqlite
  # connection_string overrides the settings below; ROWSYNC_DATABASE_URL overrides it
  # connection_string: "${DATABASE_URL}"
  server: "localhost"
  port: 5432
  catalog: "app"
  user: "postgres"
  # password is better supplied through ROWSYNC_PASSWORD
  trusted_connection: false
  max_connections: 10
  isolation_level: "readcommitted" # chaos, readuncommitted, readcommitted, repeatableread, serializable, unspecified
  command_timeout: 30
  min_command_timeout: 0
  auto_schema_discovery: true

access:
  allowed_access_method: "all"  # all, storedprocedures, individualcommands
  procedure_prefix: "rs_"
  # default_app_role: "app"
  # default_app_role_password: "${APP_ROLE_PASSWORD}"

logging:
  level: "info"
  format: "console"

archive:
  driver: "file"                # file or s3
  dir: ".rowsync/archive"
  # bucket: "snapshots"
  # prefix: "rowsync"
  # region: "us-east-1"

metrics:
  enabled: false
`
}
