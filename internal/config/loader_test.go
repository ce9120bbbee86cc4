package config

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
}

func TestNewLoader(t *testing.T) {
	workDir := "/test/work/dir"
	loader := NewLoader(workDir)

	if loader == nil {
		t.Fatal("Expected non-nil loader")
	}

	expectedPath := filepath.Join(workDir, ".rowsync.yml")
	if loader.filePath != expectedPath {
		t.Errorf("Expected filePath %s, got %s", expectedPath, loader.filePath)
	}

	if loader.workDir != workDir {
		t.Errorf("Expected workDir %s, got %s", workDir, loader.workDir)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	tmpDir := t.TempDir()
	loader := NewLoader(tmpDir)

	_, err := loader.Load()
	if err == nil {
		t.Fatal("Expected error when config file doesn't exist")
	}

	if !errors.Is(err, ErrNotFound) || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected 'not found' error, got: %v", err)
	}
}

func TestLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, ".rowsync.yml", `version: "0.1"
database:
  driver: "postgresql"
  server: "db.internal"
  port: 5433
  catalog: "shop"
  user: "app"
  password: "secret"
  max_connections: 20
  isolation_level: "serializable"
  command_timeout: 15
  min_command_timeout: 45
  auto_schema_discovery: true

access:
  allowed_access_method: "storedprocedures"
  procedure_prefix: "sp_"
  default_app_role: "app_role"
  default_app_role_password: "pw"

logging:
  level: "debug"

metrics:
  enabled: true
`)

	loader := NewLoader(tmpDir)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Database.Driver != "postgresql" {
		t.Errorf("Expected driver postgresql, got %s", cfg.Database.Driver)
	}
	if cfg.Database.MaxConnections != 20 {
		t.Errorf("Expected max_connections 20, got %d", cfg.Database.MaxConnections)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Expected metrics to be enabled")
	}
	if cfg.LogLevel() != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %s", cfg.LogLevel())
	}
	if cfg.Archive.Dir != filepath.Join(tmpDir, ".rowsync/archive") {
		t.Errorf("Expected default archive dir below the work dir, got %s", cfg.Archive.Dir)
	}

	svc, err := cfg.ToServiceConfig()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if svc.Connector.Driver != engine.DialectPostgres {
		t.Errorf("Expected postgres dialect, got %s", svc.Connector.Driver)
	}
	if svc.Connector.MaxOpenConns != 20 {
		t.Errorf("Expected 20 open conns, got %d", svc.Connector.MaxOpenConns)
	}
	if svc.AccessMethod != engine.AccessStoredProcedures {
		t.Errorf("Expected storedprocedures, got %s", svc.AccessMethod)
	}
	if svc.Isolation != sql.LevelSerializable {
		t.Errorf("Expected serializable, got %v", svc.Isolation)
	}
	if svc.CommandTimeout != 15*time.Second || svc.MinCommandTimeout != 45*time.Second {
		t.Errorf("Unexpected timeouts %v / %v", svc.CommandTimeout, svc.MinCommandTimeout)
	}
	if svc.DefaultRole != (engine.AppRole{Name: "app_role", Password: "pw"}) {
		t.Errorf("Unexpected default role %+v", svc.DefaultRole)
	}
	if svc.ProcedurePrefix != "sp_" || !svc.AutoSchemaDiscovery {
		t.Errorf("Unexpected procedure settings %+v", svc)
	}

	dsn, err := svc.Connector.DSN()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(dsn, "host=db.internal") || !strings.Contains(dsn, "port=5433") {
		t.Errorf("Unexpected DSN %s", dsn)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, ".rowsync.yml", `version: "0.1"
database:
  driver: postgres
  connection_string: [this is invalid yaml syntax
`)

	loader := NewLoader(tmpDir)
	_, err := loader.Load()
	if err == nil {
		t.Fatal("Expected error when parsing invalid YAML")
	}

	if !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Expected 'failed to parse' error, got: %v", err)
	}
}

func TestLoad_InvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "unknown isolation",
			content: "database:\n  catalog: app\n  isolation_level: snapshot\n",
			want:    "invalid isolation level",
		},
		{
			name:    "unknown access method",
			content: "database:\n  catalog: app\naccess:\n  allowed_access_method: everything\n",
			want:    "unsupported process method",
		},
		{
			name:    "missing catalog",
			content: "database:\n  driver: mysql\n  server: db\n",
			want:    "catalog",
		},
		{
			name:    "s3 archive without bucket",
			content: "database:\n  catalog: app\narchive:\n  driver: s3\n",
			want:    "archive.bucket",
		},
		{
			name:    "bad log level",
			content: "database:\n  catalog: app\nlogging:\n  level: loud\n",
			want:    "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			writeFile(t, tmpDir, ".rowsync.yml", tt.content)

			_, err := NewLoader(tmpDir).Load()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingSettingIsTyped(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, ".rowsync.yml", "database:\n  driver: postgres\n  server: db\n")

	_, err := NewLoader(tmpDir).Load()
	var missing *engine.MissingConfigurationError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingConfigurationError, got: %v", err)
	}
	if missing.Setting != "catalog" {
		t.Errorf("Expected catalog setting, got %s", missing.Setting)
	}
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("TEST_CATALOG", "from_env")

	writeFile(t, tmpDir, ".rowsync.yml", `database:
  driver: "postgres"
  catalog: "${TEST_CATALOG}"
`)

	cfg, err := NewLoader(tmpDir).Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Database.Catalog != "from_env" {
		t.Errorf("Expected catalog from_env, got %s", cfg.Database.Catalog)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvDatabaseURL, "postgres://app@db:5432/override")
	t.Setenv(EnvPassword, "from-env")

	writeFile(t, tmpDir, ".rowsync.yml", `database:
  driver: ""
  catalog: "ignored"
  password: "from-file"
`)

	cfg, err := NewLoader(tmpDir).Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Database.ConnectionString != "postgres://app@db:5432/override" {
		t.Errorf("Expected connection string override, got %s", cfg.Database.ConnectionString)
	}
	if cfg.Database.Password != "from-env" {
		t.Errorf("Expected password override, got %s", cfg.Database.Password)
	}

	svc, err := cfg.ToServiceConfig()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if svc.Connector.Driver != engine.DialectPostgres {
		t.Errorf("Expected driver detected from the connection string, got %q", svc.Connector.Driver)
	}
}

func TestLoad_LegacyTOML(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "rowsync.toml", `[database]
driver = "sqlite"
catalog = "data/app.db"
isolation_level = "chaos"

[access]
allowed_access_method = "individualcommands"
`)

	cfg, err := NewLoader(tmpDir).Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Database.Catalog != filepath.Join(tmpDir, "data/app.db") {
		t.Errorf("Expected sqlite catalog resolved against the work dir, got %s", cfg.Database.Catalog)
	}

	svc, err := cfg.ToServiceConfig()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if svc.Isolation != sql.LevelReadUncommitted {
		t.Errorf("Expected chaos to map to read uncommitted, got %v", svc.Isolation)
	}
	if svc.AccessMethod != engine.AccessIndividualCommands {
		t.Errorf("Expected individualcommands, got %s", svc.AccessMethod)
	}
}

func TestLoad_YAMLWinsOverTOML(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, "rowsync.toml", "[database]\ncatalog = \"legacy\"\n")
	writeFile(t, tmpDir, ".rowsync.yml", "database:\n  catalog: current\n")

	cfg, err := NewLoader(tmpDir).Load()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.Database.Catalog != "current" {
		t.Errorf("Expected yaml catalog, got %s", cfg.Database.Catalog)
	}
}

func TestLoadOrDefault_FileNotFound(t *testing.T) {
	tmpDir := t.TempDir()
	loader := NewLoader(tmpDir)

	cfg, err := loader.LoadOrDefault()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Should return defaults
	if cfg == nil {
		t.Fatal("Expected default config, got nil")
	}

	defaults := Defaults()
	if cfg.Version != defaults.Version {
		t.Errorf("Expected default version %s, got %s", defaults.Version, cfg.Version)
	}
}

func TestLoadOrDefault_InvalidFileFails(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, tmpDir, ".rowsync.yml", "database: [")

	if _, err := NewLoader(tmpDir).LoadOrDefault(); err == nil {
		t.Fatal("Expected parse error to surface")
	}
}

func TestSave(t *testing.T) {
	tmpDir := t.TempDir()
	loader := NewLoader(tmpDir)

	cfg := Defaults()
	cfg.Database.Catalog = "savetest"

	err := loader.Save(cfg)
	if err != nil {
		t.Fatalf("Expected no error saving config, got: %v", err)
	}

	// Verify file was created
	configPath := filepath.Join(tmpDir, ".rowsync.yml")
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("Config file was not created")
	}

	loadedCfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Expected no error loading config, got: %v", err)
	}

	if loadedCfg.Database.Catalog != "savetest" {
		t.Errorf("Expected catalog to be saved correctly")
	}
}

func TestSave_DropsEnvironmentPassword(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv(EnvPassword, "hunter2")
	loader := NewLoader(tmpDir)

	cfg := Defaults()
	cfg.Database.Catalog = "app"
	cfg.Database.Password = "hunter2"
	if err := loader.Save(cfg); err != nil {
		t.Fatalf("Expected no error saving config, got: %v", err)
	}

	data, err := os.ReadFile(loader.Path())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Error("Password from the environment must not be written to disk")
	}
}

func TestTemplate(t *testing.T) {
	template := Template()

	if template == "" {
		t.Fatal("Expected non-empty template")
	}

	for _, section := range []string{"rowsync configuration", "database:", "access:", "logging:", "archive:", "metrics:"} {
		if !strings.Contains(template, section) {
			t.Errorf("Template should contain %q", section)
		}
	}

	tmpDir := t.TempDir()
	writeFile(t, tmpDir, ".rowsync.yml", template)
	if _, err := NewLoader(tmpDir).Load(); err != nil {
		t.Errorf("Template should load cleanly, got: %v", err)
	}
}
