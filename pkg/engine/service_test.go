package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chameleon-db/rowsync/pkg/engine"
	_ "github.com/chameleon-db/rowsync/pkg/engine/mutation"
)

// ============================================================
// TEST HELPERS
// ============================================================

const customerDDL = `CREATE TABLE customer (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT UNIQUE,
	notes TEXT
)`

func sqliteConfig(path string) engine.ConnectorConfig {
	return engine.ConnectorConfig{Driver: "sqlite", Catalog: path}
}

// newSQLiteService returns a service over a fresh database file holding
// the customer table.
func newSQLiteService(t *testing.T, cfg engine.ServiceConfig, opts ...engine.ServiceOption) (*engine.Service, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rowsync.db")
	createSchema(t, path)

	cfg.Connector = sqliteConfig(path)
	svc, err := engine.NewService(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc, path
}

func createSchema(t *testing.T, path string) {
	t.Helper()
	setup, err := engine.NewService(engine.ServiceConfig{Connector: sqliteConfig(path)})
	require.NoError(t, err)
	defer setup.Shutdown()

	_, err = setup.ExecuteNonQuery(context.Background(), sqlText(customerDDL))
	require.NoError(t, err)
}

func sqlText(text string) *engine.Command {
	return &engine.Command{Kind: engine.CommandText, Operation: engine.OpUpdate, Text: text}
}

func query(text string) *engine.Command {
	return &engine.Command{Kind: engine.CommandText, Operation: engine.OpSelect, Text: text}
}

func countCustomers(t *testing.T, svc *engine.Service) int64 {
	t.Helper()
	n, err := svc.ExecuteScalar(context.Background(), query("SELECT COUNT(*) FROM customer"))
	require.NoError(t, err)
	require.True(t, n.Valid)
	return n.Value.(int64)
}

// ============================================================
// CONNECTION LIFECYCLE
// ============================================================

func TestService_ConnectionIsReleasedAfterEachCommand(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{})
	ctx := context.Background()

	assert.Equal(t, engine.StateDisconnected, svc.State())

	v, err := svc.ExecuteScalar(ctx, query("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, engine.Scalar{Value: int64(1), Valid: true}, v)
	assert.Equal(t, engine.StateDisconnected, svc.State())

	require.NoError(t, svc.Open(ctx))
	assert.Equal(t, engine.StateConnected, svc.State())
	require.NoError(t, svc.Close())
	assert.Equal(t, engine.StateDisconnected, svc.State())
}

func TestService_ScalarOnEmptyResultIsNotValid(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{})

	v, err := svc.ExecuteScalar(context.Background(), query("SELECT name FROM customer"))
	require.NoError(t, err)
	assert.False(t, v.Valid)

	res, err := svc.ExecuteQuery(context.Background(), query("SELECT * FROM customer"))
	require.NoError(t, err)
	assert.True(t, res.IsEmpty())
	assert.Equal(t, []string{"id", "name", "email", "notes"}, res.Columns)
}

func TestService_ConnectFailure(t *testing.T) {
	svc, err := engine.NewService(engine.ServiceConfig{Connector: engine.ConnectorConfig{Driver: "postgres"}})
	require.NoError(t, err)

	_, err = svc.ExecuteScalar(context.Background(), query("SELECT 1"))
	assert.Equal(t, "MISSING_CONFIGURATION", engine.ErrorCode(err))
	assert.Equal(t, err, svc.LastError())
}

func TestService_CanceledContext(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ExecuteQuery(ctx, query("SELECT 1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

// ============================================================
// TRANSACTIONS
// ============================================================

func TestService_SecondTransactionConflicts(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.BeginTransaction(ctx))
	_, err := svc.ExecuteNonQuery(ctx, sqlText("INSERT INTO customer (name) VALUES ('Ana')"))
	require.NoError(t, err)

	err = svc.BeginTransaction(ctx)
	var conflict *engine.TransactionConflictError
	require.True(t, errors.As(err, &conflict))

	assert.True(t, svc.InTransaction(), "the first transaction stays active")
	assert.Equal(t, engine.StateInTransaction, svc.State())

	require.NoError(t, svc.Commit())
	assert.Equal(t, engine.StateDisconnected, svc.State())
	assert.Equal(t, int64(1), countCustomers(t, svc))
}

func TestService_AbortDiscardsWork(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{})
	ctx := context.Background()

	require.NoError(t, svc.BeginTransaction(ctx))
	_, err := svc.ExecuteNonQuery(ctx, sqlText("INSERT INTO customer (name) VALUES ('Ana')"))
	require.NoError(t, err)
	assert.NoError(t, svc.Close(), "close is a no-op inside a transaction")
	assert.True(t, svc.InTransaction())

	require.NoError(t, svc.Abort())
	assert.Equal(t, int64(0), countCustomers(t, svc))
}

func TestService_CommitWithoutTransaction(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{})

	assert.ErrorIs(t, svc.Commit(), engine.ErrNoTransaction)
	assert.ErrorIs(t, svc.Abort(), engine.ErrNoTransaction)
}

// ============================================================
// ACCESS POLICY
// ============================================================

func TestService_StoredProceduresOnlyRejectsText(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{AccessMethod: engine.AccessStoredProcedures})

	_, err := svc.ExecuteQuery(context.Background(), query("SELECT * FROM customer"))
	var methodErr *engine.UnsupportedProcessMethodError
	require.True(t, errors.As(err, &methodErr))
	assert.Equal(t, engine.StateDisconnected, svc.State(), "a rejected command never opens the connection")

	c, err := svc.Compiler()
	require.NoError(t, err)
	assert.Equal(t, engine.CompilerProcedures, c.Name())
}

func TestService_IndividualCommandsRejectsProcedures(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{AccessMethod: engine.AccessIndividualCommands})

	cmd := &engine.Command{Kind: engine.CommandProcedure, Operation: engine.OpSelect, Text: "rs_getcustomerAllRecords"}
	_, err := svc.ExecuteQuery(context.Background(), cmd)
	assert.Equal(t, "UNSUPPORTED_PROCESS_METHOD", engine.ErrorCode(err))
}

func TestService_RejectsForeignCommands(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{})
	ctx := context.Background()

	_, err := svc.ExecuteNonQuery(ctx, nil)
	assert.Equal(t, "UNSUPPORTED_COMMAND_OBJECT", engine.ErrorCode(err))

	cmd := query("SELECT 1")
	cmd.Dialect = engine.DialectMySQL
	_, err = svc.ExecuteQuery(ctx, cmd)
	assert.Equal(t, "UNSUPPORTED_COMMAND_OBJECT", engine.ErrorCode(err))

	cmd = query("SELECT 1")
	cmd.Kind = engine.CommandKind(9)
	_, err = svc.ExecuteQuery(ctx, cmd)
	assert.Equal(t, "UNSUPPORTED_COMMAND_OBJECT", engine.ErrorCode(err))
}

func TestService_ProceduresUnsupportedOnSQLite(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{AccessMethod: engine.AccessStoredProcedures})

	cmd := &engine.Command{Kind: engine.CommandProcedure, Operation: engine.OpSelect, Text: "rs_getcustomerAllRecords"}
	_, err := svc.ExecuteQuery(context.Background(), cmd)
	assert.Equal(t, "UNSUPPORTED_PROCESS_METHOD", engine.ErrorCode(err))
}

// ============================================================
// ERROR MAPPING
// ============================================================

func TestService_MapsConstraintViolations(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{})
	ctx := context.Background()

	insert := func(email string) error {
		_, err := svc.ExecuteNonQuery(ctx, &engine.Command{
			Kind:       engine.CommandText,
			Operation:  engine.OpInsert,
			Table:      "customer",
			Text:       "INSERT INTO customer (name, email) VALUES (@name, @email)",
			Parameters: []engine.Parameter{{Name: "@name", Value: "Ana"}, {Name: "@email", Value: email}},
		})
		return err
	}
	require.NoError(t, insert("ana@mail.com"))

	err := insert("ana@mail.com")
	var unique *engine.UniqueConstraintError
	require.True(t, errors.As(err, &unique), "got %v", err)
	assert.Equal(t, "email", unique.Field)
	assert.Equal(t, "ana@mail.com", unique.Value)
	assert.Equal(t, err, svc.LastError())

	_, err = svc.ExecuteNonQuery(ctx, &engine.Command{Kind: engine.CommandText, Operation: engine.OpInsert, Table: "customer", Text: "INSERT INTO customer (email) VALUES ('x@mail.com')"})
	var notNull *engine.NotNullError
	require.True(t, errors.As(err, &notNull), "got %v", err)
	assert.Equal(t, "name", notNull.Field)

	_, err = svc.ExecuteQuery(ctx, &engine.Command{Kind: engine.CommandText, Table: "nope", Text: "SELECT * FROM nope"})
	var undefined *engine.UndefinedObjectError
	require.True(t, errors.As(err, &undefined), "got %v", err)
	assert.Equal(t, "table", undefined.Kind)
}

// ============================================================
// APP ROLES
// ============================================================

type recordingDialect struct {
	engine.SQLiteDialect
	mu      sync.Mutex
	applied []string
}

func (d *recordingDialect) ApplyRole(_ context.Context, _ *sql.Conn, role engine.AppRole) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied = append(d.applied, role.Name)
	return nil
}

func (d *recordingDialect) roles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.applied...)
}

func newRoleService(t *testing.T, defaultRole engine.AppRole) (*engine.Service, *recordingDialect) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roles.db")
	dsn, err := sqliteConfig(path).DSN()
	require.NoError(t, err)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dialect := &recordingDialect{}
	svc, err := engine.NewService(engine.ServiceConfig{DefaultRole: defaultRole}, engine.WithDB(db, dialect))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Shutdown() })
	return svc, dialect
}

func TestService_AppRoleStack(t *testing.T) {
	svc, dialect := newRoleService(t, engine.AppRole{Name: "app"})
	ctx := context.Background()
	ping := func() {
		_, err := svc.ExecuteScalar(ctx, query("SELECT 1"))
		require.NoError(t, err)
	}

	ping()
	assert.Equal(t, []string{"app"}, dialect.roles())

	svc.PushAppRole(engine.AppRole{Name: "auditor", Password: "pw"})
	svc.PushAppRole(engine.AppRole{Name: "admin"})
	assert.Equal(t, 2, svc.AppRoleDepth())
	assert.Equal(t, "admin", svc.CurrentAppRole().Name)
	ping()

	assert.Equal(t, "auditor", svc.RevertAppRole().Name)
	ping()
	assert.Equal(t, "app", svc.RevertAppRole().Name)
	assert.Equal(t, 0, svc.AppRoleDepth())

	// an empty stack falls back to the default role
	assert.Equal(t, "app", svc.RevertAppRole().Name)
	ping()

	assert.Equal(t, []string{"app", "admin", "auditor", "app"}, dialect.roles())
}

func TestService_AppRoleChangeWaitsForTransactionEnd(t *testing.T) {
	svc, dialect := newRoleService(t, engine.AppRole{})
	ctx := context.Background()

	require.NoError(t, svc.BeginTransaction(ctx))
	svc.SetAppRole(engine.AppRole{Name: "reporting"})
	assert.Equal(t, "reporting", svc.CurrentAppRole().Name)

	_, err := svc.ExecuteScalar(ctx, query("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, []string{""}, dialect.roles(), "the transaction keeps the role it started with")

	require.NoError(t, svc.Commit())
	_, err = svc.ExecuteScalar(ctx, query("SELECT 1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "reporting"}, dialect.roles())
}

// ============================================================
// ASYNC AND OBSERVERS
// ============================================================

func TestService_AsyncExecution(t *testing.T) {
	var mu sync.Mutex
	var events []engine.CompletionEvent
	observer := engine.ObserverFunc(func(ev engine.CompletionEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	svc, _ := newSQLiteService(t, engine.ServiceConfig{}, engine.WithObserver(observer))
	ctx := context.Background()

	insert := svc.ExecuteNonQueryAsync(ctx, sqlText("INSERT INTO customer (name) VALUES ('Ana')"))
	res, err := insert.Wait()
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)

	rows := svc.ExecuteQueryAsync(ctx, query("SELECT * FROM customer"))
	<-rows.Done()
	result, err := rows.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Count())
	assert.Equal(t, "Ana", result.Rows[0].String("name"))

	scalar, err := svc.ExecuteScalarAsync(ctx, query("SELECT COUNT(*) FROM customer")).Wait()
	require.NoError(t, err)
	assert.Equal(t, int64(1), scalar.Value)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.True(t, ev.Async)
		assert.NoError(t, ev.Err)
	}
	assert.Equal(t, engine.ShapeNonQuery, events[0].Shape)
	assert.Equal(t, engine.ShapeQuery, events[1].Shape)
	assert.Equal(t, 1, events[1].Rows)
}

func TestService_AsyncFailureIsDelivered(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{AccessMethod: engine.AccessStoredProcedures})

	_, err := svc.ExecuteQueryAsync(context.Background(), query("SELECT 1")).Wait()
	assert.Equal(t, "UNSUPPORTED_PROCESS_METHOD", engine.ErrorCode(err))
	assert.Equal(t, err, svc.LastError())
}

func TestMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := engine.NewMetricsObserver(reg)
	require.NoError(t, err)

	svc, _ := newSQLiteService(t, engine.ServiceConfig{}, engine.WithObserver(metrics))
	ctx := context.Background()

	_, err = svc.ExecuteScalar(ctx, query("SELECT 1"))
	require.NoError(t, err)
	_, err = svc.ExecuteQuery(ctx, query("SELECT * FROM missing"))
	require.Error(t, err)

	commands, duration := metrics.Collectors()
	assert.Equal(t, 1.0, testutil.ToFloat64(commands.WithLabelValues("scalar", "SELECT", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(commands.WithLabelValues("query", "SELECT", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(duration))

	_, err = engine.NewMetricsObserver(reg)
	assert.Error(t, err, "collectors cannot be registered twice")
}

func TestService_NilCommandReachesObservers(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := engine.NewMetricsObserver(reg)
	require.NoError(t, err)
	svc, _ := newSQLiteService(t, engine.ServiceConfig{},
		engine.WithObserver(engine.NewLogObserver(zerolog.Nop())),
		engine.WithObserver(metrics))
	ctx := context.Background()

	assert.NotPanics(t, func() {
		_, err = svc.ExecuteNonQuery(ctx, nil)
	})
	var unsupported *engine.UnsupportedCommandObjectError
	assert.True(t, errors.As(err, &unsupported))

	assert.NotPanics(t, func() {
		_, err = svc.ExecuteQueryAsync(ctx, nil).Wait()
	})
	assert.Equal(t, "UNSUPPORTED_COMMAND_OBJECT", engine.ErrorCode(err))
}

// ============================================================
// TIMEOUTS
// ============================================================

func TestService_EffectiveCommandTimeout(t *testing.T) {
	tests := []struct {
		command time.Duration
		minimum time.Duration
		want    time.Duration
	}{
		{0, 0, 0},
		{30 * time.Second, 0, 30 * time.Second},
		{10 * time.Second, 60 * time.Second, 60 * time.Second},
		{90 * time.Second, 60 * time.Second, 90 * time.Second},
	}
	for _, tt := range tests {
		svc, err := engine.NewService(engine.ServiceConfig{
			Connector:         engine.ConnectorConfig{Driver: "sqlite"},
			CommandTimeout:    tt.command,
			MinCommandTimeout: tt.minimum,
		})
		require.NoError(t, err)
		assert.Equal(t, tt.want, svc.EffectiveCommandTimeout())
	}
}

func TestService_ExecutesWithinTimeout(t *testing.T) {
	svc, _ := newSQLiteService(t, engine.ServiceConfig{CommandTimeout: time.Millisecond, MinCommandTimeout: 5 * time.Second})

	v, err := svc.ExecuteScalar(context.Background(), query("SELECT 2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Value)
}
