package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoTransaction is returned by Commit and Abort without an active transaction.
var ErrNoTransaction = errors.New("no active transaction")

// ConnectionState is the lifecycle state of a Service
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnected
	StateInTransaction
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateInTransaction:
		return "InTransaction"
	default:
		return "Disconnected"
	}
}

// ServiceConfig holds the data-service policy
type ServiceConfig struct {
	Connector    ConnectorConfig
	AccessMethod AccessMethod
	Isolation    sql.IsolationLevel
	DefaultRole  AppRole
	// CommandTimeout is the backend default; zero means none.
	CommandTimeout time.Duration
	// MinCommandTimeout raises CommandTimeout when it is lower.
	MinCommandTimeout   time.Duration
	ProcedurePrefix     string
	AutoSchemaDiscovery bool
}

// ServiceOption customizes a Service
type ServiceOption func(*Service)

// WithLogger sets the service logger
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) { s.log = logger }
}

// WithObserver registers a completion observer
func WithObserver(o Observer) ServiceOption {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// WithDB runs the service over an already opened handle.
func WithDB(db *sql.DB, dialect Dialect) ServiceOption {
	return func(s *Service) {
		s.db = db
		s.dialect = dialect
	}
}

// querier is satisfied by both *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Service owns one connection, at most one transaction and the app-role
// stack. One instance serves one unit of work; it serializes its own
// methods but is not meant for parallel use.
type Service struct {
	mu sync.Mutex

	cfg       ServiceConfig
	connector *Connector
	db        *sql.DB
	dialect   Dialect

	conn *sql.Conn
	tx   *sql.Tx

	role        AppRole
	pendingRole *AppRole
	roles       roleStack

	observers []Observer
	lastErr   error
	log       zerolog.Logger

	schemas   SchemaSource
	described map[string]*TableSchema
}

// NewService creates a service. No connection is opened until needed.
func NewService(cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if cfg.AccessMethod == "" {
		cfg.AccessMethod = AccessAll
	}
	s := &Service{cfg: cfg, role: cfg.DefaultRole, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if s.db == nil {
		connector, err := NewConnector(cfg.Connector)
		if err != nil {
			return nil, err
		}
		s.connector = connector
		s.dialect = connector.Dialect()
	}
	if s.dialect == nil {
		return nil, &MissingConfigurationError{Setting: "driver"}
	}
	return s, nil
}

// Config returns the service configuration
func (s *Service) Config() ServiceConfig { return s.cfg }

// Dialect returns the backend dialect
func (s *Service) Dialect() Dialect { return s.dialect }

// Compiler returns the change compiler the access policy allows.
func (s *Service) Compiler() (Compiler, error) {
	return CompilerFor(s.cfg.AccessMethod, CompilerOptions{Dialect: s.dialect, ProcedurePrefix: s.cfg.ProcedurePrefix})
}

// State reports the connection lifecycle state
func (s *Service) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

func (s *Service) state() ConnectionState {
	switch {
	case s.tx != nil:
		return StateInTransaction
	case s.conn != nil:
		return StateConnected
	default:
		return StateDisconnected
	}
}

// LastError returns the error of the most recent failed execution
func (s *Service) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// EffectiveCommandTimeout is the larger of the command timeout and the
// configured minimum.
func (s *Service) EffectiveCommandTimeout() time.Duration {
	if s.cfg.MinCommandTimeout > s.cfg.CommandTimeout {
		return s.cfg.MinCommandTimeout
	}
	return s.cfg.CommandTimeout
}

// ============================================================
// CONNECTION LIFECYCLE
// ============================================================

// Open obtains the connection and registers the current app role.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open(ctx)
}

func (s *Service) open(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}
	if s.db == nil {
		if err := s.connector.Connect(ctx); err != nil {
			return err
		}
		s.db = s.connector.DB()
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return &ConnectionInvalidError{Driver: s.dialect.Name(), Diagnostic: "cannot obtain connection", Err: err}
	}
	if err := s.dialect.ApplyRole(ctx, conn, s.role); err != nil {
		_ = conn.Close()
		return &ConnectionInvalidError{Driver: s.dialect.Name(), Diagnostic: fmt.Sprintf("cannot apply app role %s", s.role), Err: err}
	}

	s.conn = conn
	s.log.Debug().Str("role", s.role.String()).Msg("connection opened")
	return nil
}

// Close releases the connection. It is a no-op while a transaction is active.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}

func (s *Service) close() error {
	if s.tx != nil || s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// discard closes the connection and keeps the physical session out of the
// pool so a session-scoped role cannot leak into the next user.
func (s *Service) discard() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Raw(func(interface{}) error { return driver.ErrBadConn })
	_ = s.conn.Close()
	s.conn = nil
}

// Shutdown aborts any transaction and closes the underlying handle.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	_ = s.close()
	if s.connector != nil {
		return s.connector.Close()
	}
	return nil
}

// ============================================================
// TRANSACTIONS
// ============================================================

// BeginTransaction starts the single transaction this service may hold.
func (s *Service) BeginTransaction(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		return &TransactionConflictError{Isolation: s.cfg.Isolation.String()}
	}
	if err := s.open(ctx); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{Isolation: s.cfg.Isolation})
	if err != nil {
		_ = s.close()
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.tx = tx
	s.log.Debug().Str("isolation", s.cfg.Isolation.String()).Msg("transaction started")
	return nil
}

// InTransaction reports whether a transaction is active
func (s *Service) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx != nil
}

// Commit commits the transaction and closes the connection
func (s *Service) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoTransaction
	}
	err := s.tx.Commit()
	s.endTransaction()
	if err != nil {
		s.lastErr = err
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Abort rolls the transaction back and closes the connection
func (s *Service) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return ErrNoTransaction
	}
	err := s.tx.Rollback()
	s.endTransaction()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("abort: %w", err)
	}
	return nil
}

func (s *Service) endTransaction() {
	s.tx = nil
	if s.pendingRole != nil {
		next := *s.pendingRole
		s.pendingRole = nil
		if next != s.role {
			s.role = next
			s.discard()
			s.log.Debug().Str("role", next.String()).Msg("deferred app role applied")
			return
		}
	}
	_ = s.close()
}

// ============================================================
// APP ROLES
// ============================================================

// CurrentAppRole returns the role requested most recently, including a
// change still deferred by an active transaction.
func (s *Service) CurrentAppRole() AppRole {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestedRole()
}

func (s *Service) requestedRole() AppRole {
	if s.pendingRole != nil {
		return *s.pendingRole
	}
	return s.role
}

// SetAppRole applies a role. The live connection is closed so the role is
// registered on the next connect; inside a transaction the change waits
// until the transaction ends.
func (s *Service) SetAppRole(role AppRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRole(role)
}

func (s *Service) setRole(role AppRole) {
	if s.tx != nil {
		if role == s.role {
			s.pendingRole = nil
			return
		}
		s.pendingRole = &role
		s.log.Debug().Str("role", role.String()).Msg("app role change deferred until transaction ends")
		return
	}
	if role == s.role {
		return
	}
	s.role = role
	s.discard()
}

// PushAppRole saves the current role and applies a new one
func (s *Service) PushAppRole(role AppRole) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.roles.push(s.requestedRole())
	s.setRole(role)
}

// RevertAppRole re-applies the previously pushed role, or the default role
// once the stack is empty. It returns the role now in effect.
func (s *Service) RevertAppRole() AppRole {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.roles.pop()
	if !ok {
		prev = s.cfg.DefaultRole
	}
	s.setRole(prev)
	return prev
}

// AppRoleDepth returns the number of saved roles
func (s *Service) AppRoleDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roles.len()
}

// ============================================================
// EXECUTION
// ============================================================

// ExecuteQuery runs a command and returns every row
func (s *Service) ExecuteQuery(ctx context.Context, cmd *Command) (*QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executeQuery(ctx, cmd, false)
}

// ExecuteScalar returns the first column of the first row
func (s *Service) ExecuteScalar(ctx context.Context, cmd *Command) (Scalar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executeScalar(ctx, cmd, false)
}

// ExecuteNonQuery runs a write command
func (s *Service) ExecuteNonQuery(ctx context.Context, cmd *Command) (NonQueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executeNonQuery(ctx, cmd, false)
}

// ExecuteQueryAsync is ExecuteQuery on a separate goroutine
func (s *Service) ExecuteQueryAsync(ctx context.Context, cmd *Command) *Future[*QueryResult] {
	return runAsync(func() (*QueryResult, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.executeQuery(ctx, cmd, true)
	})
}

// ExecuteScalarAsync is ExecuteScalar on a separate goroutine
func (s *Service) ExecuteScalarAsync(ctx context.Context, cmd *Command) *Future[Scalar] {
	return runAsync(func() (Scalar, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.executeScalar(ctx, cmd, true)
	})
}

// ExecuteNonQueryAsync is ExecuteNonQuery on a separate goroutine
func (s *Service) ExecuteNonQueryAsync(ctx context.Context, cmd *Command) *Future[NonQueryResult] {
	return runAsync(func() (NonQueryResult, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.executeNonQuery(ctx, cmd, true)
	})
}

func (s *Service) executeQuery(ctx context.Context, cmd *Command, async bool) (result *QueryResult, err error) {
	start := time.Now()
	defer func() {
		s.finish(CompletionEvent{Command: cmd, Shape: ShapeQuery, Rows: result.Count(), Duration: time.Since(start), Async: async, Err: err})
	}()

	ctx, q, text, cancel, err := s.prepare(ctx, cmd)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer s.close()

	rows, err := q.QueryContext(ctx, text, cmd.Args(s.dialect)...)
	if err != nil {
		return nil, s.dialect.MapError(err, cmd.Table, cmd.Operation, cmd.Parameters)
	}
	defer rows.Close()

	result, err = scanRows(rows)
	if err != nil {
		return nil, s.dialect.MapError(err, cmd.Table, cmd.Operation, cmd.Parameters)
	}
	return result, nil
}

func (s *Service) executeScalar(ctx context.Context, cmd *Command, async bool) (scalar Scalar, err error) {
	start := time.Now()
	defer func() {
		rows := 0
		if scalar.Valid {
			rows = 1
		}
		s.finish(CompletionEvent{Command: cmd, Shape: ShapeScalar, Rows: rows, Duration: time.Since(start), Async: async, Err: err})
	}()

	ctx, q, text, cancel, err := s.prepare(ctx, cmd)
	if err != nil {
		return Scalar{}, err
	}
	defer cancel()
	defer s.close()

	rows, err := q.QueryContext(ctx, text, cmd.Args(s.dialect)...)
	if err != nil {
		return Scalar{}, s.dialect.MapError(err, cmd.Table, cmd.Operation, cmd.Parameters)
	}
	defer rows.Close()

	scalar, err = firstValue(rows)
	if err != nil {
		return Scalar{}, s.dialect.MapError(err, cmd.Table, cmd.Operation, cmd.Parameters)
	}
	return scalar, nil
}

func (s *Service) executeNonQuery(ctx context.Context, cmd *Command, async bool) (result NonQueryResult, err error) {
	start := time.Now()
	defer func() {
		s.finish(CompletionEvent{Command: cmd, Shape: ShapeNonQuery, RowsAffected: result.RowsAffected, Duration: time.Since(start), Async: async, Err: err})
	}()

	ctx, q, text, cancel, err := s.prepare(ctx, cmd)
	if err != nil {
		return NonQueryResult{}, err
	}
	defer cancel()
	defer s.close()

	args := cmd.Args(s.dialect)
	if cmd.ReturnsIdentity {
		rows, qerr := q.QueryContext(ctx, text, args...)
		if qerr != nil {
			return NonQueryResult{}, s.dialect.MapError(qerr, cmd.Table, cmd.Operation, cmd.Parameters)
		}
		defer rows.Close()
		scalar, serr := firstValue(rows)
		if serr != nil {
			return NonQueryResult{}, s.dialect.MapError(serr, cmd.Table, cmd.Operation, cmd.Parameters)
		}
		if scalar.Valid {
			result = NonQueryResult{RowsAffected: 1, Identity: scalar.Value}
		}
		return result, nil
	}

	res, err := q.ExecContext(ctx, text, args...)
	if err != nil {
		return NonQueryResult{}, s.dialect.MapError(err, cmd.Table, cmd.Operation, cmd.Parameters)
	}
	result.RowsAffected, _ = res.RowsAffected()
	if cmd.Operation == OpInsert && cmd.IdentityField != "" {
		// drivers without RETURNING report the key on the result
		if id, idErr := res.LastInsertId(); idErr == nil {
			result.Identity = id
		}
	}
	return result, nil
}

// prepare gates the command, opens the connection and renders the text.
// Nothing touches the connection before the access policy passed.
func (s *Service) prepare(ctx context.Context, cmd *Command) (context.Context, querier, string, context.CancelFunc, error) {
	noop := func() {}
	if cmd == nil {
		return ctx, nil, "", noop, &UnsupportedCommandObjectError{Command: "<nil>", Reason: "no command"}
	}
	if cmd.Kind != CommandText && cmd.Kind != CommandProcedure {
		return ctx, nil, "", noop, &UnsupportedCommandObjectError{Command: cmd.Text, Reason: fmt.Sprintf("unknown command kind %d", cmd.Kind)}
	}
	if !s.cfg.AccessMethod.Allows(cmd.Kind) {
		return ctx, nil, "", noop, &UnsupportedProcessMethodError{
			Method: string(s.cfg.AccessMethod),
			Reason: fmt.Sprintf("%s commands are not allowed by the access policy", cmd.Kind),
		}
	}
	if cmd.Dialect != "" && cmd.Dialect != s.dialect.Name() {
		return ctx, nil, "", noop, &UnsupportedCommandObjectError{
			Command: cmd.Text,
			Reason:  fmt.Sprintf("compiled for %s, service runs %s", cmd.Dialect, s.dialect.Name()),
		}
	}

	text := cmd.Text
	if cmd.Kind == CommandProcedure {
		call, err := s.dialect.ProcedureCall(cmd.Text, cmd.Operation, cmd.Parameters)
		if err != nil {
			return ctx, nil, "", noop, err
		}
		text = call
	}

	if err := s.open(ctx); err != nil {
		return ctx, nil, "", noop, err
	}

	var q querier = s.conn
	if s.tx != nil {
		q = s.tx
	}
	if timeout := s.EffectiveCommandTimeout(); timeout > 0 {
		deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
		return deadlineCtx, q, text, cancel, nil
	}
	return ctx, q, text, noop, nil
}

// finish records the outcome and notifies observers.
func (s *Service) finish(ev CompletionEvent) {
	if ev.Err != nil {
		s.lastErr = ev.Err
	}
	for _, o := range s.observers {
		o.CommandCompleted(ev)
	}
}

// ============================================================
// SCANNING
// ============================================================

// scanRows converts database/sql rows into records
func scanRows(rows *sql.Rows) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &QueryResult{Columns: columns}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		record := make(Record, len(columns))
		for i, col := range columns {
			record[col] = values[i]
		}
		result.Rows = append(result.Rows, record)
	}
	return result, rows.Err()
}

func firstValue(rows *sql.Rows) (Scalar, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Scalar{}, err
	}
	if !rows.Next() {
		return Scalar{}, rows.Err()
	}
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return Scalar{}, err
	}
	if len(values) == 0 {
		return Scalar{Valid: true}, nil
	}
	return Scalar{Value: values[0], Valid: true}, nil
}
