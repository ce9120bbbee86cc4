package engine

import (
	"context"
	"database/sql"
	"strings"
)

// Querier is the read side of a connection or transaction
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// SchemaSource describes tables from the live database. The introspect
// package provides one covering every dialect.
type SchemaSource interface {
	DescribeTable(ctx context.Context, q Querier, dialect, table string) (*TableSchema, error)
}

// WithSchemaSource enables DescribeTable and FetchTable when the
// configuration turns on AutoSchemaDiscovery.
func WithSchemaSource(src SchemaSource) ServiceOption {
	return func(s *Service) { s.schemas = src }
}

// DescribeTable asks the schema source for a table description. Results
// are cached per service.
func (s *Service) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.AutoSchemaDiscovery {
		return nil, &MissingConfigurationError{Setting: "auto_schema_discovery", Hint: "enable it to describe tables from the database"}
	}
	if s.schemas == nil {
		return nil, &MissingConfigurationError{Setting: "schema source", Hint: "pass engine.WithSchemaSource"}
	}
	key := strings.ToLower(table)
	if ts, ok := s.described[key]; ok {
		return ts, nil
	}

	if err := s.open(ctx); err != nil {
		return nil, err
	}
	var q Querier = s.conn
	if s.tx != nil {
		q = s.tx
	}
	ts, err := s.schemas.DescribeTable(ctx, q, s.dialect.Name(), table)
	if s.tx == nil {
		_ = s.close()
	}
	if err != nil {
		s.lastErr = err
		return nil, err
	}

	if s.described == nil {
		s.described = make(map[string]*TableSchema)
	}
	s.described[key] = ts
	s.log.Debug().Str("table", ts.Name).Int("fields", len(ts.Fields)).Msg("table described")
	return ts, nil
}

// FetchTable loads every row of a table into snap. A table the snapshot
// does not know yet is described first.
func (s *Service) FetchTable(ctx context.Context, snap *RecordSnapshot, table string) (*Table, int, error) {
	t := snap.Table(table)
	if t == nil {
		ts, err := s.DescribeTable(ctx, table)
		if err != nil {
			return nil, 0, err
		}
		t = snap.AddTable(ts)
	}

	compiler, err := s.Compiler()
	if err != nil {
		return nil, 0, err
	}
	cmd, err := compiler.SelectAll(t.Name())
	if err != nil {
		return nil, 0, err
	}
	n, err := s.Fill(ctx, t, cmd, nil)
	if err != nil {
		return nil, 0, err
	}
	return t, n, nil
}
