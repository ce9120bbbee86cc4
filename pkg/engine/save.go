package engine

import (
	"context"
	"fmt"
	"strings"
)

// Validator checks a snapshot before anything is sent to the server.
type Validator interface {
	Validate(snap *RecordSnapshot) error
}

// TableMapping carries the per-table compile settings of a save. Empty
// fields fall back to the table schema.
type TableMapping struct {
	Table    string
	KeyField string
	KeyKind  *KeyKind
	Mode     *UpdateMode
	Fields   []string
	FieldMap FieldMap
	// Skip excludes the table from the save.
	Skip bool
}

// SaveOptions configures Service.Save
type SaveOptions struct {
	// Compiler defaults to the one the access policy allows.
	Compiler  Compiler
	Validator Validator
	// Mappings are keyed by snapshot table name, case-insensitively.
	Mappings map[string]TableMapping
	// Mode is the update mode for tables without an explicit one.
	Mode UpdateMode
	// Transactional wraps the save in one transaction unless the caller
	// already started one.
	Transactional bool
}

// SaveResult summarizes a save
type SaveResult struct {
	Commands int
	Skipped  int
	// Identities holds server-generated keys not yet written to their rows.
	// Only a save inside a caller's transaction leaves entries here.
	Identities []PendingIdentity
}

// PendingIdentity is a generated key waiting for the caller's commit
type PendingIdentity struct {
	Row   *Row
	Field string
	Value interface{}
}

// Accept writes the pending identities into their rows and accepts the
// snapshot. Call it after committing a transaction that Save joined.
func (r SaveResult) Accept(snap *RecordSnapshot) {
	for _, id := range r.Identities {
		id.Row.assignIdentity(id.Field, id.Value)
	}
	snap.AcceptChanges()
}

// Save validates the snapshot, compiles every changed row in table and row
// order, executes the commands and accepts the changes. Inside a
// transaction any failure aborts it and nothing is accepted; outside one,
// rows saved before the failure stay accepted.
//
// When the caller already holds a transaction, Save leaves change states
// and keys untouched: the caller commits, then calls SaveResult.Accept.
func (s *Service) Save(ctx context.Context, snap *RecordSnapshot, opts SaveOptions) (SaveResult, error) {
	var result SaveResult

	if opts.Validator != nil {
		if err := opts.Validator.Validate(snap); err != nil {
			return result, err
		}
	}

	compiler := opts.Compiler
	if compiler == nil {
		c, err := s.Compiler()
		if err != nil {
			return result, err
		}
		compiler = c
	}

	owned := false
	if opts.Transactional && !s.InTransaction() {
		if err := s.BeginTransaction(ctx); err != nil {
			return result, err
		}
		owned = true
	}
	inTx := s.InTransaction()

	fail := func(err error) (SaveResult, error) {
		if inTx {
			if abortErr := s.Abort(); abortErr != nil {
				s.log.Error().Err(abortErr).Msg("abort after failed save")
			}
		}
		s.log.Error().Stack().Err(err).Int("commands", result.Commands).Msg("save failed")
		return result, err
	}

	for _, table := range snap.Tables() {
		mapping, err := resolveMapping(table, opts)
		if err != nil {
			return fail(err)
		}
		if mapping.Skip {
			continue
		}

		for _, row := range table.Changes() {
			cmd, err := compiler.Compile(mapping.request(row))
			if err != nil {
				return fail(err)
			}
			if cmd == nil {
				result.Skipped++
				if !inTx {
					row.AcceptChanges()
				}
				continue
			}

			res, err := s.ExecuteNonQuery(ctx, cmd)
			if err != nil {
				return fail(fmt.Errorf("save %s row %s: %w", table.Name(), row.ID(), err))
			}
			result.Commands++
			if cmd.IdentityField != "" && res.Identity != nil {
				if inTx {
					result.Identities = append(result.Identities, PendingIdentity{Row: row, Field: cmd.IdentityField, Value: res.Identity})
				} else {
					row.assignIdentity(cmd.IdentityField, res.Identity)
				}
			}
			if !inTx {
				row.AcceptChanges()
			}
		}
	}

	if owned {
		if err := s.Commit(); err != nil {
			return result, err
		}
		result.Accept(snap)
		result.Identities = nil
	}

	s.log.Info().Int("commands", result.Commands).Int("skipped", result.Skipped).Bool("transactional", inTx).Msg("save completed")
	return result, nil
}

func (m TableMapping) request(row *Row) CompileRequest {
	return CompileRequest{
		Row:      row,
		Table:    m.Table,
		KeyField: m.KeyField,
		KeyKind:  *m.KeyKind,
		Mode:     *m.Mode,
		Fields:   m.Fields,
		FieldMap: m.FieldMap,
	}
}

// PlannedCommand is one compiled change. Command is nil for rows that
// need nothing sent.
type PlannedCommand struct {
	Table   string
	Row     *Row
	Command *Command
}

// Plan compiles every changed row the way Save would, without a connection
// and without touching change states.
func Plan(snap *RecordSnapshot, compiler Compiler, opts SaveOptions) ([]PlannedCommand, error) {
	if compiler == nil {
		return nil, &MissingConfigurationError{Setting: "compiler"}
	}
	if opts.Validator != nil {
		if err := opts.Validator.Validate(snap); err != nil {
			return nil, err
		}
	}

	var plan []PlannedCommand
	for _, table := range snap.Tables() {
		mapping, err := resolveMapping(table, opts)
		if err != nil {
			return nil, err
		}
		if mapping.Skip {
			continue
		}
		for _, row := range table.Changes() {
			cmd, err := compiler.Compile(mapping.request(row))
			if err != nil {
				return nil, fmt.Errorf("compile %s row %s: %w", table.Name(), row.ID(), err)
			}
			plan = append(plan, PlannedCommand{Table: table.Name(), Row: row, Command: cmd})
		}
	}
	return plan, nil
}

func resolveMapping(table *Table, opts SaveOptions) (TableMapping, error) {
	var mapping TableMapping
	for name, m := range opts.Mappings {
		if strings.EqualFold(name, table.Name()) {
			mapping = m
			break
		}
	}
	if mapping.Skip {
		return mapping, nil
	}

	if mapping.Table == "" {
		mapping.Table = table.Name()
	}
	pk := table.Schema().PrimaryKey()
	if mapping.KeyField == "" {
		if pk == nil {
			return mapping, &MissingConfigurationError{Setting: table.Name() + ".primary_key", Hint: "define a primary-key field or a key mapping"}
		}
		mapping.KeyField = pk.Name
	}
	if mapping.KeyKind == nil {
		kind := KeyString
		if f := table.Schema().Field(mapping.KeyField); f != nil {
			switch {
			case f.AutoIncrement:
				kind = KeyIntegerAutoIncrement
			case f.Type.Is(FieldTypeUUID):
				kind = KeyGUID
			}
		}
		mapping.KeyKind = &kind
	}
	if mapping.Mode == nil {
		mode := opts.Mode
		mapping.Mode = &mode
	}
	return mapping, nil
}

// Fill runs a query and loads its rows into table as Unchanged rows.
// Column names are translated back to logical names through fieldMap.
func (s *Service) Fill(ctx context.Context, table *Table, cmd *Command, fieldMap FieldMap) (int, error) {
	res, err := s.ExecuteQuery(ctx, cmd)
	if err != nil {
		return 0, err
	}
	for _, rec := range res.Rows {
		values := make(Values, len(rec))
		for col, v := range rec {
			values[fieldMap.Logical(col)] = v
		}
		table.Load(values)
	}
	return res.Count(), nil
}
