package engine

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{"postgres", DialectPostgres},
		{"PostgreSQL", DialectPostgres},
		{"pgx", DialectPostgres},
		{"mysql", DialectMySQL},
		{"mariadb", DialectMySQL},
		{" sqlite3 ", DialectSQLite},
	}
	for _, tt := range tests {
		d, err := DialectFor(tt.driver)
		require.NoError(t, err, tt.driver)
		assert.Equal(t, tt.want, d.Name())
	}

	_, err := DialectFor("oracle")
	var methodErr *UnsupportedProcessMethodError
	assert.True(t, errors.As(err, &methodErr))
}

func TestQuoteIdent(t *testing.T) {
	pg := PostgresDialect{}
	my := MySQLDialect{}

	assert.Equal(t, `"Customer"`, pg.QuoteIdent("Customer"))
	assert.Equal(t, `"sales"."Customer"`, pg.QuoteIdent("sales.Customer"))
	assert.Equal(t, `"odd.name"`, pg.QuoteIdent(`"odd.name"`))
	assert.Equal(t, `"say""hi"`, pg.QuoteIdent(`"say""hi"`))
	assert.Equal(t, "`sales`.`Customer`", my.QuoteIdent("sales.Customer"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "$3", PostgresDialect{}.Placeholder("@pName", 3))
	assert.Equal(t, "?", MySQLDialect{}.Placeholder("@pName", 3))
	assert.Equal(t, "@pName", SQLiteDialect{}.Placeholder("@pName", 3))
	assert.Equal(t, "@Name", SQLiteDialect{}.Placeholder("Name", 1))
}

func TestCommandArgs(t *testing.T) {
	cmd := &Command{Parameters: []Parameter{{Name: "@pName", Value: "Ana"}, {Name: "@pPK", Value: 7}}}

	assert.Equal(t, []interface{}{"Ana", 7}, cmd.Args(PostgresDialect{}))
	assert.Equal(t, []interface{}{sql.Named("pName", "Ana"), sql.Named("pPK", 7)}, cmd.Args(SQLiteDialect{}))
}

func TestProcedureCall(t *testing.T) {
	params := []Parameter{{Name: "@Id", Value: 1}, {Name: "@__cChangedFields", Value: "Name"}}

	call, err := PostgresDialect{}.ProcedureCall("rs_updCustomer", OpUpdate, params)
	require.NoError(t, err)
	assert.Equal(t, `CALL "rs_updCustomer"("Id" => $1, "__cChangedFields" => $2)`, call)

	call, err = PostgresDialect{}.ProcedureCall("rs_getCustomerById", OpSelect, params[:1])
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "rs_getCustomerById"("Id" => $1)`, call)

	call, err = MySQLDialect{}.ProcedureCall("rs_delCustomer", OpDelete, params[:1])
	require.NoError(t, err)
	assert.Equal(t, "CALL `rs_delCustomer`(?)", call)

	_, err = SQLiteDialect{}.ProcedureCall("rs_delCustomer", OpDelete, nil)
	var methodErr *UnsupportedProcessMethodError
	assert.True(t, errors.As(err, &methodErr))
}

func TestIdentityClause(t *testing.T) {
	assert.Equal(t, ` RETURNING "Id"`, PostgresDialect{}.IdentityClause("Id"))
	assert.Equal(t, ` RETURNING "Id"`, SQLiteDialect{}.IdentityClause("Id"))
	assert.Empty(t, MySQLDialect{}.IdentityClause("Id"))
}
