package mutation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xwb1989/sqlparser"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// ============================================================
// TEST HELPERS
// ============================================================

func customerSchema() *engine.TableSchema {
	return &engine.TableSchema{
		Name: "Customer",
		Fields: []*engine.Field{
			{Name: "Id", Type: engine.FieldTypeInt, PrimaryKey: true, AutoIncrement: true},
			{Name: "Name", Type: engine.FieldTypeString},
			{Name: "Email", Type: engine.FieldTypeString, Unique: true},
			{Name: "Photo", Type: engine.FieldTypeBytes, Nullable: true},
			{Name: "Notes", Type: engine.FieldTypeString, Nullable: true},
		},
	}
}

func loadedCustomer(t *testing.T) *engine.Row {
	t.Helper()
	snap := engine.NewRecordSnapshot()
	table := snap.AddTable(customerSchema())
	return table.Load(engine.Values{
		"Id":    int64(7),
		"Name":  "Ana",
		"Email": "ana@mail.com",
		"Photo": []byte{1, 2, 3},
		"Notes": nil,
	})
}

func request(row *engine.Row) engine.CompileRequest {
	return engine.CompileRequest{
		Row:      row,
		KeyField: "Id",
		KeyKind:  engine.KeyIntegerAutoIncrement,
		Mode:     engine.ChangedFieldsOnly,
	}
}

func paramNames(cmd *engine.Command) []string {
	names := make([]string, len(cmd.Parameters))
	for i, p := range cmd.Parameters {
		names[i] = p.Name
	}
	return names
}

// ============================================================
// INSERT
// ============================================================

func TestAdHocCompiler_InsertSkipsAutoIncrementAndNulls(t *testing.T) {
	snap := engine.NewRecordSnapshot()
	row := snap.AddTable(customerSchema()).NewRow()
	require.NoError(t, row.Set("Name", "Bob"))
	require.NoError(t, row.Set("Email", "bob@mail.com"))

	cmd, err := NewAdHocCompiler(engine.PostgresDialect{}).Compile(request(row))
	require.NoError(t, err)
	require.NotNil(t, cmd)

	assert.Equal(t, engine.OpInsert, cmd.Operation)
	assert.Equal(t, engine.CommandText, cmd.Kind)
	assert.Equal(t, []string{"@Name", "@Email"}, paramNames(cmd))
	assert.Equal(t, `INSERT INTO "Customer" ("Name", "Email") VALUES ($1, $2) RETURNING "Id"`, cmd.Text)
	assert.True(t, cmd.ReturnsIdentity)
	assert.Equal(t, "Id", cmd.IdentityField)
	assert.NotContains(t, cmd.Text, "Photo")
	assert.NotContains(t, cmd.Text, "Notes")
}

func TestAdHocCompiler_InsertNoQualifyingFieldsIsNoOp(t *testing.T) {
	snap := engine.NewRecordSnapshot()
	row := snap.AddTable(customerSchema()).NewRow()

	cmd, err := NewAdHocCompiler(engine.PostgresDialect{}).Compile(request(row))
	require.NoError(t, err)
	assert.Nil(t, cmd)
}

func TestAdHocCompiler_InsertClientAssignedKeyIsSent(t *testing.T) {
	snap := engine.NewRecordSnapshot()
	table := snap.AddTable(&engine.TableSchema{
		Name: "Tag",
		Fields: []*engine.Field{
			{Name: "Code", Type: engine.FieldTypeString, PrimaryKey: true},
			{Name: "Label", Type: engine.FieldTypeString},
		},
	})
	row := table.NewRow()
	require.NoError(t, row.Set("Code", "VIP"))
	require.NoError(t, row.Set("Label", "Very important"))

	req := request(row)
	req.KeyField = "Code"
	req.KeyKind = engine.KeyString

	cmd, err := NewAdHocCompiler(engine.SQLiteDialect{}).Compile(req)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "Tag" ("Code", "Label") VALUES (@Code, @Label)`, cmd.Text)
	assert.False(t, cmd.ReturnsIdentity)
	assert.Empty(t, cmd.IdentityField)
}

func TestAdHocCompiler_InsertMySQLUsesLastInsertID(t *testing.T) {
	snap := engine.NewRecordSnapshot()
	row := snap.AddTable(customerSchema()).NewRow()
	require.NoError(t, row.Set("Name", "Bob"))

	cmd, err := NewAdHocCompiler(engine.MySQLDialect{}).Compile(request(row))
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO `Customer` (`Name`) VALUES (?)", cmd.Text)
	assert.False(t, cmd.ReturnsIdentity)
	assert.Equal(t, "Id", cmd.IdentityField)

	stmt, err := sqlparser.Parse(cmd.Text)
	require.NoError(t, err)
	ins, ok := stmt.(*sqlparser.Insert)
	require.True(t, ok)
	assert.Equal(t, "Customer", ins.Table.Name.String())
	require.Len(t, ins.Columns, 1)
	assert.Equal(t, "Name", ins.Columns[0].String())
}

// ============================================================
// UPDATE
// ============================================================

func TestAdHocCompiler_UpdateChangedFieldsOnly(t *testing.T) {
	row := loadedCustomer(t)
	require.NoError(t, row.Set("Email", "ana@corp.com"))
	require.NoError(t, row.Set("Name", "Ana")) // same value, still Modified

	cmd, err := NewAdHocCompiler(engine.SQLiteDialect{}).Compile(request(row))
	require.NoError(t, err)
	require.NotNil(t, cmd)

	assert.Equal(t, `UPDATE "Customer" SET "Email" = @pEmail WHERE "Id" = @pPK`, cmd.Text)
	assert.Equal(t, []string{"@pEmail", KeyParam}, paramNames(cmd))
	key, _ := cmd.Param(KeyParam)
	assert.Equal(t, int64(7), key)
}

func TestAdHocCompiler_UpdateAllFields(t *testing.T) {
	row := loadedCustomer(t)
	require.NoError(t, row.Set("Email", "ana@corp.com"))

	req := request(row)
	req.Mode = engine.AllFields
	cmd, err := NewAdHocCompiler(engine.PostgresDialect{}).Compile(req)
	require.NoError(t, err)

	assert.Equal(t, []string{"@pName", "@pEmail", "@pPhoto", "@pNotes", KeyParam}, paramNames(cmd))
	assert.Equal(t,
		`UPDATE "Customer" SET "Name" = $1, "Email" = $2, "Photo" = $3, "Notes" = $4 WHERE "Id" = $5`,
		cmd.Text)
}

func TestAdHocCompiler_UpdateWithoutDifferencesIsNoOp(t *testing.T) {
	row := loadedCustomer(t)
	require.NoError(t, row.Set("Photo", []byte{1, 2, 3}))
	_, modified := row.State().(engine.Modified)
	require.True(t, modified)

	cmd, err := NewAdHocCompiler(engine.PostgresDialect{}).Compile(request(row))
	require.NoError(t, err)
	assert.Nil(t, cmd)
}

func TestAdHocCompiler_UpdateLocatesRowByOriginalKey(t *testing.T) {
	snap := engine.NewRecordSnapshot()
	table := snap.AddTable(&engine.TableSchema{
		Name: "Tag",
		Fields: []*engine.Field{
			{Name: "Code", Type: engine.FieldTypeString, PrimaryKey: true},
			{Name: "Label", Type: engine.FieldTypeString},
		},
	})
	row := table.Load(engine.Values{"Code": "VIP", "Label": "Very important"})
	require.NoError(t, row.Set("Code", "GOLD"))
	require.NoError(t, row.Set("Label", "Gold"))

	req := request(row)
	req.KeyField = "Code"
	req.KeyKind = engine.KeyString
	cmd, err := NewAdHocCompiler(engine.PostgresDialect{}).Compile(req)
	require.NoError(t, err)

	key, ok := cmd.Param(KeyParam)
	require.True(t, ok)
	assert.Equal(t, "VIP", key)
	assert.Equal(t, `UPDATE "Tag" SET "Label" = $1 WHERE "Code" = $2`, cmd.Text)
}

func TestAdHocCompiler_WhitelistAndFieldMap(t *testing.T) {
	row := loadedCustomer(t)
	require.NoError(t, row.Set("Email", "ana@corp.com"))
	require.NoError(t, row.Set("Notes", "vip"))

	req := request(row)
	req.Fields = []string{"Email"}
	req.FieldMap = engine.FieldMap{"Email": "email_address", "Id": "customer_id"}
	req.Table = "sales.customers"

	cmd, err := NewAdHocCompiler(engine.PostgresDialect{}).Compile(req)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "sales"."customers" SET "email_address" = $1 WHERE "customer_id" = $2`, cmd.Text)
	assert.Equal(t, []string{"@pemail_address", KeyParam}, paramNames(cmd))
}

func TestAdHocCompiler_ColumnNamedLikeKeyParameter(t *testing.T) {
	snap := engine.NewRecordSnapshot()
	table := snap.AddTable(&engine.TableSchema{
		Name: "Legacy",
		Fields: []*engine.Field{
			{Name: "Id", Type: engine.FieldTypeInt, PrimaryKey: true, AutoIncrement: true},
			{Name: "PK", Type: engine.FieldTypeString},
			{Name: "PK_", Type: engine.FieldTypeString},
		},
	})
	row := table.Load(engine.Values{"Id": int64(3), "PK": "a", "PK_": "b"})
	require.NoError(t, row.Set("PK", "x"))
	require.NoError(t, row.Set("PK_", "y"))

	cmd, err := NewAdHocCompiler(engine.SQLiteDialect{}).Compile(request(row))
	require.NoError(t, err)
	require.NotNil(t, cmd)

	assert.Equal(t, []string{"@pPK_", "@pPK__", KeyParam}, paramNames(cmd))
	assert.Equal(t, `UPDATE "Legacy" SET "PK" = @pPK_, "PK_" = @pPK__ WHERE "Id" = @pPK`, cmd.Text)
	key, _ := cmd.Param(KeyParam)
	assert.Equal(t, int64(3), key)
	value, _ := cmd.Param("@pPK_")
	assert.Equal(t, "x", value)
}

// ============================================================
// DELETE
// ============================================================

func TestAdHocCompiler_DeleteUsesOriginalKey(t *testing.T) {
	snap := engine.NewRecordSnapshot()
	table := snap.AddTable(&engine.TableSchema{
		Name: "Tag",
		Fields: []*engine.Field{
			{Name: "Code", Type: engine.FieldTypeString, PrimaryKey: true},
		},
	})
	row := table.Load(engine.Values{"Code": "VIP"})
	require.NoError(t, row.Set("Code", "CHANGED"))
	row.Delete()

	req := request(row)
	req.KeyField = "Code"
	req.KeyKind = engine.KeyString
	cmd, err := NewAdHocCompiler(engine.MySQLDialect{}).Compile(req)
	require.NoError(t, err)

	assert.Equal(t, "DELETE FROM `Tag` WHERE `Code` = ?", cmd.Text)
	require.Len(t, cmd.Parameters, 1)
	assert.Equal(t, "VIP", cmd.Parameters[0].Value)

	stmt, err := sqlparser.Parse(cmd.Text)
	require.NoError(t, err)
	_, ok := stmt.(*sqlparser.Delete)
	assert.True(t, ok)
}

func TestAdHocCompiler_UnchangedIsNoOp(t *testing.T) {
	cmd, err := NewAdHocCompiler(engine.PostgresDialect{}).Compile(request(loadedCustomer(t)))
	require.NoError(t, err)
	assert.Nil(t, cmd)
}

func TestAdHocCompiler_RejectsIncompleteRequest(t *testing.T) {
	c := NewAdHocCompiler(engine.PostgresDialect{})

	_, err := c.Compile(engine.CompileRequest{KeyField: "Id", Table: "Customer"})
	var shapeErr *engine.UnsupportedCommandObjectError
	assert.True(t, errors.As(err, &shapeErr))

	req := request(loadedCustomer(t))
	req.KeyField = ""
	_, err = c.Compile(req)
	var cfgErr *engine.MissingConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

// ============================================================
// READS
// ============================================================

func TestAdHocCompiler_Reads(t *testing.T) {
	c := NewAdHocCompiler(engine.MySQLDialect{})

	all, err := c.SelectAll("Customer")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `Customer`", all.Text)

	byFields, err := c.SelectByFields("Customer", []engine.Filter{
		{Field: "Name", Value: "Ana"},
		{Field: "Notes", Value: nil},
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM `Customer` WHERE `Name` = ? AND `Notes` IS NULL", byFields.Text)
	assert.Equal(t, []string{"@Name"}, paramNames(byFields))

	for _, cmd := range []*engine.Command{all, byFields} {
		_, err := sqlparser.Parse(cmd.Text)
		assert.NoError(t, err, cmd.Text)
	}

	blank, err := c.NewRecord("Customer")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(blank.Text, "WHERE 1 = 0"))

	_, err = c.SelectByFields("Customer", nil)
	assert.Error(t, err)
}

// ============================================================
// STORED PROCEDURES
// ============================================================

func TestProcedureCompiler_Insert(t *testing.T) {
	snap := engine.NewRecordSnapshot()
	row := snap.AddTable(customerSchema()).NewRow()
	require.NoError(t, row.Set("Name", "Bob"))
	require.NoError(t, row.Set("Email", "bob@mail.com"))

	cmd, err := NewProcedureCompiler("", engine.PostgresDialect{}).Compile(request(row))
	require.NoError(t, err)

	assert.Equal(t, engine.CommandProcedure, cmd.Kind)
	assert.Equal(t, "rs_updCustomer", cmd.Text)
	assert.Equal(t, []string{"@Name", "@Email", ChangedFieldsParam}, paramNames(cmd))
	changed, _ := cmd.Param(ChangedFieldsParam)
	assert.Equal(t, "Name,Email", changed)
	assert.True(t, cmd.ReturnsIdentity)
}

func TestProcedureCompiler_UpdateCarriesChangedFields(t *testing.T) {
	row := loadedCustomer(t)
	require.NoError(t, row.Set("Photo", []byte{1, 2, 4}))

	req := request(row)
	req.FieldMap = engine.FieldMap{"Photo": "photo_blob"}
	cmd, err := NewProcedureCompiler("app_", engine.PostgresDialect{}).Compile(req)
	require.NoError(t, err)

	assert.Equal(t, "app_updCustomer", cmd.Text)
	assert.Equal(t, []string{"@Id", "@photo_blob", ChangedFieldsParam}, paramNames(cmd))
	changed, _ := cmd.Param(ChangedFieldsParam)
	assert.Equal(t, "photo_blob", changed)
}

func TestProcedureCompiler_Delete(t *testing.T) {
	row := loadedCustomer(t)
	row.Delete()

	cmd, err := NewProcedureCompiler("app_", nil).Compile(request(row))
	require.NoError(t, err)
	assert.Equal(t, "app_delCustomer", cmd.Text)
	assert.Equal(t, []engine.Parameter{{Name: "@Id", Value: int64(7)}}, cmd.Parameters)
}

func TestProcedureNames(t *testing.T) {
	n := NewProcedureNames("")

	tests := []struct {
		got  string
		want string
	}{
		{n.Update("Customer"), "rs_updCustomer"},
		{n.Delete("Customer"), "rs_delCustomer"},
		{n.GetAll("Customer"), "rs_getCustomerAllRecords"},
		{n.GetBy("Customer", "Id"), "rs_getCustomerById"},
		{n.GetBy("Customer", "Name", "Email"), "rs_getCustomerByNameAndEmail"},
		{n.New("sales.Customer"), "rs_newCustomer"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestProcedureCompiler_Reads(t *testing.T) {
	c := NewProcedureCompiler("app_", nil)

	byKey, err := c.SelectByKey("Customer", "Id", 7)
	require.NoError(t, err)
	assert.Equal(t, "app_getCustomerById", byKey.Text)
	assert.Equal(t, []engine.Parameter{{Name: "@Id", Value: 7}}, byKey.Parameters)

	blank, err := c.NewRecord("Customer")
	require.NoError(t, err)
	assert.Equal(t, "app_newCustomer", blank.Text)
}

// ============================================================
// REGISTRY
// ============================================================

func TestRegisteredCompilers(t *testing.T) {
	assert.Equal(t, []string{engine.CompilerAdHoc, engine.CompilerProcedures}, engine.RegisteredCompilers())

	c, err := engine.CompilerFor(engine.AccessStoredProcedures, engine.CompilerOptions{ProcedurePrefix: "x_"})
	require.NoError(t, err)
	assert.Equal(t, engine.CompilerProcedures, c.Name())

	c, err = engine.CompilerFor(engine.AccessAll, engine.CompilerOptions{Dialect: engine.SQLiteDialect{}})
	require.NoError(t, err)
	assert.Equal(t, engine.CompilerAdHoc, c.Name())

	_, err = engine.NewCompiler("linq", engine.CompilerOptions{})
	var methodErr *engine.UnsupportedProcessMethodError
	assert.True(t, errors.As(err, &methodErr))
}
