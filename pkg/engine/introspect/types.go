package introspect

import (
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/chameleon-db/rowsync/pkg/engine"
)

// FieldTypeOf maps a backend column type to an engine field type. Unknown
// types map to String.
func FieldTypeOf(dbType string) engine.FieldType {
	t := strings.ToLower(strings.TrimSpace(dbType))
	switch {
	case t == "":
		return engine.FieldTypeString
	case strings.Contains(t, "uuid") || t == "uniqueidentifier":
		return engine.FieldTypeUUID
	case strings.HasPrefix(t, "bool") || t == "tinyint(1)" || t == "bit":
		return engine.FieldTypeBool
	case t == "interval" || strings.Contains(t, "point"):
		return engine.FieldTypeString
	case strings.Contains(t, "int") || strings.Contains(t, "serial"):
		return engine.FieldTypeInt
	case strings.HasPrefix(t, "numeric") || strings.HasPrefix(t, "decimal") || t == "money":
		return engine.FieldTypeDecimal
	case strings.HasPrefix(t, "real") || strings.HasPrefix(t, "double") || strings.HasPrefix(t, "float"):
		return engine.FieldTypeFloat
	case strings.HasPrefix(t, "timestamp") || strings.HasPrefix(t, "datetime") || t == "date" || strings.HasPrefix(t, "time"):
		return engine.FieldTypeTimestamp
	case t == "bytea" || strings.Contains(t, "blob") || strings.Contains(t, "binary"):
		return engine.FieldTypeBytes
	default:
		return engine.FieldTypeString
	}
}

// toEntityName singularizes and camel-cases a table name:
// user_posts -> UserPost, sales.order_lines -> SalesOrderLine.
func toEntityName(tableName string) string {
	parts := strings.FieldsFunc(strings.ToLower(tableName), func(r rune) bool {
		return r == '_' || r == '.'
	})
	if n := len(parts); n > 0 {
		parts[n-1] = inflection.Singular(parts[n-1])
	}
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

// EntityName is the display name used for a table in CLI output
func EntityName(tableName string) string { return toEntityName(tableName) }
