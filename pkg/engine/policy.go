package engine

import (
	"database/sql"
	"fmt"
	"strings"
)

// AccessMethod restricts which command kinds a service may execute
type AccessMethod string

const (
	AccessAll                AccessMethod = "all"
	AccessStoredProcedures   AccessMethod = "storedprocedures"
	AccessIndividualCommands AccessMethod = "individualcommands"
)

// ParseAccessMethod normalizes a configured access method. Empty means all.
func ParseAccessMethod(value string) (AccessMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("_", "", "-", "", " ", "").Replace(normalized)

	switch normalized {
	case "", "all":
		return AccessAll, nil
	case "storedprocedures", "procedures":
		return AccessStoredProcedures, nil
	case "individualcommands", "commands":
		return AccessIndividualCommands, nil
	default:
		return "", &UnsupportedProcessMethodError{
			Method: value,
			Reason: "allowed access methods are all, storedprocedures, individualcommands",
		}
	}
}

// Allows reports whether a command kind passes the policy
func (m AccessMethod) Allows(kind CommandKind) bool {
	switch m {
	case AccessStoredProcedures:
		return kind == CommandProcedure
	case AccessIndividualCommands:
		return kind == CommandText
	default:
		return kind == CommandText || kind == CommandProcedure
	}
}

// ParseIsolationLevel maps configured isolation names onto database/sql
// levels. "chaos" has no database/sql counterpart and maps to the weakest
// level.
func ParseIsolationLevel(value string) (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "default", "unspecified":
		return sql.LevelDefault, nil
	case "chaos", "readuncommitted":
		return sql.LevelReadUncommitted, nil
	case "readcommitted":
		return sql.LevelReadCommitted, nil
	case "repeatableread":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return sql.LevelDefault, fmt.Errorf("invalid isolation level %q (allowed: chaos, readcommitted, readuncommitted, repeatableread, serializable, unspecified, default)", value)
	}
}
