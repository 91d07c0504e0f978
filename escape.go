package pooldb

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EscapeIdentifier wraps every dot separated part of an identifier in
// brackets: "db.users" becomes "[db].[users]". Identifiers that already
// start with '[' are returned unchanged.
func EscapeIdentifier(identifier string) string {
	if identifier == "" || identifier[0] == '[' {
		return identifier
	}

	parts := strings.Split(identifier, ".")
	for i, part := range parts {
		parts[i] = "[" + part + "]"
	}

	return strings.Join(parts, ".")
}

// Quote renders a string literal for emulated SQL, escaping quotes with a backslash
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func quoteTruncated(s string, maxLen int) string {
	quoted := Quote(s)
	if maxLen > 0 && len(quoted) >= maxLen {
		return quoted[:maxLen] + "..."
	}
	return quoted
}

// renderValue formats one bind value as an SQL literal for diagnostics
func renderValue(v interface{}, maxLen int) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case string:
		return quoteTruncated(x, maxLen)
	case []byte:
		return quoteTruncated(string(x), maxLen)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case uuid.UUID:
		return Quote(x.String())
	case time.Time:
		return Quote(x.Format("2006-01-02 15:04:05"))
	default:
		return fmt.Sprintf("%v", x)
	}
}

// EmulateSQL substitutes named placeholders with rendered literals. The SQL
// is returned unchanged for empty or positional binds. Strings longer than
// maxLen (when positive) are cut and marked with "...". The result is meant
// for logs only.
func EmulateSQL(sql string, bind Bind, maxLen int) string {
	if bind.IsEmpty() || bind.IsPositional() {
		return sql
	}

	keys := bind.Named.Keys()
	// longer placeholders first so that :id never eats the prefix of :id2
	sort.SliceStable(keys, func(i, j int) bool {
		return len(keys[i]) > len(keys[j])
	})

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, ":"+k, renderValue(bind.Named[k], maxLen))
	}

	return strings.NewReplacer(pairs...).Replace(sql)
}
