package database

import (
	"fmt"
	"strings"
)

// QuoteIdent wraps a SQL identifier in double-quotes (ANSI standard).
// This safely handles reserved words and mixed-case names.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName returns "schema"."table".
func QualifiedName(schema, table string) string {
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

// Placeholder returns the PostgreSQL positional parameter $idx.
func Placeholder(idx int) string {
	return fmt.Sprintf("$%d", idx)
}
