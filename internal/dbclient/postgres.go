package dbclient

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	driver:      "postgres",
	createTable: "CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc TEXT NOT NULL)",
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	fieldEquals: func(field, ph string) string {
		return fmt.Sprintf("(doc::jsonb)->>'%s' IS NOT DISTINCT FROM %s", field, ph)
	},
	textBinds: true,
}

// buildPostgresDSN passes the URL through, defaulting sslmode to disable.
func buildPostgresDSN(rawURL string) string {
	if strings.Contains(rawURL, "sslmode=") {
		return rawURL
	}
	if strings.Contains(rawURL, "?") {
		return rawURL + "&sslmode=disable"
	}
	return rawURL + "?sslmode=disable"
}
