package dbclient

import (
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	driver:      "sqlite",
	createTable: "CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc TEXT NOT NULL)",
	placeholder: questionMark,
	fieldEquals: func(field, ph string) string {
		return fmt.Sprintf(`json_extract(doc, '$."%s"') IS %s`, field, ph)
	},
}

// buildSQLiteDSN turns sqlite:path, sqlite://path or file:path into a
// modernc DSN with WAL mode and a busy timeout.
func buildSQLiteDSN(rawURL string) string {
	dsn := rawURL
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		dsn = strings.TrimPrefix(dsn, "sqlite:")
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
