// Package dbclient opens the target collection records are imported into.
package dbclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"recordimport/internal/etl"
)

// Store is a target collection backend.
type Store interface {
	etl.Store

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Open connects to the collection named collection at rawURL. The backend
// is chosen by URL scheme:
//
//	mongodb://, mongodb+srv://   MongoDB
//	postgres://, postgresql://   PostgreSQL (JSON document table)
//	mysql://                     MySQL (JSON document table)
//	sqlite:, file:               SQLite file (JSON document table)
//
// The store is pinged before Open returns; an unreachable store yields an
// error wrapping etl.ErrStoreUnavailable.
func Open(ctx context.Context, rawURL, collection string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", etl.ErrConfig)
	}

	var (
		s   Store
		err error
	)
	switch scheme(rawURL) {
	case "mongodb", "mongodb+srv":
		s, err = newMongoStore(rawURL, collection, logger)
	case "postgres", "postgresql":
		s, err = newSQLStore(ctx, postgresDialect, buildPostgresDSN(rawURL), collection)
	case "mysql":
		var dsn string
		if dsn, err = buildMySQLDSN(rawURL); err == nil {
			s, err = newSQLStore(ctx, mysqlDialect, dsn, collection)
		}
	case "sqlite", "file":
		s, err = newSQLStore(ctx, sqliteDialect, buildSQLiteDSN(rawURL), collection)
	default:
		return nil, fmt.Errorf("%w: unsupported store url scheme %q", etl.ErrConfig, scheme(rawURL))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", etl.ErrStoreUnavailable, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: ping: %w", etl.ErrStoreUnavailable, err)
	}
	logger.Debug("target store connected", "scheme", scheme(rawURL), "collection", collection)
	return s, nil
}

func scheme(rawURL string) string {
	i := strings.Index(rawURL, ":")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(rawURL[:i])
}
