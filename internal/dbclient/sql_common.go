package dbclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"recordimport/internal/etl"
)

// sqlStore is the shared Store for SQLite, Postgres and MySQL. Each entry is
// one row of a two-column table: a UUID id and the record encoded as JSON.
type sqlStore struct {
	dialect dialect
	db      *sql.DB
	table   string
}

// dialect holds the per-driver SQL fragments.
type dialect struct {
	driver string
	// createTable is a format string taking the table name.
	createTable string
	// placeholder returns the bind marker for the n-th argument (1-based).
	placeholder func(n int) string
	// fieldEquals returns a condition comparing a top-level JSON field
	// with the bind marker ph.
	fieldEquals func(field, ph string) string
	// textBinds reports whether the driver compares JSON fields as text.
	textBinds bool
}

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	fieldRe = regexp.MustCompile(`^[A-Za-z0-9_$@-][A-Za-z0-9_$@ .-]*$`)
)

func newSQLStore(ctx context.Context, d dialect, dsn, table string) (*sqlStore, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("%w: invalid collection name %q", etl.ErrConfig, table)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	s := &sqlStore{dialect: d, db: db, table: table}
	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) ensureTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.createTable, s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) FindOne(ctx context.Context, filter map[string]any) (*etl.StoredRecord, error) {
	where := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for field, val := range filter {
		if !fieldRe.MatchString(field) {
			return nil, fmt.Errorf("unsupported field name %q", field)
		}
		args = append(args, s.bindValue(val))
		where = append(where, s.dialect.fieldEquals(field, s.dialect.placeholder(len(args))))
	}
	query := fmt.Sprintf("SELECT id, doc FROM %s", s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " LIMIT 1"

	var id, doc string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id, &doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	data := map[string]any{}
	if err := json.Unmarshal([]byte(doc), &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &etl.StoredRecord{ID: id, Data: data}, nil
}

func (s *sqlStore) UpdateOne(ctx context.Context, id any, fields map[string]any) error {
	doc, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	query := fmt.Sprintf("UPDATE %s SET doc = %s WHERE id = %s",
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))
	res, err := s.db.ExecContext(ctx, query, string(doc), fmt.Sprint(id))
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no entry with id %v", id)
	}
	return nil
}

func (s *sqlStore) InsertOne(ctx context.Context, fields map[string]any) (any, error) {
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	id := uuid.NewString()
	query := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (%s, %s)",
		s.table, s.dialect.placeholder(1), s.dialect.placeholder(2))
	if _, err := s.db.ExecContext(ctx, query, id, string(doc)); err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	return id, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// bindValue converts a filter value to what the dialect compares against.
func (s *sqlStore) bindValue(v any) any {
	if v == nil {
		return nil
	}
	if !s.dialect.textBinds {
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64:
			return v
		}
	}
	return jsonText(v)
}

// jsonText renders v the way a JSON field reads back as text.
func jsonText(v any) string {
	if str, ok := v.(string); ok {
		return str
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func questionMark(int) string { return "?" }
