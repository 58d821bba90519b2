package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Dialect selects placeholder style and column types.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const table = "service_history"

// SQLSink appends events to the service_history table and reads them back.
// The schema is created if missing. Driver registration is left to the
// sqlite and postgres packages.
type SQLSink struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLSink(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLSink, error) {
	s := &SQLSink{db: db, dialect: dialect}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) ensureSchema(ctx context.Context) error {
	id, ts := "INTEGER PRIMARY KEY AUTOINCREMENT", "TIMESTAMP"
	if s.dialect == DialectPostgres {
		id, ts = "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			id %s,
			occurred_at %s NOT NULL,
			event TEXT NOT NULL,
			service TEXT NOT NULL,
			pid INTEGER NOT NULL,
			port INTEGER NOT NULL,
			detail TEXT NOT NULL
		);`, table, id, ts),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_service ON %[1]s(service);`, table),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// bind rewrites ? placeholders for dialects that number them.
func (s *SQLSink) bind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLSink) Send(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, s.bind(`
		INSERT INTO `+table+`(occurred_at, event, service, pid, port, detail)
		VALUES(?, ?, ?, ?, ?, ?);`),
		e.OccurredAt.UTC(), string(e.Type), e.Service, e.PID, e.Port, e.Detail)
	return err
}

func (s *SQLSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT occurred_at, event, service, pid, port, detail
		FROM `+table+`
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?;`), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var (
			e   Event
			typ string
			at  time.Time
		)
		if err := rows.Scan(&at, &typ, &e.Service, &e.PID, &e.Port, &e.Detail); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.OccurredAt = at.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
