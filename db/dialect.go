package db

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect isolates the backend specific parts of SQL handling. Each store
// gets its dialect injected at construction time.
type Dialect interface {
	Name() string
	DriverName() string
	GooseDialect() goose.Dialect
	// PrepareDSN adds connection options the store relies on.
	PrepareDSN(dsn string) string
	// Rebind rewrites '?' placeholders into the backend's syntax.
	Rebind(query string) string
	IsUniqueViolation(err error) bool
	IsBusy(err error) bool
	MaxOpenConns() int
}

// DialectFor returns the dialect registered for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return SQLiteDialect{}, nil
	case "postgres", "postgresql", "pgx":
		return PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// SQLiteDialect targets modernc.org/sqlite.
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string                { return "sqlite" }
func (SQLiteDialect) DriverName() string          { return "sqlite" }
func (SQLiteDialect) GooseDialect() goose.Dialect { return goose.DialectSQLite3 }
func (SQLiteDialect) Rebind(query string) string  { return query }
func (SQLiteDialect) MaxOpenConns() int           { return 25 }

func (SQLiteDialect) PrepareDSN(dsn string) string {
	if dsn == "" {
		dsn = "database.db"
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	pragmas := url.Values{}
	pragmas.Add("_pragma", "busy_timeout(5000)")
	pragmas.Add("_pragma", "journal_mode(WAL)")
	pragmas.Add("_pragma", "synchronous(NORMAL)")
	pragmas.Add("_pragma", "foreign_keys(1)")
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + pragmas.Encode()
}

func (SQLiteDialect) IsUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	if code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY {
		return true
	}
	return code&0xff == sqlitelib.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), "UNIQUE")
}

func (SQLiteDialect) IsBusy(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code() & 0xff
	return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
}

// PostgresDialect targets pgx through database/sql.
type PostgresDialect struct{}

func (PostgresDialect) Name() string                 { return "postgres" }
func (PostgresDialect) DriverName() string           { return "pgx" }
func (PostgresDialect) GooseDialect() goose.Dialect  { return goose.DialectPostgres }
func (PostgresDialect) PrepareDSN(dsn string) string { return dsn }
func (PostgresDialect) MaxOpenConns() int            { return 50 }

func (PostgresDialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (PostgresDialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (PostgresDialect) IsBusy(err error) bool {
	var pgErr *pgconn.PgError
	// serialization_failure, deadlock_detected
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}
