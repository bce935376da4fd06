package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by read methods when no row matches.
var ErrNotFound = errors.New("db: not found")

// DB is the relational store of the federation core. It holds no state
// besides the connection pool, so any number of instances may share a database.
type DB struct {
	db      *sql.DB
	dialect Dialect
	idSalt  []byte
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the configured backend.
func Open(driver, dsn string) (*DB, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(dialect.DriverName(), dialect.PrepareDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}

	sqlDB.SetMaxOpenConns(dialect.MaxOpenConns())
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect.Name(), err)
	}

	log.Info().Str("component", "db").Str("dialect", dialect.Name()).Msg("Database connection established")
	return New(sqlDB, dialect), nil
}

// New wraps an existing connection pool.
func New(sqlDB *sql.DB, dialect Dialect) *DB {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		panic(err)
	}
	return &DB{db: sqlDB, dialect: dialect, idSalt: salt}
}

// SetIDSalt fixes the salt mixed into generated public ids. Instances sharing
// a database should share the salt.
func (db *DB) SetIDSalt(salt []byte) {
	if len(salt) > 0 {
		db.idSalt = append([]byte(nil), salt...)
	}
}

func (db *DB) Dialect() Dialect { return db.dialect }

func (db *DB) Close() error { return db.db.Close() }

func (db *DB) q(query string) string { return db.dialect.Rebind(query) }

// wrapTransaction runs f within a transaction, retrying when the backend
// reports lock contention.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	const maxAttempts = 5
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = db.runTransaction(ctx, f)
		if err == nil || !db.dialect.IsBusy(err) {
			return err
		}
		log.Debug().Str("component", "db").Int("attempt", attempt).Err(err).Msg("Transaction busy, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*20) * time.Millisecond):
		}
	}
	return err
}

func (db *DB) runTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := f(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Str("component", "db").Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// exec runs a statement and reports whether it touched at least one row.
func (db *DB) exec(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	res, err := q.ExecContext(ctx, db.q(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
