// Package db provides the postgres connection, schema migration, and
// the session layer: one transaction per unit of work with an outbox
// whose entries are published only after commit.
package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ErrConnectionFailed marks a failed connectivity probe. Callers match
// it with errors.Is to tell connection trouble from query trouble.
var ErrConnectionFailed = errors.New("database connection failed")

// DefaultPoolSize bounds concurrent connections when no explicit size
// is configured. Callers beyond the bound block until a connection
// frees up.
const DefaultPoolSize = 1000

const connectTimeout = 5 * time.Second

type Options struct {
	DSN      string
	PoolSize int
}

// Postgres wraps DB connectivity.
type Postgres struct {
	DB *gorm.DB
}

func Connect(opts Options) (*Postgres, error) {
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	size := opts.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}
	sqlDB.SetMaxOpenConns(size)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{DB: db}, nil
}

// CheckConnection opens one pooled connection, pings it, and closes it
// again. It is a startup probe, not something to call in a retry loop.
func (p *Postgres) CheckConnection(ctx context.Context) error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return fmt.Errorf("%w: resolve sql db handle: %w", ErrConnectionFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return conn.Close()
}

func (p *Postgres) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

const roleRemediation = `
*********************************************************
*********************************************************

Vivarium requires a database role named "vivarium".

Create it with:

    createuser -P vivarium --createdb

and create its database with:

    createdb -O vivarium vivarium

*********************************************************
*********************************************************
`

// WriteRemediation prints an operator hint to w when err is an
// authorization failure (SQLSTATE class 28, typically a missing or
// wrongly-passworded role). It reports whether a hint was written.
func WriteRemediation(w io.Writer, err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if !strings.HasPrefix(pgErr.Code, "28") {
		return false
	}
	fmt.Fprint(w, roleRemediation)
	return true
}
