package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"horse.fit/storyline/internal/config"
)

var (
	ErrNoRows = sql.ErrNoRows

	errPoolNotInitialized = errors.New("database pool is not initialized")
)

// CommandTag reports the outcome of an Exec.
type CommandTag struct {
	rowsAffected int64
}

func (c CommandTag) RowsAffected() int64 {
	return c.rowsAffected
}

type Row struct {
	row *sql.Row
	err error
}

func (r *Row) Scan(dest ...any) error {
	switch {
	case r == nil:
		return ErrNoRows
	case r.err != nil:
		return r.err
	case r.row == nil:
		return ErrNoRows
	}
	return r.row.Scan(dest...)
}

type Rows struct {
	rows *sql.Rows
}

func (r *Rows) Next() bool {
	return r != nil && r.rows != nil && r.rows.Next()
}

func (r *Rows) Scan(dest ...any) error {
	if r == nil || r.rows == nil {
		return ErrNoRows
	}
	return r.rows.Scan(dest...)
}

func (r *Rows) Err() error {
	if r == nil || r.rows == nil {
		return nil
	}
	return r.rows.Err()
}

func (r *Rows) Close() {
	if r != nil && r.rows != nil {
		_ = r.rows.Close()
	}
}

// Querier is satisfied by both Pool and Tx so query helpers can run inside
// or outside a transaction. Placeholders are Postgres style ($1, $2, ...).
type Querier interface {
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Query(ctx context.Context, query string, args ...any) (*Rows, error)
	Exec(ctx context.Context, query string, args ...any) (CommandTag, error)
}

type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// rawQuerier runs raw SQL on a gorm handle, either the pool's or a transaction's.
type rawQuerier struct {
	gdb *gorm.DB
}

func (q rawQuerier) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if q.gdb == nil {
		return &Row{err: errPoolNotInitialized}
	}
	return &Row{row: q.gdb.WithContext(ctx).Raw(query, args...).Row()}
}

func (q rawQuerier) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if q.gdb == nil {
		return nil, errPoolNotInitialized
	}
	rows, err := q.gdb.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (q rawQuerier) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	if q.gdb == nil {
		return CommandTag{}, errPoolNotInitialized
	}
	res := q.gdb.WithContext(ctx).Exec(query, args...)
	return CommandTag{rowsAffected: res.RowsAffected}, res.Error
}

type gormTx struct {
	rawQuerier
}

func (t *gormTx) Commit(ctx context.Context) error {
	return t.gdb.WithContext(ctx).Commit().Error
}

func (t *gormTx) Rollback(ctx context.Context) error {
	return t.gdb.WithContext(ctx).Rollback().Error
}

// Pool owns the gorm handle for the storyline schema. Domain queries use raw
// SQL through Querier; gorm is used for migrations.
type Pool struct {
	gdb   *gorm.DB
	sqlDB *sql.DB
}

var _ Querier = (*Pool)(nil)

// NewPool connects, sizes the connection pool and migrates the schema.
// Gorm's own logging goes to log at a level derived from LOG_LEVEL.
func NewPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: newGormLogger(log, resolveGormLogLevel(cfg.LogLevel, cfg.Environment)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}

	maxOpen := int(cfg.DBMaxConns)
	if maxOpen <= 0 {
		maxOpen = 8
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(1, min(int(cfg.DBMinConns), maxOpen)))
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{gdb: gdb, sqlDB: sqlDB}
	if err := pool.autoMigrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate schema: %w", err)
	}
	return pool, nil
}

func (p *Pool) raw() rawQuerier {
	if p == nil {
		return rawQuerier{}
	}
	return rawQuerier{gdb: p.gdb}
}

func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *Row {
	return p.raw().QueryRow(ctx, query, args...)
}

func (p *Pool) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	return p.raw().Query(ctx, query, args...)
}

func (p *Pool) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	return p.raw().Exec(ctx, query, args...)
}

func (p *Pool) BeginTx(ctx context.Context) (Tx, error) {
	if p == nil || p.gdb == nil {
		return nil, errPoolNotInitialized
	}
	tx := p.gdb.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormTx{rawQuerier{gdb: tx}}, nil
}

// WithTx commits when fn returns nil and rolls back otherwise.
func (p *Pool) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return errPoolNotInitialized
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}
