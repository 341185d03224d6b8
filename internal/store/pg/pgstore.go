package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/permission"
)

const (
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"

	// Postgres caps bind parameters per statement; keep bulk lookups well below it.
	maxBulkParams = 500
)

var errDBUnavailable = errors.New("database connection unavailable")

// Store implements access.Store over Postgres.
type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPool returns the pool settings used when none are configured.
func DefaultPool() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    50,
		MaxIdleConns:    25,
		ConnMaxLifetime: 15 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Open connects through the pgx stdlib driver.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	def := DefaultPool()
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = def.MaxOpenConns
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = def.MaxIdleConns
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if pool.ConnMaxIdleTime <= 0 {
		pool.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errDBUnavailable
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Tenants() access.TenantStore           { return tenantStore{s} }
func (s *Store) ContentTypes() access.ContentTypeStore { return contentTypeStore{s} }
func (s *Store) Resources() access.ResourceStore       { return resourceStore{s} }

// revokeRow clears flags from the row matched by where inside one transaction. The row
// is locked first, deleted when nothing remains, otherwise updated and re-read through
// scan. It reports whether a row remains.
func (s *Store) revokeRow(ctx context.Context, table, where string, args []any, flags permission.FlagSet, returning string, scan func(*sql.Row) error) (bool, error) {
	if s.db == nil {
		return false, errDBUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var f1, f2 int64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`select flags1, flags2 from %s where %s for update`, table, where), args...).Scan(&f1, &f2)
	if errors.Is(err, sql.ErrNoRows) {
		return false, mapErr(tx.Commit())
	}
	if err != nil {
		return false, mapErr(err)
	}

	next := decodeFlags(f1, f2).Without(flags)
	if next.IsEmpty() {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where %s`, table, where), args...); err != nil {
			return false, mapErr(err)
		}
		return false, mapErr(tx.Commit())
	}

	n1, n2 := encodeFlags(next)
	pos := len(args)
	query := fmt.Sprintf(`
		update %s
		set flags1 = $%d, flags2 = $%d, version = version + 1, updated_at = now()
		where %s
		returning %s
	`, table, pos+1, pos+2, where, returning)
	if err := scan(tx.QueryRowContext(ctx, query, append(append([]any{}, args...), n1, n2)...)); err != nil {
		return false, mapErr(err)
	}
	return true, mapErr(tx.Commit())
}

// encodeFlags bit-casts the two words into bigint columns.
func encodeFlags(f permission.FlagSet) (int64, int64) {
	lo, hi := f.Words()
	return int64(lo), int64(hi)
}

func decodeFlags(f1, f2 int64) permission.FlagSet {
	return permission.FromWords(uint64(f1), uint64(f2))
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrSerializationFailure, pgErrDeadlockDetected:
			return fmt.Errorf("%w: %s", access.ErrConflict, pgErr.Message)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
