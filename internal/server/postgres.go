package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// PostgresBackend stores records in PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects, pings and migrates the database.
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig) (*PostgresBackend, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresBackend{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose new provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// Put implements [Backend].
func (p *PostgresBackend) Put(ctx context.Context, writer string, rec Record, writtenAt int64) (bool, error) {
	query, args, err := psql.Insert("records").
		Columns("kind", "uuid", "body", "updated", "written_at", "writer", "deleted").
		Values(string(rec.Kind), rec.UUID, []byte(rec.Body), rec.Updated, writtenAt, writer, rec.Deleted).
		Suffix(`ON CONFLICT (kind, uuid) DO UPDATE SET
			body = excluded.body,
			updated = excluded.updated,
			written_at = excluded.written_at,
			writer = excluded.writer,
			deleted = excluded.deleted
			WHERE records.updated <= excluded.updated`).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build put: %w", err)
	}
	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("put %s %s: %w", rec.Kind, rec.UUID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Get implements [Backend].
func (p *PostgresBackend) Get(ctx context.Context, kind Kind, uuid string) (Record, error) {
	query, args, err := psql.Select("body", "updated", "deleted").
		From("records").
		Where(sq.Eq{"kind": string(kind), "uuid": uuid}).
		ToSql()
	if err != nil {
		return Record{}, fmt.Errorf("build get: %w", err)
	}
	rec := Record{Kind: kind, UUID: uuid}
	var body []byte
	err = p.pool.QueryRow(ctx, query, args...).Scan(&body, &rec.Updated, &rec.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s %s: %w", kind, uuid, err)
	}
	rec.Body = body
	return rec, nil
}

// Changes implements [Backend].
func (p *PostgresBackend) Changes(ctx context.Context, reader string, since int64) ([]Change, error) {
	query, args, err := psql.Select("kind", "uuid", "updated", "deleted").
		From("records").
		Where(sq.GtOrEq{"written_at": since}).
		Where(sq.NotEq{"writer": reader}).
		OrderBy("kind", "uuid").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build changes: %w", err)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var c Change
		var kind string
		if err := rows.Scan(&kind, &c.UUID, &c.Updated, &c.Deleted); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.Kind = Kind(kind)
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastSync implements [Backend].
func (p *PostgresBackend) LastSync(ctx context.Context, clientID string) (int64, error) {
	query, args, err := psql.Select("last_sync").
		From("clients").
		Where(sq.Eq{"client_id": clientID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build last sync: %w", err)
	}
	var t int64
	err = p.pool.QueryRow(ctx, query, args...).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last sync %s: %w", clientID, err)
	}
	return t, nil
}

// SetLastSync implements [Backend].
func (p *PostgresBackend) SetLastSync(ctx context.Context, clientID string, t int64) error {
	query, args, err := psql.Insert("clients").
		Columns("client_id", "last_sync").
		Values(clientID, t).
		Suffix("ON CONFLICT (client_id) DO UPDATE SET last_sync = excluded.last_sync").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set last sync: %w", err)
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("set last sync %s: %w", clientID, err)
	}
	return nil
}
