package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/JonMunkholm/multiimport/internal/schema"
)

// Postgres stores records in the import_records table.
type Postgres struct {
	pool *pgxpool.Pool
	cat  *schema.Catalog
}

// NewPostgres wraps an existing pool. Call MigratePostgres first.
func NewPostgres(pool *pgxpool.Pool, cat *schema.Catalog) *Postgres {
	return &Postgres{pool: pool, cat: cat}
}

// MigratePostgres runs the embedded migrations through a database/sql view
// of the pool.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return Migrate(ctx, db, DialectPostgres)
}

func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return newGraphTx(p.cat, &pgBackend{tx: tx}), nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

type pgBackend struct {
	tx pgx.Tx
}

func (b *pgBackend) selectRows(ctx context.Context, model string) ([]row, error) {
	rows, err := b.tx.Query(ctx,
		`SELECT id::text, data, links FROM import_records WHERE model = $1 ORDER BY seq`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.ID, &r.Data, &r.Links); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *pgBackend) insertRow(ctx context.Context, model string, r row) error {
	_, err := b.tx.Exec(ctx,
		`INSERT INTO import_records (model, id, data, links) VALUES ($1, $2::uuid, $3, $4)`,
		model, r.ID, r.Data, r.Links)
	return err
}

func (b *pgBackend) updateRow(ctx context.Context, model string, r row) error {
	tag, err := b.tx.Exec(ctx,
		`UPDATE import_records SET data = $3, links = $4, updated_at = now() WHERE model = $1 AND id = $2::uuid`,
		model, r.ID, r.Data, r.Links)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *pgBackend) commit(ctx context.Context) error   { return b.tx.Commit(ctx) }
func (b *pgBackend) rollback(ctx context.Context) error { return b.tx.Rollback(ctx) }
