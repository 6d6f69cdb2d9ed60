package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/JonMunkholm/multiimport/internal/schema"
)

// SQLite stores records in a single SQLite database file.
type SQLite struct {
	db  *sql.DB
	cat *schema.Catalog
}

// OpenSQLite opens (or creates) the database at path and migrates it.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string, cat *schema.Catalog) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	if err := Migrate(ctx, db, DialectSQLite); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db, cat: cat}, nil
}

// DB exposes the underlying handle.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return newGraphTx(s.cat, &sqlBackend{tx: tx}), nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type sqlBackend struct {
	tx *sql.Tx
}

func (b *sqlBackend) selectRows(ctx context.Context, model string) ([]row, error) {
	rows, err := b.tx.QueryContext(ctx,
		`SELECT id, data, links FROM import_records WHERE model = ? ORDER BY seq`, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			r           row
			data, links string
		)
		if err := rows.Scan(&r.ID, &data, &links); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
			return nil, fmt.Errorf("decode data of %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(links), &r.Links); err != nil {
			return nil, fmt.Errorf("decode links of %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *sqlBackend) insertRow(ctx context.Context, model string, r row) error {
	data, links, err := encodeRow(r)
	if err != nil {
		return err
	}
	_, err = b.tx.ExecContext(ctx,
		`INSERT INTO import_records (model, id, data, links) VALUES (?, ?, ?, ?)`,
		model, r.ID, data, links)
	return err
}

func (b *sqlBackend) updateRow(ctx context.Context, model string, r row) error {
	data, links, err := encodeRow(r)
	if err != nil {
		return err
	}
	res, err := b.tx.ExecContext(ctx,
		`UPDATE import_records SET data = ?, links = ?, updated_at = CURRENT_TIMESTAMP WHERE model = ? AND id = ?`,
		data, links, model, r.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (b *sqlBackend) commit(context.Context) error   { return b.tx.Commit() }
func (b *sqlBackend) rollback(context.Context) error { return b.tx.Rollback() }

func encodeRow(r row) (string, string, error) {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return "", "", err
	}
	links, err := json.Marshal(r.Links)
	if err != nil {
		return "", "", err
	}
	return string(data), string(links), nil
}
