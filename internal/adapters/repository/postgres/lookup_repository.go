package postgres

import (
	"context"
	"fmt"

	"github.com/ogurasousui/directory-sync/internal/core/lookup"
	pgdb "github.com/ogurasousui/directory-sync/internal/platform/db/postgres"
)

// LookupRepository は PostgreSQL を利用したカテゴリエントリ永続化の実装です。
type LookupRepository struct {
	pool pgdb.Queryer
}

// NewLookupRepository は LookupRepository を生成します。
func NewLookupRepository(pool pgdb.Queryer) *LookupRepository {
	return &LookupRepository{pool: pool}
}

// ListAll は指定された種別のエントリをすべて返します。
func (r *LookupRepository) ListAll(ctx context.Context, dim lookup.Dimension) ([]lookup.Entry, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	rows, err := exec.Query(ctx, `
        SELECT id, label
          FROM lookup_entries
         WHERE dimension = $1
         ORDER BY id
    `, string(dim))
	if err != nil {
		return nil, fmt.Errorf("postgres: list lookup entries: %w", err)
	}
	defer rows.Close()

	var entries []lookup.Entry
	for rows.Next() {
		entry := lookup.Entry{Dimension: dim}
		if err := rows.Scan(&entry.ID, &entry.Label); err != nil {
			return nil, fmt.Errorf("postgres: scan lookup entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list lookup entries: %w", err)
	}
	return entries, nil
}

// Create はエントリを作成し ID を返します。同じラベルが既に存在する場合はその ID を返します。
func (r *LookupRepository) Create(ctx context.Context, dim lookup.Dimension, label string) (int64, error) {
	exec := pgdb.QueryerFromContext(ctx, r.pool)
	row := exec.QueryRow(ctx, `
        INSERT INTO lookup_entries (dimension, label)
        VALUES ($1, $2)
        ON CONFLICT (dimension, label) DO UPDATE SET label = EXCLUDED.label
        RETURNING id
    `, string(dim), label)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: create lookup entry: %w", err)
	}
	return id, nil
}
