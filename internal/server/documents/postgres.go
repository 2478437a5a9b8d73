package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mittimoney/mittimoney/internal/common"
	"github.com/mittimoney/mittimoney/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, owner, collection, id string, data []byte) (bool, error) {
	query := `INSERT INTO documents (owner_id, collection, id, data)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (owner_id, collection, id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, owner, collection, id, string(data))
	if err != nil {
		return false, fmt.Errorf("error inserting document: %w", err)
	}
	return dbx.RowsAffected(res) == 1, nil
}

func (r *PostgresRepository) Get(ctx context.Context, owner, collection, id string) ([]byte, error) {
	query := `SELECT data FROM documents WHERE owner_id = $1 AND collection = $2 AND id = $3`

	var data string
	err := r.db.QueryRowContext(ctx, query, owner, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error selecting document: %w", err)
	}
	return []byte(data), nil
}

func (r *PostgresRepository) Merge(ctx context.Context, owner, collection, id string, patch []byte) error {
	query := `INSERT INTO documents (owner_id, collection, id, data)
		VALUES ($1, $2, $3, $4::jsonb)
		ON CONFLICT (owner_id, collection, id)
		DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()`

	if _, err := r.db.ExecContext(ctx, query, owner, collection, id, string(patch)); err != nil {
		return fmt.Errorf("error merging document: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, owner, collection, id string) error {
	query := `DELETE FROM documents WHERE owner_id = $1 AND collection = $2 AND id = $3`

	if _, err := r.db.ExecContext(ctx, query, owner, collection, id); err != nil {
		return fmt.Errorf("error deleting document: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Query(ctx context.Context, owner, collection string, filter []byte) ([][]byte, error) {
	query := `SELECT data FROM documents
		WHERE owner_id = $1 AND collection = $2 AND data @> $3::jsonb
		ORDER BY updated_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, owner, collection, string(filter))
	if err != nil {
		return nil, fmt.Errorf("error querying documents: %w", err)
	}
	defer rows.Close()

	result := [][]byte{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("error scanning document: %w", err)
		}
		result = append(result, []byte(data))
	}
	return result, rows.Err()
}

func (r *PostgresRepository) MarkApplied(ctx context.Context, owner, key string) (bool, error) {
	query := `INSERT INTO applied_mutations (owner_id, idempotency_key) VALUES ($1, $2)
		ON CONFLICT (owner_id, idempotency_key) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, owner, key)
	if err != nil {
		return false, fmt.Errorf("error recording idempotency key: %w", err)
	}
	return dbx.RowsAffected(res) == 1, nil
}
