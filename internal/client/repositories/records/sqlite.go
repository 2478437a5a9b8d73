package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mittimoney/mittimoney/internal/common"
	"github.com/mittimoney/mittimoney/internal/dbx"
)

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, collection string, rec Record) error {
	def, err := lookup(collection)
	if err != nil {
		return err
	}
	query := `INSERT INTO ` + def.table + ` (id, user_id, tag, recency, sync_status, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			tag = excluded.tag,
			recency = excluded.recency,
			sync_status = excluded.sync_status,
			data = excluded.data`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.Tag, rec.Recency.UnixNano(), rec.SyncStatus, string(rec.Data))
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, collection, id string) (*Record, error) {
	def, err := lookup(collection)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, tag, recency, sync_status, data FROM `+def.table+` WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, collection, id string) error {
	def, err := lookup(collection)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM `+def.table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (r *SQLiteRepository) ListByIndex(ctx context.Context, collection, index, value string) ([]Record, error) {
	def, err := lookup(collection)
	if err != nil {
		return nil, err
	}
	col, err := def.column(index)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, tag, recency, sync_status, data FROM `+def.table+
			` WHERE `+col+` = ? ORDER BY recency DESC, id`, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", collection, index, err)
	}
	defer rows.Close()

	result := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, collection, id string) (bool, error) {
	def, err := lookup(collection)
	if err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE `+def.table+` SET sync_status = 'synced', data = json_set(data, '$.syncStatus', 'synced')
		 WHERE id = ? AND sync_status <> 'synced'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s/%s synced: %w", collection, id, err)
	}
	return dbx.RowsAffected(res) > 0, nil
}

func (r *SQLiteRepository) Count(ctx context.Context, collection string) (int, int, error) {
	def, err := lookup(collection)
	if err != nil {
		return 0, 0, err
	}
	var total, unsynced int
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN sync_status <> 'synced' THEN 1 ELSE 0 END), 0) FROM `+def.table).
		Scan(&total, &unsynced)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return total, unsynced, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec     Record
		recency int64
		data    string
	)
	if err := s.Scan(&rec.ID, &rec.OwnerID, &rec.Tag, &recency, &rec.SyncStatus, &data); err != nil {
		return nil, err
	}
	rec.Recency = time.Unix(0, recency).UTC()
	rec.Data = []byte(data)
	return &rec, nil
}
