package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mittimoney/mittimoney/internal/common"
	"github.com/mittimoney/mittimoney/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, e Entry) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (collection, entity_id, op, payload, idempotency_key, enqueued_at, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Collection, e.EntityID, e.Op, string(e.Payload), e.IdempotencyKey, e.EnqueuedAt.UnixNano(), e.RetryCount, e.LastError)
	if err != nil {
		return 0, fmt.Errorf("failed to append sync entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read sync entry id: %w", err)
	}
	return id, nil
}

const entryColumns = `id, collection, entity_id, op, payload, idempotency_key, enqueued_at, retry_count, last_error`

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM sync_queue ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync queue: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync entry %d: %w", id, err)
	}
	return e, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to dequeue %v: %w", ids, err)
	}
	return nil
}

func (r *SQLiteRepository) BumpRetry(ctx context.Context, id int64, lastErr string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1, last_error = ? WHERE id = ? RETURNING retry_count`,
		lastErr, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to bump retry of %d: %w", id, err)
	}
	return n, nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sync queue: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountForEntity(ctx context.Context, collection, entityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE collection = ? AND entity_id = ?`, collection, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count entries of %s/%s: %w", collection, entityID, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e        Entry
		payload  string
		enqueued int64
	)
	if err := s.Scan(&e.ID, &e.Collection, &e.EntityID, &e.Op, &payload, &e.IdempotencyKey,
		&enqueued, &e.RetryCount, &e.LastError); err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	e.EnqueuedAt = time.Unix(0, enqueued).UTC()
	return &e, nil
}

// SQLiteDeadLetterRepository stores dropped entries for operator replay.
type SQLiteDeadLetterRepository struct {
	db dbx.DBTX
}

func NewSQLiteDeadLetterRepository(db dbx.DBTX) *SQLiteDeadLetterRepository {
	return &SQLiteDeadLetterRepository{db: db}
}

func (r *SQLiteDeadLetterRepository) Insert(ctx context.Context, d DeadLetter) (int64, error) {
	e := d.Entry
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_dead_letters (queue_id, collection, entity_id, op, payload, idempotency_key, enqueued_at, attempts, reason, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Collection, e.EntityID, e.Op, string(e.Payload), e.IdempotencyKey, e.EnqueuedAt.UnixNano(),
		d.Attempts, d.Reason, d.FailedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return res.LastInsertId()
}

const deadLetterColumns = `id, queue_id, collection, entity_id, op, payload, idempotency_key, enqueued_at, attempts, reason, failed_at`

func (r *SQLiteDeadLetterRepository) List(ctx context.Context) ([]DeadLetter, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deadLetterColumns+` FROM sync_dead_letters ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	result := []DeadLetter{}
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *SQLiteDeadLetterRepository) Get(ctx context.Context, id int64) (*DeadLetter, error) {
	d, err := scanDeadLetter(r.db.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM sync_dead_letters WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter %d: %w", id, err)
	}
	return d, nil
}

func (r *SQLiteDeadLetterRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete dead letter %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteDeadLetterRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}

func scanDeadLetter(s scanner) (*DeadLetter, error) {
	var (
		d                  DeadLetter
		payload            string
		enqueued, failedAt int64
	)
	if err := s.Scan(&d.ID, &d.Entry.ID, &d.Entry.Collection, &d.Entry.EntityID, &d.Entry.Op, &payload,
		&d.Entry.IdempotencyKey, &enqueued, &d.Attempts, &d.Reason, &failedAt); err != nil {
		return nil, err
	}
	d.Entry.Payload = []byte(payload)
	d.Entry.EnqueuedAt = time.Unix(0, enqueued).UTC()
	d.Entry.RetryCount = d.Attempts
	d.FailedAt = time.Unix(0, failedAt).UTC()
	return &d, nil
}
