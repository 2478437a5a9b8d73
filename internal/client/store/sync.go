package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mittimoney/mittimoney/internal/client/repositories/metadata"
	"github.com/mittimoney/mittimoney/internal/client/repositories/queue"
	"github.com/mittimoney/mittimoney/internal/client/repositories/records"
	"github.com/mittimoney/mittimoney/internal/dbx"
	"github.com/mittimoney/mittimoney/internal/finance"
)

// Mutation is one local change: the entity is written (or removed, for
// OpDelete) and a snapshot of it is queued for remote replay.
type Mutation struct {
	Op     finance.Operation
	Entity finance.Entity
}

// Commit applies the mutations and appends their queue entries in a single
// transaction. It returns the queue ids in mutation order.
func (s *Store) Commit(ctx context.Context, muts ...Mutation) ([]int64, error) {
	ids := make([]int64, 0, len(muts))
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recs := records.NewSQLiteRepository(tx)
		q := queue.NewSQLiteRepository(tx)

		for _, m := range muts {
			if !m.Op.Valid() {
				return fmt.Errorf("invalid operation %q", m.Op)
			}
			m.Entity.SetSyncStatus(finance.SyncPending)

			rec, err := toRecord(m.Entity)
			if err != nil {
				return err
			}
			if m.Op == finance.OpDelete {
				err = recs.Delete(ctx, m.Entity.Collection(), rec.ID)
			} else {
				err = recs.Upsert(ctx, m.Entity.Collection(), rec)
			}
			if err != nil {
				return err
			}

			id, err := q.Append(ctx, s.newEntry(m.Entity.Collection(), rec.ID, m.Op, rec.Data))
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// EnqueueSync appends a queue entry holding a snapshot of e. The record
// itself is not written; pair it with Put, or use Commit for both at once.
func (s *Store) EnqueueSync(ctx context.Context, op finance.Operation, e finance.Entity) (int64, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("invalid operation %q", op)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("encode %s/%s: %w", e.Collection(), e.EntityID(), err)
	}
	return queue.NewSQLiteRepository(s.db).Append(ctx, s.newEntry(e.Collection(), e.EntityID(), op, data))
}

func (s *Store) newEntry(collection, entityID string, op finance.Operation, payload []byte) queue.Entry {
	return queue.Entry{
		Collection:     collection,
		EntityID:       entityID,
		Op:             string(op),
		Payload:        payload,
		IdempotencyKey: uuid.NewString(),
		EnqueuedAt:     s.now(),
	}
}

// Pending returns up to limit queue entries in FIFO order; limit <= 0 means all.
func (s *Store) Pending(ctx context.Context, limit int) ([]Entry, error) {
	return queue.NewSQLiteRepository(s.db).List(ctx, limit)
}

// QueueDepth is the number of entries awaiting replay.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	return queue.NewSQLiteRepository(s.db).Count(ctx)
}

// DequeueSync removes completed entries and marks each affected record synced
// once no other queue entry for it remains.
func (s *Store) DequeueSync(ctx context.Context, ids ...int64) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		q := queue.NewSQLiteRepository(tx)
		recs := records.NewSQLiteRepository(tx)

		done := make([]queue.Entry, 0, len(ids))
		for _, id := range ids {
			e, err := q.Get(ctx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			done = append(done, *e)
		}
		if err := q.Delete(ctx, ids...); err != nil {
			return err
		}

		for _, e := range done {
			left, err := q.CountForEntity(ctx, e.Collection, e.EntityID)
			if err != nil {
				return err
			}
			if left > 0 {
				continue
			}
			if _, err := recs.MarkSynced(ctx, e.Collection, e.EntityID); err != nil {
				return err
			}
		}
		return nil
	})
}

// BumpRetry records a failed attempt and returns the new retry count.
func (s *Store) BumpRetry(ctx context.Context, id int64, cause error) (int, error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return queue.NewSQLiteRepository(s.db).BumpRetry(ctx, id, msg)
}

// DeadLetter moves an entry from the queue to the dead-letter table.
func (s *Store) DeadLetter(ctx context.Context, e Entry, reason string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		attempts := e.RetryCount + 1
		_, err := queue.NewSQLiteDeadLetterRepository(tx).Insert(ctx, queue.DeadLetter{
			Entry:    e,
			Attempts: attempts,
			Reason:   reason,
			FailedAt: s.now(),
		})
		if err != nil {
			return err
		}
		return queue.NewSQLiteRepository(tx).Delete(ctx, e.ID)
	})
}

func (s *Store) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	return queue.NewSQLiteDeadLetterRepository(s.db).List(ctx)
}

// Requeue puts a dead letter back at the tail of the queue with a fresh
// retry budget. The idempotency key is kept so a create that did reach the
// remote is not duplicated.
func (s *Store) Requeue(ctx context.Context, deadLetterID int64) (int64, error) {
	var id int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		dl := queue.NewSQLiteDeadLetterRepository(tx)
		d, err := dl.Get(ctx, deadLetterID)
		if err != nil {
			return err
		}
		e := d.Entry
		e.RetryCount = 0
		e.LastError = ""
		e.EnqueuedAt = s.now()
		if id, err = queue.NewSQLiteRepository(tx).Append(ctx, e); err != nil {
			return err
		}
		return dl.Delete(ctx, deadLetterID)
	})
	return id, err
}

// LastSyncTime returns the zero time if no pass has completed yet.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, error) {
	return metadata.NewSQLiteRepository(s.db).GetTime(ctx, metadata.KeyLastSyncTime)
}

func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return metadata.NewSQLiteRepository(s.db).SetTime(ctx, metadata.KeyLastSyncTime, t)
}

// Stats is a diagnostic snapshot of the store.
type Stats struct {
	Records     map[string]int `json:"records"`
	Unsynced    map[string]int `json:"unsynced"`
	QueueDepth  int            `json:"queueDepth"`
	DeadLetters int            `json:"deadLetters"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Records: map[string]int{}, Unsynced: map[string]int{}}
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		recs := records.NewSQLiteRepository(tx)
		for _, c := range records.Collections() {
			total, unsynced, err := recs.Count(ctx, c)
			if err != nil {
				return err
			}
			st.Records[c] = total
			st.Unsynced[c] = unsynced
		}
		var err error
		if st.QueueDepth, err = queue.NewSQLiteRepository(tx).Count(ctx); err != nil {
			return err
		}
		st.DeadLetters, err = queue.NewSQLiteDeadLetterRepository(tx).Count(ctx)
		return err
	})
	return st, err
}
