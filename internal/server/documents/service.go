package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/mittimoney/mittimoney/internal/common"
	"github.com/mittimoney/mittimoney/internal/dbx"
	"github.com/mittimoney/mittimoney/internal/logging"
)

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// DB is what the service needs from *sql.DB.
type DB interface {
	dbx.DBTX
	dbx.Beginner
}

// Service applies document operations for an authenticated owner. Writes
// that carry an idempotency key run in a transaction with the key record, so
// a replayed mutation is applied at most once.
type Service struct {
	db    DB
	repos func(dbx.DBTX) Repository
	log   logging.Logger
}

func NewService(db DB, log logging.Logger) *Service {
	return &Service{
		db:    db,
		repos: func(tx dbx.DBTX) Repository { return NewPostgresRepository(tx) },
		log:   log.With("module", "documents"),
	}
}

func validate(collection string) error {
	if !collectionName.MatchString(collection) {
		return fmt.Errorf("%w: bad collection %q", common.ErrorValidation, collection)
	}
	return nil
}

// once runs fn in a transaction guarded by key. With an empty key fn runs
// directly.
func (s *Service) once(ctx context.Context, owner, key string, fn func(ctx context.Context, repo Repository) error) error {
	if key == "" {
		return fn(ctx, s.repos(s.db))
	}
	return dbx.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repos(tx)
		fresh, err := repo.MarkApplied(ctx, owner, key)
		if err != nil {
			return err
		}
		if !fresh {
			s.log.Info(ctx, "duplicate mutation ignored", "owner", owner, "idempotency_key", key)
			return nil
		}
		return fn(ctx, repo)
	})
}

func (s *Service) Create(ctx context.Context, owner, collection string, doc map[string]any, key string) (string, error) {
	if err := validate(collection); err != nil {
		return "", err
	}
	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	stored := make(map[string]any, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	stored["id"] = id

	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	err = s.once(ctx, owner, key, func(ctx context.Context, repo Repository) error {
		created, err := repo.Create(ctx, owner, collection, id, data)
		if err != nil {
			return err
		}
		if !created {
			s.log.Info(ctx, "document already exists", "collection", collection, "id", id)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Get returns common.ErrorNotFound when the document is absent.
func (s *Service) Get(ctx context.Context, owner, collection, id string) (map[string]any, error) {
	if err := validate(collection); err != nil {
		return nil, err
	}
	data, err := s.repos(s.db).Get(ctx, owner, collection, id)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *Service) Update(ctx context.Context, owner, collection, id string, patch map[string]any, key string) error {
	if err := validate(collection); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty id", common.ErrorValidation)
	}
	merged := make(map[string]any, len(patch)+1)
	for k, v := range patch {
		merged[k] = v
	}
	merged["id"] = id

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	return s.once(ctx, owner, key, func(ctx context.Context, repo Repository) error {
		return repo.Merge(ctx, owner, collection, id, data)
	})
}

func (s *Service) Delete(ctx context.Context, owner, collection, id, key string) error {
	if err := validate(collection); err != nil {
		return err
	}
	return s.once(ctx, owner, key, func(ctx context.Context, repo Repository) error {
		return repo.Delete(ctx, owner, collection, id)
	})
}

func (s *Service) Query(ctx context.Context, owner, collection string, filters map[string]any) ([]map[string]any, error) {
	if err := validate(collection); err != nil {
		return nil, err
	}
	if filters == nil {
		filters = map[string]any{}
	}
	filter, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}

	rows, err := s.repos(s.db).Query(ctx, owner, collection, filter)
	if err != nil {
		return nil, err
	}
	docs := make([]map[string]any, 0, len(rows))
	for _, raw := range rows {
		doc := map[string]any{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("corrupt document in %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}
