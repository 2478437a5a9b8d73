// Package remote is the boundary to the cloud document store. Backends
// translate (collection, operation, payload) into their own calls; retry
// policy lives with the caller, so a backend only reports failures and
// classifies them.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mittimoney/mittimoney/internal/finance"
)

// Document is a JSON object as stored remotely.
type Document = map[string]any

// Filter is an equality match on a top-level document field.
type Filter struct {
	Field string
	Value any
}

// Mutation is one queued change to replay. ID is the client-generated entity
// id and doubles as the remote document id, which makes create replays
// create-if-absent.
type Mutation struct {
	Collection     string
	Op             finance.Operation
	ID             string
	IdempotencyKey string
	Document       Document
}

// Gateway is the remote document database as seen by the client.
type Gateway interface {
	// Apply replays one mutation. Errors are classified with Classify.
	Apply(ctx context.Context, m Mutation) error

	// Create stores doc and returns its id. A doc carrying an "id" field is
	// stored under that id and an existing document is left untouched.
	Create(ctx context.Context, collection string, doc Document) (string, error)
	// Get returns nil and no error when the document does not exist.
	Get(ctx context.Context, collection, id string) (Document, error)
	Update(ctx context.Context, collection, id string, patch Document) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	// Subscribe calls fn with the matching documents now and whenever they
	// change, until the returned function is called or ctx ends.
	Subscribe(ctx context.Context, collection string, filters []Filter, fn func([]Document)) (func(), error)

	// Ping checks reachability; it drives the connectivity flag.
	Ping(ctx context.Context) error
	Close() error
}

// CRUD is the part of Gateway that ApplyMutation needs.
type CRUD interface {
	Create(ctx context.Context, collection string, doc Document) (string, error)
	Update(ctx context.Context, collection, id string, patch Document) error
	Delete(ctx context.Context, collection, id string) error
}

// ApplyMutation maps a mutation onto CRUD calls. Backends whose native
// protocol has no single "apply" call use it to implement Apply.
func ApplyMutation(ctx context.Context, c CRUD, m Mutation) error {
	switch m.Op {
	case finance.OpCreate:
		doc := cloneDocument(m.Document)
		doc["id"] = m.ID
		_, err := c.Create(ctx, m.Collection, doc)
		return err
	case finance.OpUpdate:
		return c.Update(ctx, m.Collection, m.ID, m.Document)
	case finance.OpDelete:
		return c.Delete(ctx, m.Collection, m.ID)
	default:
		return Terminal(fmt.Errorf("unsupported operation %q", m.Op))
	}
}

// DocumentID returns doc["id"] or a fresh UUID when absent.
func DocumentID(doc Document) string {
	if id, ok := doc["id"].(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Matches reports whether doc satisfies every filter. Values are compared by
// their fmt representation so JSON numbers match Go ints.
func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]
		if !ok || fmt.Sprint(v) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}

var (
	// ErrRetryable marks transient failures: network, timeouts, 5xx,
	// an open circuit.
	ErrRetryable = errors.New("remote: retryable failure")
	// ErrTerminal marks failures that will never succeed on replay, such as
	// a rejected payload.
	ErrTerminal = errors.New("remote: terminal failure")
	// ErrNotConfigured means no remote backend is set up. It is a mode, not
	// a failure; callers keep working locally.
	ErrNotConfigured = errors.New("remote: not configured")
)

type Class int

const (
	ClassOK Class = iota
	ClassRetryable
	ClassTerminal
	ClassNotConfigured
)

func (c Class) String() string {
	switch c {
	case ClassOK:
		return "ok"
	case ClassRetryable:
		return "retryable"
	case ClassTerminal:
		return "terminal"
	case ClassNotConfigured:
		return "not_configured"
	}
	return "unknown"
}

// Classify sorts err into a Class. Unmarked errors count as retryable.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassOK
	case errors.Is(err, ErrNotConfigured):
		return ClassNotConfigured
	case errors.Is(err, ErrTerminal):
		return ClassTerminal
	default:
		return ClassRetryable
	}
}

func Retryable(err error) error {
	if err == nil || errors.Is(err, ErrRetryable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

func Terminal(err error) error {
	if err == nil || errors.Is(err, ErrTerminal) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}
