package documents

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mittimoney/mittimoney/internal/common"
)

// Memory is an in-process document store with the same semantics as
// Service. The server falls back to it when no database DSN is configured.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]map[string]any // owner/collection/id
	applied map[string]struct{}       // owner/key
	seq     map[string]int64
	next    int64
}

func NewMemory() *Memory {
	return &Memory{
		docs:    map[string]map[string]any{},
		applied: map[string]struct{}{},
		seq:     map[string]int64{},
	}
}

func docKey(owner, collection, id string) string {
	return owner + "/" + collection + "/" + id
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// seen must be called with mu held.
func (m *Memory) seen(owner, key string) bool {
	if key == "" {
		return false
	}
	k := owner + "/" + key
	if _, ok := m.applied[k]; ok {
		return true
	}
	m.applied[k] = struct{}{}
	return false
}

func (m *Memory) touch(k string) {
	m.next++
	m.seq[k] = m.next
}

func (m *Memory) Create(_ context.Context, owner, collection string, doc map[string]any, key string) (string, error) {
	if err := validate(collection); err != nil {
		return "", err
	}
	id, _ := doc["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen(owner, key) {
		return id, nil
	}
	k := docKey(owner, collection, id)
	if _, ok := m.docs[k]; ok {
		return id, nil
	}
	stored := copyDoc(doc)
	stored["id"] = id
	m.docs[k] = stored
	m.touch(k)
	return id, nil
}

func (m *Memory) Get(_ context.Context, owner, collection, id string) (map[string]any, error) {
	if err := validate(collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docKey(owner, collection, id)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return copyDoc(doc), nil
}

func (m *Memory) Update(_ context.Context, owner, collection, id string, patch map[string]any, key string) error {
	if err := validate(collection); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty id", common.ErrorValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen(owner, key) {
		return nil
	}
	k := docKey(owner, collection, id)
	doc, ok := m.docs[k]
	if !ok {
		doc = map[string]any{}
	}
	doc = copyDoc(doc)
	for f, v := range patch {
		doc[f] = v
	}
	doc["id"] = id
	m.docs[k] = doc
	m.touch(k)
	return nil
}

func (m *Memory) Delete(_ context.Context, owner, collection, id, key string) error {
	if err := validate(collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen(owner, key) {
		return nil
	}
	k := docKey(owner, collection, id)
	delete(m.docs, k)
	delete(m.seq, k)
	return nil
}

// Query matches filters by equality on top-level fields, newest first.
func (m *Memory) Query(_ context.Context, owner, collection string, filters map[string]any) ([]map[string]any, error) {
	if err := validate(collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	prefix := owner + "/" + collection + "/"
	type hit struct {
		seq int64
		doc map[string]any
	}
	var hits []hit
	for k, doc := range m.docs {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if !matches(doc, filters) {
			continue
		}
		hits = append(hits, hit{seq: m.seq[k], doc: copyDoc(doc)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].seq > hits[j].seq })

	out := make([]map[string]any, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out, nil
}

func matches(doc, filters map[string]any) bool {
	for f, want := range filters {
		if fmt.Sprint(doc[f]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func (m *Memory) Ping(context.Context) error { return nil }

// Len reports how many documents are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}
