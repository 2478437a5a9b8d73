package remote

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process document store. It backs the "memory" backend
// for demos and is the reference gateway in tests. Failures can be injected
// per call with FailWith.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]map[string]Document
	fail    func(op string, m Mutation) error
	offline bool
	calls   []Mutation
	poll    time.Duration
}

func NewMemory() *Memory {
	return &Memory{docs: map[string]map[string]Document{}, poll: time.Second}
}

// FailWith installs a hook consulted before every Apply. A non-nil return
// is the call's result. Pass nil to clear.
func (m *Memory) FailWith(fn func(op string, mu Mutation) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fn
}

// SetPollInterval sets how often Subscribe re-queries.
func (m *Memory) SetPollInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poll = d
}

// SetOffline makes every call fail as a retryable network error.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// Calls returns the mutations Apply has seen, in order.
func (m *Memory) Calls() []Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Mutation(nil), m.calls...)
}

// Len counts the documents stored in collection.
func (m *Memory) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[collection])
}

var errMemoryOffline = Retryable(&netError{"memory gateway offline"})

type netError struct{ msg string }

func (e *netError) Error() string { return e.msg }

func (m *Memory) Apply(ctx context.Context, mu Mutation) error {
	m.mu.Lock()
	m.calls = append(m.calls, mu)
	fail := m.fail
	m.mu.Unlock()

	if fail != nil {
		if err := fail("apply", mu); err != nil {
			return err
		}
	}
	return ApplyMutation(ctx, m, mu)
}

func (m *Memory) Create(_ context.Context, collection string, doc Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return "", errMemoryOffline
	}
	id := DocumentID(doc)
	col := m.collection(collection)
	if _, exists := col[id]; exists {
		return id, nil
	}
	stored := copyJSON(doc)
	stored["id"] = id
	col[id] = stored
	return id, nil
}

func (m *Memory) Get(_ context.Context, collection, id string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, errMemoryOffline
	}
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, nil
	}
	return copyJSON(doc), nil
}

// Update merges patch into the document, creating it when absent.
func (m *Memory) Update(_ context.Context, collection, id string, patch Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return errMemoryOffline
	}
	col := m.collection(collection)
	doc, ok := col[id]
	if !ok {
		doc = Document{"id": id}
	}
	for k, v := range copyJSON(patch) {
		doc[k] = v
	}
	col[id] = doc
	return nil
}

func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return errMemoryOffline
	}
	delete(m.docs[collection], id)
	return nil
}

func (m *Memory) Query(_ context.Context, collection string, filters ...Filter) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, errMemoryOffline
	}
	out := []Document{}
	for _, doc := range m.docs[collection] {
		if Matches(doc, filters) {
			out = append(out, copyJSON(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i]["id"].(string) < out[j]["id"].(string) })
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, collection string, filters []Filter, fn func([]Document)) (func(), error) {
	m.mu.Lock()
	every := m.poll
	m.mu.Unlock()
	return PollSubscribe(ctx, m, collection, filters, every, fn), nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return errMemoryOffline
	}
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) collection(name string) map[string]Document {
	col, ok := m.docs[name]
	if !ok {
		col = map[string]Document{}
		m.docs[name] = col
	}
	return col
}

// copyJSON deep-copies through JSON so stored documents look exactly like
// what a network backend would return.
func copyJSON(doc Document) Document {
	b, err := json.Marshal(doc)
	if err != nil {
		return Document{}
	}
	out := Document{}
	_ = json.Unmarshal(b, &out)
	return out
}
