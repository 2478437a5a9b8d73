package remote

import "context"

// NotConfigured is the gateway used when no backend is set up. Every call
// fails fast with ErrNotConfigured.
type NotConfigured struct{}

func (NotConfigured) Apply(context.Context, Mutation) error { return ErrNotConfigured }

func (NotConfigured) Create(context.Context, string, Document) (string, error) {
	return "", ErrNotConfigured
}

func (NotConfigured) Get(context.Context, string, string) (Document, error) {
	return nil, ErrNotConfigured
}

func (NotConfigured) Update(context.Context, string, string, Document) error { return ErrNotConfigured }
func (NotConfigured) Delete(context.Context, string, string) error           { return ErrNotConfigured }

func (NotConfigured) Query(context.Context, string, ...Filter) ([]Document, error) {
	return nil, ErrNotConfigured
}

func (NotConfigured) Subscribe(context.Context, string, []Filter, func([]Document)) (func(), error) {
	return func() {}, ErrNotConfigured
}

func (NotConfigured) Ping(context.Context) error { return ErrNotConfigured }
func (NotConfigured) Close() error               { return nil }
