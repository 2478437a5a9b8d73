package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Querier is the read side a poller needs.
type Querier interface {
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
}

// PollSubscribe emulates a change feed by re-running a query every interval
// and calling fn when the result differs from the previous one. The first
// successful query is always delivered. Query errors are skipped; the next
// tick tries again.
func PollSubscribe(ctx context.Context, q Querier, collection string, filters []Filter, every time.Duration, fn func([]Document)) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		var last []byte
		first := true

		check := func() {
			docs, err := q.Query(ctx, collection, filters...)
			if err != nil {
				return
			}
			cur, err := json.Marshal(docs)
			if err != nil {
				return
			}
			if first || !bytes.Equal(cur, last) {
				first = false
				last = cur
				fn(docs)
			}
		}

		check()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()

	return cancel
}
