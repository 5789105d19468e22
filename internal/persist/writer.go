// Package persist implements write-behind persistence: the event loop
// snapshots state into JSON documents and a background worker flushes them
// to durable storage.
package persist

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/koltyakov/fedchat/internal/store/sqlite"
)

const finalFlushTimeout = 10 * time.Second

// Sink receives flushed documents.
type Sink interface {
	PutDocs(ctx context.Context, docs []sqlite.Doc) error
}

type docKey struct {
	table string
	key   string
}

// Writer coalesces snapshot documents by (table, key) and flushes them on
// an interval and at shutdown. Save is safe to call from any goroutine.
type Writer struct {
	sink     Sink
	log      *slog.Logger
	clock    clock.Clock
	interval time.Duration

	mu      sync.Mutex
	pending map[docKey][]byte

	// OnFlush, when set, observes each flush attempt.
	OnFlush func(docs int, err error)
}

// New returns a writer flushing to sink every interval.
func New(sink Sink, logger *slog.Logger, clk clock.Clock, interval time.Duration) *Writer {
	if clk == nil {
		clk = clock.New()
	}
	return &Writer{
		sink:     sink,
		log:      logger,
		clock:    clk,
		interval: interval,
		pending:  make(map[docKey][]byte),
	}
}

// Save marshals v immediately and schedules it for the next flush,
// replacing any unflushed document with the same table and key.
func (w *Writer) Save(table, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", table, key, err)
	}
	w.mu.Lock()
	w.pending[docKey{table, key}] = body
	w.mu.Unlock()
	return nil
}

// Pending reports the number of unflushed documents.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes all pending documents. Documents that fail to write are
// re-queued unless a newer version was saved meanwhile.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[docKey][]byte)
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	docs := make([]sqlite.Doc, 0, len(batch))
	for k, body := range batch {
		docs = append(docs, sqlite.Doc{Table: k.table, Key: k.key, Body: body})
	}
	slices.SortFunc(docs, func(a, b sqlite.Doc) int {
		return cmp.Or(cmp.Compare(a.Table, b.Table), cmp.Compare(a.Key, b.Key))
	})

	err := w.sink.PutDocs(ctx, docs)
	if w.OnFlush != nil {
		w.OnFlush(len(docs), err)
	}
	if err != nil {
		w.mu.Lock()
		for k, body := range batch {
			if _, newer := w.pending[k]; !newer {
				w.pending[k] = body
			}
		}
		w.mu.Unlock()
		return err
	}
	return nil
}

// Run flushes on every tick until ctx is done, then performs a final flush.
func (w *Writer) Run(ctx context.Context) error {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			defer cancel()
			if err := w.Flush(flushCtx); err != nil {
				w.log.Error("final state flush failed", "pending", w.Pending(), "err", err)
				return err
			}
			return nil
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.log.Warn("state flush failed", "pending", w.Pending(), "err", err)
			}
		}
	}
}
