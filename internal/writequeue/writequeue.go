// Package writequeue batches and merges writes per logical resource so
// concurrent callers targeting the same tier file coalesce into a
// single flush instead of racing each other through lockmgr.
package writequeue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// WriteFunc performs the actual durable write for a batch of entries.
// It is supplied by the caller (typically a logstore.Store method) and
// must be safe to call with the accumulated entries for one resource.
// The returned slice is aligned by index with entries: element i is
// the outcome of writing entries[i], nil on success. A nil slice means
// every entry succeeded. One entry's failure must not stop the write
// of its siblings; their promises resolve independently.
type WriteFunc func(resource string, entries []any) []error

// Write is one queued mutation. ID and Op drive update-merging: two
// updates to the same id within a batch window collapse into one
// entry whose payload is the merge of both. Priority (lower = earlier)
// orders entries within the flushed batch; merging ignores it.
type Write struct {
	ID       string
	Op       string // "append" | "update"
	Priority int
	Payload  any
}

// entry is one queued write request, merged with others for the same
// resource within the batch delay window.
type entry struct {
	resource string
	id       string
	op       string
	priority int
	seq      int
	payload  any
	done     []chan error // promise-merging: every caller waiting on this entry
}

// Queue batches writes per resource with a bounded per-resource pending
// count; callers beyond Capacity fail synchronously rather than
// blocking indefinitely.
type Queue struct {
	log        *slog.Logger
	write      WriteFunc
	batchSize  int
	batchDelay time.Duration
	capacity   int
	merge      func(prev, next any) any

	mu      sync.Mutex
	seq     int
	pending map[string][]*entry
	timers  map[string]*time.Timer
	closed  bool
}

// Options configures a Queue.
type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	Capacity   int // max pending entries per resource
	Log        *slog.Logger
	// Merge combines an earlier update payload with a later one for
	// the same id; later fields win. Nil means the later payload
	// replaces the earlier outright.
	Merge func(prev, next any) any
}

// New constructs a Queue that flushes batches via write.
func New(write WriteFunc, opts Options) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = 50 * time.Millisecond
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Merge == nil {
		opts.Merge = func(prev, next any) any { return next }
	}
	return &Queue{
		log:        opts.Log,
		write:      write,
		batchSize:  opts.BatchSize,
		batchDelay: opts.BatchDelay,
		capacity:   opts.Capacity,
		merge:      opts.Merge,
		pending:    make(map[string][]*entry),
		timers:     make(map[string]*time.Timer),
	}
}

// Enqueue queues payload for resource and returns once it has been
// durably written (or the write failed). Concurrent Enqueue calls for
// the same resource within the batch delay window merge into one
// flush; each caller's channel is resolved individually once that
// shared flush completes.
func (q *Queue) Enqueue(ctx context.Context, resource string, payload any) error {
	return q.EnqueueWrite(ctx, resource, Write{Op: "append", Payload: payload})
}

// EnqueueWrite queues w for resource, merging it into an earlier
// pending update for the same id when both are updates; every caller
// waiting on a merged entry resolves with the shared batch outcome.
func (q *Queue) EnqueueWrite(ctx context.Context, resource string, w Write) error {
	done := make(chan error, 1)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errClosed
	}

	merged := false
	if w.Op == "update" && w.ID != "" {
		for _, e := range q.pending[resource] {
			if e.op == "update" && e.id == w.ID {
				e.payload = q.merge(e.payload, w.Payload)
				e.done = append(e.done, done)
				merged = true
				break
			}
		}
	}
	if !merged {
		if len(q.pending[resource]) >= q.capacity {
			q.mu.Unlock()
			return errCapacity
		}
		q.seq++
		q.pending[resource] = append(q.pending[resource], &entry{
			resource: resource,
			id:       w.ID,
			op:       w.Op,
			priority: w.Priority,
			seq:      q.seq,
			payload:  w.Payload,
			done:     []chan error{done},
		})
	}
	shouldFlushNow := len(q.pending[resource]) >= q.batchSize
	if shouldFlushNow {
		if t, ok := q.timers[resource]; ok {
			t.Stop()
			delete(q.timers, resource)
		}
	} else if _, ok := q.timers[resource]; !ok {
		q.timers[resource] = time.AfterFunc(q.batchDelay, func() { q.flush(resource) })
	}
	q.mu.Unlock()

	if shouldFlushNow {
		go q.flush(resource)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flush drains all entries currently pending for resource and performs
// a single write, resolving every caller's promise channel in one pass.
func (q *Queue) flush(resource string) {
	q.mu.Lock()
	entries := q.pending[resource]
	delete(q.pending, resource)
	delete(q.timers, resource)
	q.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	// Lower priority flushes earlier; equal priorities keep enqueue
	// order.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].seq < entries[j].seq
	})

	payloads := make([]any, len(entries))
	for i, e := range entries {
		payloads[i] = e.payload
	}

	errs := q.write(resource, payloads)
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed > 0 {
		q.log.Warn("writequeue: flush had failures",
			"resource", resource, "entries", len(entries), "failed", failed)
	}

	// Each entry resolves with its own outcome: a failed item rejects
	// while siblings whose writes succeeded still resolve success.
	for i, e := range entries {
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		for _, ch := range e.done {
			ch <- err
		}
	}
}

// Flush forces an immediate flush of resource's pending entries.
func (q *Queue) Flush(resource string) {
	q.flush(resource)
}

// FlushAll forces an immediate flush of every resource with pending
// entries.
func (q *Queue) FlushAll() {
	q.mu.Lock()
	resources := make([]string, 0, len(q.pending))
	for r := range q.pending {
		resources = append(resources, r)
	}
	q.mu.Unlock()
	for _, r := range resources {
		q.flush(r)
	}
}

// Close flushes everything pending and rejects further Enqueue calls.
func (q *Queue) Close() {
	q.FlushAll()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

var (
	errClosed   = queueError("writequeue: queue is closed")
	errCapacity = queueError("writequeue: resource queue at capacity")
)

type queueError string

func (e queueError) Error() string { return string(e) }
