package notification

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Queue holds outbound messages until their ETA.
type Queue interface {
	Enqueue(ctx context.Context, msg *Outbound) error
	// Due removes and returns up to limit messages whose ETA is at or before
	// now, oldest ETA first. A message is returned to exactly one caller.
	Due(ctx context.Context, now time.Time, limit int) ([]*Outbound, error)
	// Pending lists waiting messages without claiming them.
	Pending(ctx context.Context, limit int) ([]*Outbound, error)
	Len(ctx context.Context) (int64, error)
}

// MemoryQueue is an in-process Queue for development and tests. Messages do
// not survive a restart.
type MemoryQueue struct {
	mu    sync.Mutex
	items []*Outbound
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *Outbound) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].ETA.Before(q.items[j].ETA)
	})
	return nil
}

func (q *MemoryQueue) Due(_ context.Context, now time.Time, limit int) ([]*Outbound, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*Outbound
	rest := q.items[:0]
	for _, msg := range q.items {
		if len(due) < limit && !msg.ETA.After(now) {
			due = append(due, msg)
			continue
		}
		rest = append(rest, msg)
	}
	q.items = rest
	return due, nil
}

func (q *MemoryQueue) Pending(_ context.Context, limit int) ([]*Outbound, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Outbound, n)
	copy(out, q.items[:n])
	return out, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Name and Ping let the queue act as a health check dependency.
func (q *MemoryQueue) Name() string                 { return "queue" }
func (q *MemoryQueue) Ping(_ context.Context) error { return nil }
