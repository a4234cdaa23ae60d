package toolshim

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
)

const defaultQueueDepth = 16

type queueKey struct {
	name          string
	correlationID string
}

// QueuedResult is a tool result mirrored onto the in-process queue so
// callers outside the agent's stdin loop can await it.
type QueuedResult struct {
	Name          string
	CorrelationID string
	RequestID     string
	OK            bool
	Result        map[string]any
	Error         string
	At            time.Time
}

// resultQueue keeps recent tool results per (name, correlationID) key,
// bounded in depth. The oldest entry is dropped on overflow.
type resultQueue struct {
	mu     sync.Mutex
	depth  int
	items  map[queueKey][]QueuedResult
	wake   chan struct{}
	logger *logger.Logger
}

func newResultQueue(depth int, log *logger.Logger) *resultQueue {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &resultQueue{
		depth:  depth,
		items:  make(map[queueKey][]QueuedResult),
		wake:   make(chan struct{}),
		logger: log,
	}
}

func (q *resultQueue) push(r QueuedResult) {
	key := queueKey{name: r.Name, correlationID: r.CorrelationID}

	q.mu.Lock()
	queued := q.items[key]
	if len(queued) >= q.depth {
		dropped := queued[0]
		queued = queued[1:]
		if q.logger != nil {
			q.logger.Warn("tool result queue overflow, dropping oldest entry",
				zap.String("tool", dropped.Name),
				zap.String("correlation_id", dropped.CorrelationID),
				zap.String("request_id", dropped.RequestID))
		}
	}
	q.items[key] = append(queued, r)
	close(q.wake)
	q.wake = make(chan struct{})
	q.mu.Unlock()
}

// take pops the oldest queued result for the key, if any.
func (q *resultQueue) take(name, correlationID string) (QueuedResult, bool) {
	key := queueKey{name: name, correlationID: correlationID}

	q.mu.Lock()
	defer q.mu.Unlock()
	queued := q.items[key]
	if len(queued) == 0 {
		return QueuedResult{}, false
	}
	head := queued[0]
	if len(queued) == 1 {
		delete(q.items, key)
	} else {
		q.items[key] = queued[1:]
	}
	return head, true
}

// await blocks until a result arrives for the key or the context ends.
func (q *resultQueue) await(ctx context.Context, name, correlationID string) (QueuedResult, error) {
	for {
		if r, ok := q.take(name, correlationID); ok {
			return r, nil
		}

		q.mu.Lock()
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return QueuedResult{}, ctx.Err()
		case <-wake:
		}
	}
}
