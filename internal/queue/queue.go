package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/stock-alert-bot/internal/models"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	// ErrCoalesced is returned when a scheduled cycle is already pending.
	ErrCoalesced = errors.New("scheduled cycle already pending")
)

type Kind int

const (
	KindScheduled Kind = iota
	KindManual
)

func (k Kind) String() string {
	if k == KindManual {
		return "manual"
	}
	return "scheduled"
}

// Result is what the consumer hands back for a request.
type Result struct {
	Outcomes []models.CheckOutcome
	Err      error
}

// Request asks for one check cycle over all configured items.
type Request struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time

	seq   uint64
	reply chan Result
	once  sync.Once
}

func NewRequest(kind Kind) *Request {
	return &Request{
		ID:        uuid.NewString(),
		Kind:      kind,
		CreatedAt: time.Now(),
		reply:     make(chan Result, 1),
	}
}

// Complete delivers the result. Only the first call has any effect.
func (r *Request) Complete(res Result) {
	r.once.Do(func() {
		r.reply <- res
		close(r.reply)
	})
}

// Wait blocks until the request completes or ctx ends. The cycle keeps
// running if the waiter gives up.
func (r *Request) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-r.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type Queue interface {
	Push(req *Request) error
	Pop(ctx context.Context) (*Request, error)
	Size() int
	Close() error
}

// InMemoryQueue orders manual requests ahead of scheduled ones and keeps
// FIFO order within a kind.
type InMemoryQueue struct {
	mu      sync.Mutex
	pending []*Request
	seq     uint64
	signal  chan struct{}
	closed  bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{signal: make(chan struct{}, 1)}
}

func (q *InMemoryQueue) Push(req *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if req.Kind == KindScheduled {
		for _, p := range q.pending {
			if p.Kind == KindScheduled {
				return ErrCoalesced
			}
		}
	}

	q.seq++
	req.seq = q.seq
	q.pending = append(q.pending, req)
	q.sortByPriority()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *InMemoryQueue) Pop(ctx context.Context) (*Request, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			req := q.pending[0]
			q.pending = q.pending[1:]
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return req, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close fails every pending request and wakes blocked consumers.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	pending := q.pending
	q.pending = nil
	q.closed = true
	q.mu.Unlock()

	for _, req := range pending {
		req.Complete(Result{Err: ErrQueueClosed})
	}
	q.wake()
	return nil
}

func (q *InMemoryQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *InMemoryQueue) sortByPriority() {
	sort.SliceStable(q.pending, func(i, j int) bool {
		if q.pending[i].Kind != q.pending[j].Kind {
			return q.pending[i].Kind == KindManual
		}
		return q.pending[i].seq < q.pending[j].seq
	})
}
