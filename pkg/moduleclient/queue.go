package moduleclient

import (
	"context"
	"sync"
)

// serialQueue runs jobs one at a time in arrival order. push never blocks,
// so the MQTT router can hand work off without waiting on handlers.
type serialQueue struct {
	mu    sync.Mutex
	jobs  []func()
	ready chan struct{}
}

func newSerialQueue() *serialQueue {
	return &serialQueue{ready: make(chan struct{}, 1)}
}

func (q *serialQueue) push(job func()) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *serialQueue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, false
	}
	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return job, true
}

// run drains the queue until ctx is done.
func (q *serialQueue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.ready:
		}
		for {
			if ctx.Err() != nil {
				return
			}
			job, ok := q.pop()
			if !ok {
				break
			}
			job()
		}
	}
}
