package vex

import (
	"sync"
)

// RequestQueue is the admission queue between request producers and a
// connection. Producers push at any time; the connection pulls by
// raising demand, and the queue delivers batches no larger than the
// outstanding demand. Initial demand is zero, so nothing moves until
// the engine has seen the peer's SETTINGS and knows its stream budget.
type RequestQueue struct {
	mu      sync.Mutex
	backlog []*pendingRequest
	demand  uint32
	deliver func(batch []*pendingRequest)
}

// NewRequestQueue returns an empty, unsubscribed queue.
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{}
}

// subscribe registers the single consumer. Called once by Open.
func (q *RequestQueue) subscribe(deliver func(batch []*pendingRequest)) {
	q.mu.Lock()
	q.deliver = deliver
	q.mu.Unlock()
}

// push enqueues a request. If demand is outstanding it is delivered
// immediately.
func (q *RequestQueue) push(p *pendingRequest) {
	q.mu.Lock()
	q.backlog = append(q.backlog, p)
	batch, deliver := q.takeLocked()
	q.mu.Unlock()
	if len(batch) > 0 {
		deliver(batch)
	}
}

// ask raises demand by n, saturating at the unbounded proxy, and
// flushes any backlog the new demand admits.
func (q *RequestQueue) ask(n uint32) {
	if n == 0 {
		return
	}
	q.mu.Lock()
	if q.demand > unboundedStreamDemand-n {
		q.demand = unboundedStreamDemand
	} else {
		q.demand += n
	}
	batch, deliver := q.takeLocked()
	q.mu.Unlock()
	if len(batch) > 0 {
		deliver(batch)
	}
}

// len reports the backlog size.
func (q *RequestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// outstanding reports the current unfilled demand.
func (q *RequestQueue) outstanding() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.demand
}

// drain fails every queued request with err and empties the backlog.
// Used during teardown.
func (q *RequestQueue) drain(fail func(p *pendingRequest, err error), err error) {
	q.mu.Lock()
	backlog := q.backlog
	q.backlog = nil
	q.demand = 0
	q.mu.Unlock()
	for _, p := range backlog {
		fail(p, err)
	}
}

func (q *RequestQueue) takeLocked() ([]*pendingRequest, func(batch []*pendingRequest)) {
	if q.deliver == nil || q.demand == 0 || len(q.backlog) == 0 {
		return nil, nil
	}
	n := len(q.backlog)
	if uint32(n) > q.demand {
		n = int(q.demand)
	}
	batch := make([]*pendingRequest, n)
	copy(batch, q.backlog)
	q.backlog = append(q.backlog[:0], q.backlog[n:]...)
	q.demand -= uint32(n)
	return batch, q.deliver
}
