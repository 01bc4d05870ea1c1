package connection

import (
	"context"
	"sync"
)

// Correlator maps correlation ids to pending single-resolution slots.
// Ids are allocated locally, sent with the request and echoed by the venue.
type Correlator[T any] struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]*Pending[T]
}

// Pending is one in-flight correlated request.
type Pending[T any] struct {
	ID int64

	c     *Correlator[T]
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// NewCorrelator creates an empty correlator. The first id is 1.
func NewCorrelator[T any]() *Correlator[T] {
	return &Correlator[T]{
		pending: make(map[int64]*Pending[T]),
	}
}

// Allocate registers a new pending slot under a fresh id.
func (c *Correlator[T]) Allocate() *Pending[T] {
	p := &Pending[T]{
		c:    c,
		done: make(chan struct{}),
	}

	c.mu.Lock()
	c.nextID++
	p.ID = c.nextID
	c.pending[p.ID] = p
	c.mu.Unlock()

	return p
}

// NextID reserves a fresh id without registering a slot, for requests that
// share the id space but are answered elsewhere.
func (c *Correlator[T]) NextID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

// Resolve completes the slot for id with v.
// Returns false if id is unknown (already resolved, cancelled, or spurious).
func (c *Correlator[T]) Resolve(id int64, v T) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	p.complete(v, nil)
	return true
}

// Fail completes the slot for id with err.
// Returns false if id is unknown.
func (c *Correlator[T]) Fail(id int64, err error) bool {
	p := c.take(id)
	if p == nil {
		return false
	}
	var zero T
	p.complete(zero, err)
	return true
}

// FailAll fails every pending slot with err and returns how many were failed.
func (c *Correlator[T]) FailAll(err error) int {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*Pending[T])
	c.mu.Unlock()

	var zero T
	for _, p := range pending {
		p.complete(zero, err)
	}
	return len(pending)
}

// Len returns the number of in-flight requests.
func (c *Correlator[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns the slot for id.
func (c *Correlator[T]) take(id int64) *Pending[T] {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return p
}

func (p *Pending[T]) complete(v T, err error) {
	p.once.Do(func() {
		p.value = v
		p.err = err
		close(p.done)
	})
}

// Done is closed once the slot is completed.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the slot completes or ctx is done. On ctx done the entry
// is removed, so a late response for this id is dropped.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.Cancel(ctx.Err())
	}
	<-p.done
	return p.value, p.err
}

// Cancel removes the entry and completes the slot with err,
// unless it was already completed.
func (p *Pending[T]) Cancel(err error) {
	p.c.take(p.ID)
	var zero T
	p.complete(zero, err)
}
