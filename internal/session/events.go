package session

import "context"

// events holds one outbound channel per event kind.
type events struct {
	ticks       chan Tick
	balances    chan BalanceUpdate
	outcomes    chan ContractOutcome
	orderErrors chan OrderError
	closed      chan ConnectionClosed
	reconnects  chan ReconnectEvent
}

func newEvents(size int) *events {
	if size < 1 {
		size = 1
	}
	return &events{
		ticks:       make(chan Tick, size),
		balances:    make(chan BalanceUpdate, size),
		outcomes:    make(chan ContractOutcome, size),
		orderErrors: make(chan OrderError, size),
		closed:      make(chan ConnectionClosed, size),
		reconnects:  make(chan ReconnectEvent, size),
	}
}

// close closes every channel. Callers must ensure no publisher is running.
func (e *events) close() {
	close(e.ticks)
	close(e.balances)
	close(e.outcomes)
	close(e.orderErrors)
	close(e.closed)
	close(e.reconnects)
}

// offer publishes v without blocking. Returns false if the buffer is full.
func offer[T any](ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}

// deliver publishes v, blocking until it is consumed or ctx is done.
func deliver[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
