package connection

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelator_AllocateUniqueIDs(t *testing.T) {
	c := NewCorrelator[string]()

	seen := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := c.Allocate()
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[p.ID], "duplicate id %d", p.ID)
			seen[p.ID] = true
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
	assert.Equal(t, 50, c.Len())
}

func TestCorrelator_NextIDSharesSequence(t *testing.T) {
	c := NewCorrelator[string]()

	p := c.Allocate()
	id := c.NextID()
	q := c.Allocate()

	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, int64(2), id)
	assert.Equal(t, int64(3), q.ID)
	assert.Equal(t, 2, c.Len())
	assert.False(t, c.Resolve(id, "x"), "reserved id has no slot")
}

func TestCorrelator_RoutesByIDRegardlessOfOrder(t *testing.T) {
	const n = 100
	c := NewCorrelator[int64]()

	pending := make([]*Pending[int64], n)
	for i := range pending {
		pending[i] = c.Allocate()
	}

	results := make([]int64, n)
	var wg sync.WaitGroup
	for i, p := range pending {
		wg.Add(1)
		go func(i int, p *Pending[int64]) {
			defer wg.Done()
			v, err := p.Wait(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i, p)
	}

	// Respond in shuffled order with a payload derived from the id.
	order := rand.Perm(n)
	for _, i := range order {
		id := pending[i].ID
		assert.True(t, c.Resolve(id, id*10))
	}
	wg.Wait()

	for i, p := range pending {
		assert.Equal(t, p.ID*10, results[i], "caller %d got another request's response", i)
	}
	assert.Equal(t, 0, c.Len())
}

func TestCorrelator_ResolveTwiceIsNoop(t *testing.T) {
	c := NewCorrelator[string]()
	p := c.Allocate()

	assert.True(t, c.Resolve(p.ID, "first"))
	assert.False(t, c.Resolve(p.ID, "second"))
	assert.False(t, c.Fail(p.ID, errors.New("late")))

	v, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestCorrelator_UnknownID(t *testing.T) {
	c := NewCorrelator[string]()
	assert.False(t, c.Resolve(42, "x"))
	assert.False(t, c.Fail(42, errors.New("x")))
}

func TestCorrelator_Fail(t *testing.T) {
	c := NewCorrelator[string]()
	p := c.Allocate()
	want := errors.New("venue rejected")

	assert.True(t, c.Fail(p.ID, want))
	_, err := p.Wait(context.Background())
	assert.ErrorIs(t, err, want)
}

func TestCorrelator_CancelDropsLateResponse(t *testing.T) {
	c := NewCorrelator[string]()
	p := c.Allocate()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Len())

	// Late response for the cancelled id is silently dropped.
	assert.False(t, c.Resolve(p.ID, "late"))
	v, err := p.Wait(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, v)
}

func TestCorrelator_FailAll(t *testing.T) {
	c := NewCorrelator[string]()
	a := c.Allocate()
	b := c.Allocate()

	assert.Equal(t, 2, c.FailAll(ErrConnectionLost))
	assert.Equal(t, 0, c.Len())

	for _, p := range []*Pending[string]{a, b} {
		select {
		case <-p.Done():
		default:
			t.Fatalf("pending %d not completed", p.ID)
		}
		_, err := p.Wait(context.Background())
		assert.ErrorIs(t, err, ErrConnectionLost)
	}
}
