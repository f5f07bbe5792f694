package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/schemagate/core/store"
)

func TestConcurrentFirstAccess(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	r := New(m)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := r.Collection(ctx, "Shop", "Orders")
			if err != nil {
				errs <- err
				return
			}
			_, err = c.Insert(ctx, map[string]interface{}{"n": 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, m.Creations("shop_orders"))
	c, err := r.Collection(ctx, "shop", "orders")
	require.NoError(t, err)
	docs, err := c.Find(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, docs, workers)
}

// slowStore delays collection creation and counts calls
type slowStore struct {
	*store.Memory
	calls int32
	fail  bool
}

func (s *slowStore) EnsureCollection(ctx context.Context, name string) error {
	atomic.AddInt32(&s.calls, 1)
	time.Sleep(10 * time.Millisecond)
	if s.fail {
		return errors.New("boom")
	}
	return s.Memory.EnsureCollection(ctx, name)
}

func TestEnsureIsCached(t *testing.T) {
	ctx := context.Background()
	s := &slowStore{Memory: store.NewMemory()}
	r := New(s)

	_, err := r.Named(ctx, "a_b")
	require.NoError(t, err)
	_, err = r.Named(ctx, "a_b")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&s.calls))

	r.Forget("a_b")
	_, err = r.Named(ctx, "a_b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&s.calls))
	assert.Equal(t, 1, s.Creations("a_b"))
}

func TestEnsureFailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	s := &slowStore{Memory: store.NewMemory(), fail: true}
	r := New(s)

	_, err := r.Named(ctx, "a_b")
	require.Error(t, err)

	s.fail = false
	c, err := r.Named(ctx, "a_b")
	require.NoError(t, err)
	assert.Equal(t, "a_b", c.Name())
}

// blockingStore blocks collection creation until release is closed
type blockingStore struct {
	*store.Memory
	started chan struct{}
	release chan struct{}
}

func (s *blockingStore) EnsureCollection(ctx context.Context, name string) error {
	close(s.started)
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Memory.EnsureCollection(ctx, name)
}

func TestCancelledFirstCallerDoesNotFailWaiters(t *testing.T) {
	s := &blockingStore{Memory: store.NewMemory(), started: make(chan struct{}), release: make(chan struct{})}
	r := New(s)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Named(first, "a_b")
		firstErr <- err
	}()
	<-s.started

	waiterErr := make(chan error, 1)
	go func() {
		_, err := r.Named(context.Background(), "a_b")
		waiterErr <- err
	}()
	// let the waiter join the pending creation
	time.Sleep(10 * time.Millisecond)

	cancel()
	time.Sleep(10 * time.Millisecond)
	close(s.release)

	require.NoError(t, <-waiterErr)
	require.NoError(t, <-firstErr)
	assert.Equal(t, 1, s.Creations("a_b"))
}
