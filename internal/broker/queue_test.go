package broker

import (
	"sort"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tfsbroker/internal/common"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](3)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	assert.Equal(t, 3, q.Len())
	for want := 1; want <= 3; want++ {
		got, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_WrapsAround(t *testing.T) {
	t.Parallel()

	q := NewQueue[string](2)
	var got []string
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(s))
		v, err := q.Dequeue()
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
}

func TestQueue_EnqueueBlocksWhenFull(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	q := NewQueue[int](1)
	require.NoError(t, q.Enqueue(1))

	var done sync.WaitGroup
	done.Add(1)
	enqueued := make(chan struct{})
	go func() {
		defer done.Done()
		assert.NoError(t, q.Enqueue(2))
		close(enqueued)
	}()

	g.Consistently(enqueued).WithTimeout(100 * time.Millisecond).ShouldNot(BeClosed())

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	g.Eventually(enqueued).WithTimeout(time.Second).Should(BeClosed())

	v, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	done.Wait()
}

func TestQueue_DequeueBlocksWhenEmpty(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	q := NewQueue[int](2)
	got := make(chan int, 1)
	go func() {
		v, err := q.Dequeue()
		if err == nil {
			got <- v
		}
	}()

	g.Consistently(got).WithTimeout(100 * time.Millisecond).ShouldNot(Receive())
	require.NoError(t, q.Enqueue(7))
	g.Eventually(got).WithTimeout(time.Second).Should(Receive(Equal(7)))
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	q := NewQueue[int](2)
	require.NoError(t, q.Enqueue(1))

	errs := make(chan error, 1)
	go func() {
		_, _ = q.Dequeue()
		_, err := q.Dequeue()
		errs <- err
	}()

	g.Consistently(errs).WithTimeout(50 * time.Millisecond).ShouldNot(Receive())
	q.Close()
	g.Eventually(errs).WithTimeout(time.Second).Should(Receive(MatchError(common.ErrClosed)))
	assert.ErrorIs(t, q.Enqueue(2), common.ErrClosed)
}

func TestQueue_CloseDrainsRemaining(t *testing.T) {
	t.Parallel()

	q := NewQueue[int](2)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	q.Close()

	for want := 1; want <= 2; want++ {
		v, err := q.Dequeue()
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	_, err := q.Dequeue()
	assert.ErrorIs(t, err, common.ErrClosed)
}

func TestQueue_ManyProducersConsumers(t *testing.T) {
	t.Parallel()

	const producers, perProducer, consumers = 8, 200, 4
	q := NewQueue[int](3)

	var (
		mu  sync.Mutex
		got []int
		cwg sync.WaitGroup
	)
	for range consumers {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				v, err := q.Dequeue()
				if err != nil {
					return
				}
				mu.Lock()
				got = append(got, v)
				mu.Unlock()
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := range producers {
		pwg.Add(1)
		go func() {
			defer pwg.Done()
			for i := range perProducer {
				assert.NoError(t, q.Enqueue(p*perProducer+i))
			}
		}()
	}
	pwg.Wait()
	q.Close()
	cwg.Wait()

	require.Len(t, got, producers*perProducer)
	sort.Ints(got)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}
