package shmipc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

// These tests implement spec.md §8's end-to-end scenarios 1, 2, 3, 4, 5,
// and 6 with their literal parameters (the -3000..3000 emission range, 50
// producers, 2 consumers), as distinct from ring_test.go/fanout_test.go's
// smaller unit-level cases covering the same code paths.

const scenarioLo, scenarioHi = -3000, 3000
const scenarioCount = scenarioHi - scenarioLo + 1 // 6001

// scenario 1: single-thread enqueue/dequeue round-trip on a
// capacity-64 ring.
func TestScenarioRingRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := mustCreatePool(t, 1<<16)
	ring, err := NewRing[int](pool, 64)
	require.NoError(t, err)

	for i := 0; i < 64; i++ {
		require.True(t, ring.Enqueue(i))
	}
	assert.False(t, ring.Enqueue(64))

	for i := 0; i < 64; i++ {
		var v int
		require.True(t, ring.DequeueNext(&v))
		assert.Equal(t, i, v)
	}
	var v int
	assert.False(t, ring.DequeueNext(&v))
}

// scenario 2: SPSC, non-blocking.
func TestScenarioSPSCNonBlocking(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := mustCreatePool(t, 1<<20)
	ring, err := NewRing[int](pool, 64)
	require.NoError(t, err)

	var eg errgroup.Group
	eg.Go(func() error {
		for i := scenarioLo; i <= scenarioHi; i++ {
			for !ring.Reserve() {
			}
			ring.EnqueueAt(i)
		}
		return nil
	})

	sum := 0
	eg.Go(func() error {
		for n := 0; n < scenarioCount; n++ {
			var v int
			for !ring.DequeueNext(&v) {
			}
			sum += v
		}
		return nil
	})

	require.NoError(t, eg.Wait())
	assert.Equal(t, 0, sum)
}

// scenario 3: MPSC with 50 producers / 1 consumer, non-blocking.
func TestScenarioMPSC50Producers(t *testing.T) {
	defer goleak.VerifyNone(t)

	const numProducers = 50

	pool := mustCreatePool(t, 1<<24)
	ring, err := NewRing[int](pool, 1024)
	require.NoError(t, err)

	var eg errgroup.Group
	for p := 0; p < numProducers; p++ {
		eg.Go(func() error {
			for i := scenarioLo; i <= scenarioHi; i++ {
				for !ring.Reserve() {
				}
				ring.EnqueueAt(i)
			}
			return nil
		})
	}

	sum := 0
	eg.Go(func() error {
		want := numProducers * scenarioCount
		for n := 0; n < want; n++ {
			var v int
			for !ring.DequeueNext(&v) {
			}
			sum += v
		}
		return nil
	})

	require.NoError(t, eg.Wait())
	assert.Equal(t, 0, sum)
}

// scenario 4: fan-out MPMC with 2 consumers and 50 producers, blocking.
func TestScenarioFanoutMPMCBlocking(t *testing.T) {
	defer goleak.VerifyNone(t)

	const numProducers = 50

	pool := mustCreatePool(t, 1<<26)

	producer, err := CreateFanoutQueue[int](pool, 1024, false)
	require.NoError(t, err)

	consumerA, err := LoadFanoutQueue[int](pool, producer.GetOffset(), true)
	require.NoError(t, err)
	consumerB, err := LoadFanoutQueue[int](pool, producer.GetOffset(), true)
	require.NoError(t, err)

	producer.incorporateNewSubqueues()
	require.Equal(t, uint32(2), producer.GetNumConsumers())

	var eg errgroup.Group
	for p := 0; p < numProducers; p++ {
		eg.Go(func() error {
			for i := scenarioLo; i <= scenarioHi; i++ {
				producer.EnqueueBlocking(i)
			}
			return nil
		})
	}

	want := numProducers * scenarioCount
	sums := make([]int, 2)
	for idx, consumer := range []*FanoutQueue[int]{consumerA, consumerB} {
		idx, consumer := idx, consumer
		eg.Go(func() error {
			for n := 0; n < want; n++ {
				var v int
				consumer.DequeueNextBlocking(&v)
				sums[idx] += v
			}
			return nil
		})
	}

	require.NoError(t, eg.Wait())
	assert.Equal(t, 0, sums[0])
	assert.Equal(t, 0, sums[1])
}

// scenario 5: name resolution. Fetching two different names from the
// same registry returns two distinct queues; fetching the same name
// twice attaches to the one queue already registered under it.
func TestScenarioNameResolution(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := mustCreatePool(t, 1<<20)
	reg, err := OpenNameRegistry(pool)
	require.NoError(t, err)

	q1, err := FetchFanoutQueue[int](pool, reg, "q1")
	require.NoError(t, err)
	q2, err := FetchFanoutQueue[int](pool, reg, "q2")
	require.NoError(t, err)
	assert.NotEqual(t, q1.GetOffset(), q2.GetOffset())

	q1Again, err := FetchFanoutQueue[int](pool, reg, "q1")
	require.NoError(t, err)
	assert.Equal(t, q1.GetOffset(), q1Again.GetOffset())

	require.True(t, q1.Enqueue(1))
	require.True(t, q2.Enqueue(2))

	var v int
	require.True(t, q1.DequeueNext(&v))
	assert.Equal(t, 1, v)
	require.True(t, q2.DequeueNext(&v))
	assert.Equal(t, 2, v)
}

// scenario 6: dynamic consumer churn. A single producer emits
// scenarioLo..scenarioHi while a consumer repeatedly Closes and
// reconstructs its handle; within any one lifetime of the handle, values
// received must never be <= the previous value received on that same
// lifetime (the producer's sequence is strictly increasing, and a given
// consumer lifetime never sees a value twice or out of order, even though
// it may miss values written while it was torn down).
func TestScenarioConsumerChurn(t *testing.T) {
	defer goleak.VerifyNone(t)

	pool := mustCreatePool(t, 1<<22)

	producer, err := CreateFanoutQueue[int](pool, 64, false)
	require.NoError(t, err)

	done := make(chan struct{})

	var eg errgroup.Group
	eg.Go(func() error {
		for i := scenarioLo; i <= scenarioHi; i++ {
			for !producer.Enqueue(i) {
				producer.incorporateNewSubqueues()
			}
		}
		close(done)
		return nil
	})

	eg.Go(func() error {
		for {
			select {
			case <-done:
				return nil
			default:
			}

			consumer, err := LoadFanoutQueue[int](pool, producer.GetOffset(), true)
			if err != nil {
				return err
			}

			prev := scenarioLo - 1
			for n := 0; n < 8; n++ {
				var v int
				if !consumer.DequeueNext(&v) {
					break
				}
				if v <= prev {
					consumer.Close()
					return fmt.Errorf("value %d did not exceed previous value %d within one consumer lifetime", v, prev)
				}
				prev = v
			}
			consumer.Close()
		}
	})

	require.NoError(t, eg.Wait())
}
