package splatsort

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// dispatcher executes work-groups the way a compute queue would: a dispatch
// hands out group indices to a pool of workers and returns only once every
// group has finished, which is the barrier between dependent phases. Workers
// communicate exclusively through atomics on shared buffers, never through
// host-side locks.
type dispatcher struct {
	workers int
}

func newDispatcher(workers int) *dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &dispatcher{workers: workers}
}

// dispatch runs kernel once per group in [0,groups) across the worker pool
// and blocks until all groups complete. groups == 0 is a no-op.
func (d *dispatcher) dispatch(groups int, kernel func(group int)) {
	if groups <= 0 {
		return
	}
	workers := d.workers
	if workers > groups {
		workers = groups
	}
	if workers == 1 {
		for g := 0; g < groups; g++ {
			kernel(g)
		}
		return
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				g := int(next.Add(1)) - 1
				if g >= groups {
					return
				}
				kernel(g)
			}
		}()
	}
	wg.Wait()
}

// partitionBounds returns the [lo,hi) element range of a partition. The last
// partition absorbs the remainder when n is not a multiple of size.
func partitionBounds(part, size, n int) (int, int) {
	lo := part * size
	hi := lo + size
	if hi > n {
		hi = n
	}
	return lo, hi
}

// partitionCount returns how many fixed-size partitions cover n elements.
func partitionCount(n, size int) int {
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
