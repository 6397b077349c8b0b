package splatsort

import (
	"sync/atomic"
	"testing"
)

func TestDispatchCoversEveryGroupOnce(t *testing.T) {
	for _, workers := range []int{1, 4, 32} {
		disp := newDispatcher(workers)
		const groups = 1000
		var hits [groups]atomic.Uint32
		disp.dispatch(groups, func(g int) {
			hits[g].Add(1)
		})
		for g := range hits {
			if n := hits[g].Load(); n != 1 {
				t.Fatalf("workers=%d group %d executed %d times", workers, g, n)
			}
		}
	}
}

func TestDispatchZeroGroups(t *testing.T) {
	disp := newDispatcher(4)
	called := false
	disp.dispatch(0, func(int) { called = true })
	if called {
		t.Error("kernel invoked for zero groups")
	}
}

func TestPartitionBounds(t *testing.T) {
	cases := []struct {
		n, size, parts int
	}{
		{0, 1024, 0},
		{1, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{100000, 4096, 25},
	}
	for _, tc := range cases {
		if got := partitionCount(tc.n, tc.size); got != tc.parts {
			t.Errorf("partitionCount(%d, %d) = %d, want %d", tc.n, tc.size, got, tc.parts)
		}
		covered := 0
		for p := 0; p < tc.parts; p++ {
			lo, hi := partitionBounds(p, tc.size, tc.n)
			if hi < lo || hi > tc.n {
				t.Fatalf("partition %d bounds [%d,%d) out of range", p, lo, hi)
			}
			covered += hi - lo
		}
		if covered != tc.n {
			t.Errorf("partitions of n=%d cover %d elements", tc.n, covered)
		}
	}
}
