package splatsort

import (
	"github.com/go-gl/mathgl/mgl32"
)

// elementsPerGroup is the slice of the padded array one work-group sorts
// entirely in its local phase. Tunable; must be a power of two.
const elementsPerGroup = 256

// bitonicSentinel fills padding slots past N. It is the maximal item, so
// padding sinks to the tail of the ascending network and never reaches the
// first N output entries.
const bitonicSentinel = ^uint64(0)

// bitonicEngine sorts a power-of-two-padded array with a bitonic
// compare-exchange network. It trades extra comparisons for far fewer
// synchronization round-trips than the radix engine: one barrier per (k,j)
// stage instead of four barriers per digit, which is why the scheduler
// prefers it for very large counts.
//
// Items are 64-bit composites: complemented depth key in the high half,
// element index in the low half. Ascending composite order is therefore
// far-to-near, culled elements (key 0, complement maximal) sort past every
// visible element, and the index half breaks ties so padding stays strictly
// behind real elements.
type bitonicEngine struct {
	n      int
	padded int

	ex   *keyExtractor
	disp *dispatcher

	items []uint64
}

func newBitonicEngine(positions []mgl32.Vec3, margin float32, disp *dispatcher) *bitonicEngine {
	n := len(positions)
	return &bitonicEngine{
		n:      n,
		padded: paddedCount(n),
		ex:     newKeyExtractor(positions, margin, disp),
		disp:   disp,
		items:  make([]uint64, paddedCount(n)),
	}
}

// paddedCount returns the smallest power of two >= n that is also a multiple
// of elementsPerGroup.
func paddedCount(n int) int {
	p := nextPow2(n)
	if p < elementsPerGroup {
		p = elementsPerGroup
	}
	return p
}

func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

func (b *bitonicEngine) Name() string { return "bitonic" }

func (b *bitonicEngine) Sort(cam Camera, perm []uint32) (int, bool, error) {
	if b.n == 0 {
		return 0, true, nil
	}

	visible := b.ex.extract(cam)

	groups := b.padded / elementsPerGroup
	b.disp.dispatch(groups, func(g int) {
		lo := g * elementsPerGroup
		hi := lo + elementsPerGroup
		for i := lo; i < hi; i++ {
			if i < b.n {
				b.items[i] = uint64(^b.ex.keys[i])<<32 | uint64(i)
			} else {
				b.items[i] = bitonicSentinel
			}
		}
	})

	// Phase 1: every group completes all merge stages up to k =
	// elementsPerGroup inside its own slice. Partners i^j stay in-slice
	// because j < elementsPerGroup and slices are aligned.
	b.disp.dispatch(groups, func(g int) {
		lo := g * elementsPerGroup
		hi := lo + elementsPerGroup
		for k := 2; k <= elementsPerGroup; k <<= 1 {
			for j := k >> 1; j > 0; j >>= 1 {
				b.exchangeRange(lo, hi, k, j)
			}
		}
	})

	// Phase 2: global stages. Each (k,j) pair is one dispatch; the barrier
	// between dispatches sequences dependent exchanges.
	for k := elementsPerGroup * 2; k <= b.padded; k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			b.disp.dispatch(groups, func(g int) {
				lo := g * elementsPerGroup
				b.exchangeRange(lo, lo+elementsPerGroup, k, j)
			})
		}
	}

	// Phase 3: padding is discarded, the first N items are the permutation.
	for i := 0; i < b.n; i++ {
		perm[i] = uint32(b.items[i])
	}

	return visible, true, nil
}

// exchangeRange performs the compare-exchange stage (k,j) for indices in
// [lo,hi). Each unordered pair is owned by its lower index, so concurrent
// groups never write the same slot.
func (b *bitonicEngine) exchangeRange(lo, hi, k, j int) {
	for i := lo; i < hi; i++ {
		l := i ^ j
		if l <= i {
			continue
		}
		ascending := i&k == 0
		if (b.items[i] > b.items[l]) == ascending {
			b.items[i], b.items[l] = b.items[l], b.items[i]
		}
	}
}

func (b *bitonicEngine) Close() error { return nil }
