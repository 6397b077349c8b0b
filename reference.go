package splatsort

import (
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	referenceMinBuckets = 10
	referenceMaxBuckets = 20
)

// ReferenceBucketCount scales the reference engine's bucket resolution with
// the element count: clamp(round(log2(n/4)), 10, 20). The heuristic is
// tunable, not proven optimal; it only has to keep within-bucket depth spread
// visually immaterial. Exported so agreement checks against the reference can
// work at the same resolution.
func ReferenceBucketCount(n int) int {
	if n < 1 {
		return referenceMinBuckets
	}
	b := int(math.Round(math.Log2(float64(n) / 4.0)))
	if b < referenceMinBuckets {
		return referenceMinBuckets
	}
	if b > referenceMaxBuckets {
		return referenceMaxBuckets
	}
	return b
}

// referenceEngine is the sequential ground truth: bucketed counting sort over
// normalized view-axis distance, far-to-near output, visible cutoff by binary
// search. Parallel engines must reproduce its order within bucket resolution.
// It is also the last real engine in the fallback chain, so it depends on
// nothing but the position slice.
type referenceEngine struct {
	n int

	positions []mgl32.Vec3
	dists     []float32
	ordered   []float32 // distances in output order, for the cutoff search
	counts    []int
}

func newReferenceEngine(positions []mgl32.Vec3) *referenceEngine {
	n := len(positions)
	return &referenceEngine{
		n:         n,
		positions: positions,
		dists:     make([]float32, n),
		ordered:   make([]float32, n),
		counts:    make([]int, ReferenceBucketCount(n)),
	}
}

func (e *referenceEngine) Name() string { return "reference" }

func (e *referenceEngine) Sort(cam Camera, perm []uint32) (int, bool, error) {
	if e.n == 0 {
		return 0, true, nil
	}

	dir := cam.Direction()
	origin := cam.Position

	minD := float32(math.Inf(1))
	maxD := float32(math.Inf(-1))
	for i, p := range e.positions {
		d := p.Sub(origin).Dot(dir)
		e.dists[i] = d
		if d < minD {
			minD = d
		}
		if d > maxD {
			maxD = d
		}
	}

	buckets := len(e.counts)
	span := maxD - minD
	if span <= 0 {
		span = 1
	}

	// Counting sort into distance buckets. Bucket 0 is nearest; the scatter
	// below walks buckets far-to-near. Within a bucket, insertion order is
	// kept as-is rather than refined further.
	for i := range e.counts {
		e.counts[i] = 0
	}
	for i := 0; i < e.n; i++ {
		e.counts[e.bucketOf(i, minD, span, buckets)]++
	}
	// Offsets so that the farthest bucket lands first in the output.
	running := 0
	for b := buckets - 1; b >= 0; b-- {
		c := e.counts[b]
		e.counts[b] = running
		running += c
	}
	for i := 0; i < e.n; i++ {
		b := e.bucketOf(i, minD, span, buckets)
		slot := e.counts[b]
		e.counts[b]++
		perm[slot] = uint32(i)
		e.ordered[slot] = e.dists[i]
	}

	// The ordered distance sequence decreases monotonically (up to bucket
	// resolution); the visible count is one past the last entry still in
	// front of the camera plane.
	visible := sort.Search(e.n, func(k int) bool {
		return e.ordered[k] < 0
	})

	return visible, true, nil
}

func (e *referenceEngine) bucketOf(i int, minD, span float32, buckets int) int {
	b := int((e.dists[i] - minD) / span * float32(buckets))
	if b < 0 {
		b = 0
	}
	if b >= buckets {
		b = buckets - 1
	}
	return b
}

func (e *referenceEngine) Close() error { return nil }
