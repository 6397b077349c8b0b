package splatsort

import (
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// culledKey is the key assigned to frustum-failing elements. It is the
// minimum of the key domain, so after the far-to-near reversal those elements
// land at the very end of the permutation, past the visible cutoff.
const culledKey uint32 = 0

// extractPartitionSize is the element count each extraction work-group covers.
const extractPartitionSize = 4096

// depthKey maps a signed view-axis distance to a uint32 whose unsigned order
// matches the float order: flip all bits of negatives, set the sign bit of
// non-negatives. Monotonic bijection over the whole float range, so distance
// zero (camera exactly on a splat) needs no special case.
func depthKey(d float32) uint32 {
	bits := math.Float32bits(d)
	if bits&0x80000000 != 0 {
		return ^bits
	}
	return bits | 0x80000000
}

// keyDepth inverts depthKey.
func keyDepth(k uint32) float32 {
	if k&0x80000000 != 0 {
		return math.Float32frombits(k &^ 0x80000000)
	}
	return math.Float32frombits(^k)
}

// keyExtractor projects positions onto the camera view axis, quantizes the
// signed distance into sortable keys and applies the frustum predicate.
// The key buffer is allocated once for a fixed element count and reused.
type keyExtractor struct {
	positions []mgl32.Vec3
	margin    float32
	disp      *dispatcher
	keys      []uint32
	visible   atomic.Uint32
}

func newKeyExtractor(positions []mgl32.Vec3, margin float32, disp *dispatcher) *keyExtractor {
	return &keyExtractor{
		positions: positions,
		margin:    margin,
		disp:      disp,
		keys:      make([]uint32, len(positions)),
	}
}

// extract fills the key buffer for the given camera and returns the number of
// elements passing the frustum predicate. Culled elements receive culledKey.
func (e *keyExtractor) extract(cam Camera) int {
	n := len(e.positions)
	if n == 0 {
		return 0
	}

	fr := extractFrustum(cam.ViewProjection())
	dir := cam.Direction()
	origin := cam.Position
	margin := e.margin

	e.visible.Store(0)
	parts := partitionCount(n, extractPartitionSize)
	e.disp.dispatch(parts, func(part int) {
		lo, hi := partitionBounds(part, extractPartitionSize, n)
		passed := uint32(0)
		for i := lo; i < hi; i++ {
			p := e.positions[i]
			if !fr.containsPoint(p, margin) {
				e.keys[i] = culledKey
				continue
			}
			d := p.Sub(origin).Dot(dir)
			e.keys[i] = depthKey(d)
			passed++
		}
		if passed > 0 {
			e.visible.Add(passed)
		}
	})

	return int(e.visible.Load())
}
