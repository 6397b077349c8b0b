package splatsort

import (
	"math"
	"sort"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestDepthKeyOrdering(t *testing.T) {
	// Unsigned key order must match float order across the sign boundary.
	dists := []float32{-100.5, -2, -0.25, 0, 0.25, 1, 2, 300000, float32(math.Inf(1))}
	for i := 1; i < len(dists); i++ {
		lo := depthKey(dists[i-1])
		hi := depthKey(dists[i])
		if lo >= hi {
			t.Errorf("depthKey(%v)=%#x not below depthKey(%v)=%#x", dists[i-1], lo, dists[i], hi)
		}
	}
}

func TestDepthKeyRoundTrip(t *testing.T) {
	for _, d := range []float32{-42.5, -1, 0, 1e-6, 3.25, 1e9} {
		if got := keyDepth(depthKey(d)); got != d {
			t.Errorf("roundtrip %v -> %v", d, got)
		}
	}
}

func TestDepthKeyAboveCulled(t *testing.T) {
	// Every real depth must sort above the culled sentinel, including points
	// far behind the camera.
	if depthKey(float32(math.Inf(-1))) <= culledKey {
		t.Errorf("-inf key %#x does not exceed culled key", depthKey(float32(math.Inf(-1))))
	}
}

func TestKeyExtractor(t *testing.T) {
	cam := Camera{
		Position: mgl32.Vec3{0, 0, 0},
		LookAt:   mgl32.Vec3{0, 0, -1},
		Up:       mgl32.Vec3{0, 1, 0},
		Fov:      math.Pi / 3,
		Aspect:   1,
		Near:     0.1,
		Far:      100,
	}
	positions := []mgl32.Vec3{
		{0, 0, -5},
		{0, 0, 2}, // behind the camera
		{0, 0, -10},
		{0, 0, -1},
	}

	ex := newKeyExtractor(positions, 0, newDispatcher(1))
	visible := ex.extract(cam)
	if visible != 3 {
		t.Fatalf("visible = %d, want 3", visible)
	}
	if ex.keys[1] != culledKey {
		t.Errorf("behind-camera element key = %#x, want culled", ex.keys[1])
	}
	// Keys of surviving elements order by distance.
	if !(ex.keys[2] > ex.keys[0] && ex.keys[0] > ex.keys[3]) {
		t.Errorf("key order wrong: %#x %#x %#x", ex.keys[2], ex.keys[0], ex.keys[3])
	}
}

func TestKeyExtractorParallelMatchesSerial(t *testing.T) {
	cam := Camera{
		Position: mgl32.Vec3{0, 2, 20},
		LookAt:   mgl32.Vec3{0, 0, 0},
		Up:       mgl32.Vec3{0, 1, 0},
		Fov:      math.Pi / 3,
		Aspect:   16.0 / 9.0,
		Near:     0.1,
		Far:      200,
	}
	positions := spiralCloud(10000)

	serial := newKeyExtractor(positions, 0.5, newDispatcher(1))
	parallel := newKeyExtractor(positions, 0.5, newDispatcher(8))
	v1 := serial.extract(cam)
	v2 := parallel.extract(cam)
	if v1 != v2 {
		t.Fatalf("visible mismatch: serial %d, parallel %d", v1, v2)
	}
	for i := range serial.keys {
		if serial.keys[i] != parallel.keys[i] {
			t.Fatalf("key %d mismatch: %#x vs %#x", i, serial.keys[i], parallel.keys[i])
		}
	}
}

// spiralCloud is a deterministic point cloud spread around the origin; some
// points land outside any reasonable frustum so culling paths get exercised.
func spiralCloud(n int) []mgl32.Vec3 {
	points := make([]mgl32.Vec3, n)
	for i := range points {
		a := float64(i) * 0.61803398875 * 2 * math.Pi
		r := 15 * math.Sqrt(float64(i)/float64(n))
		points[i] = mgl32.Vec3{
			float32(r * math.Cos(a)),
			float32(float64(i%17) - 8),
			float32(r * math.Sin(a)),
		}
	}
	return points
}

// sortedByDepthFarFirst reports whether perm orders the visible prefix by
// non-increasing view depth.
func sortedByDepthFarFirst(cam Camera, positions []mgl32.Vec3, perm []uint32, visible int) bool {
	dir := cam.Direction()
	return sort.SliceIsSorted(perm[:visible], func(a, b int) bool {
		da := positions[perm[a]].Sub(cam.Position).Dot(dir)
		db := positions[perm[b]].Sub(cam.Position).Dot(dir)
		return da > db
	})
}
