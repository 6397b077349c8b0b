package splatsort

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSorterOrdersFarToNear(t *testing.T) {
	cam := Camera{
		Position: mgl32.Vec3{0, 0, 0},
		LookAt:   mgl32.Vec3{0, 0, -1},
		Up:       mgl32.Vec3{0, 1, 0},
		Fov:      math.Pi / 3,
		Aspect:   1,
		Near:     0.1,
		Far:      100,
	}
	// View depths 5, -2, 10, 1.
	positions := []mgl32.Vec3{
		{0, 0, -5},
		{0, 0, 2},
		{0, 0, -10},
		{0, 0, -1},
	}

	for _, algo := range []Algorithm{AlgorithmBitonic, AlgorithmRadix, AlgorithmReference} {
		s, err := New(positions, Config{Algorithm: algo})
		require.NoError(t, err, "algorithm %s", algo)

		sorted := s.Update(cam)
		assert.True(t, sorted, "algorithm %s should sort on the first tick", algo)
		assert.Equal(t, []uint32{2, 0, 3, 1}, s.Permutation(), "algorithm %s", algo)
		assert.Equal(t, 3, s.VisibleCount(), "algorithm %s", algo)
		require.NoError(t, s.Close())
	}
}

func TestSorterPermutationIsBijection(t *testing.T) {
	cam := Camera{
		Position: mgl32.Vec3{2, 5, 28},
		LookAt:   mgl32.Vec3{0, 0, 0},
		Up:       mgl32.Vec3{0, 1, 0},
		Fov:      math.Pi / 3,
		Aspect:   16.0 / 9.0,
		Near:     0.1,
		Far:      200,
	}
	for _, n := range []int{1, 2, 255, 256, 257, 1000, 4096, 50000} {
		positions := spiralCloud(n)
		s, err := New(positions, Config{FrustumMargin: 0.5})
		require.NoError(t, err)

		s.Update(cam)
		perm := s.Permutation()
		require.Len(t, perm, n)
		seen := make([]bool, n)
		for _, p := range perm {
			require.Less(t, int(p), n)
			require.False(t, seen[p], "index %d duplicated at n=%d", p, n)
			seen[p] = true
		}
		assert.True(t, sortedByDepthFarFirst(cam, positions, perm, s.VisibleCount()),
			"visible prefix not far-to-near at n=%d", n)
		require.NoError(t, s.Close())
	}
}

func TestSorterEmpty(t *testing.T) {
	s, err := New(nil, Config{})
	require.NoError(t, err)
	s.Update(testCamera())
	assert.Empty(t, s.Permutation())
	assert.Equal(t, 0, s.VisibleCount())
	require.NoError(t, s.Close())
}

func TestSorterCountMismatch(t *testing.T) {
	_, err := New(make([]mgl32.Vec3, 5), Config{Count: 7})
	require.Error(t, err)
}

func TestSorterNoneSkipsSorting(t *testing.T) {
	positions := spiralCloud(100)
	s, err := New(positions, Config{Algorithm: AlgorithmNone})
	require.NoError(t, err)

	sorted := s.Update(testCamera())
	assert.False(t, sorted)
	// Identity permutation stays in place.
	for i, p := range s.Permutation() {
		require.Equal(t, uint32(i), p)
	}
	assert.Equal(t, len(positions), s.VisibleCount())
	require.NoError(t, s.Close())
}

func TestSorterSkipsStaticCamera(t *testing.T) {
	positions := spiralCloud(500)
	s, err := New(positions, Config{})
	require.NoError(t, err)
	defer s.Close()

	cam := testCamera()
	assert.True(t, s.Update(cam), "first tick sorts")
	assert.False(t, s.Update(cam), "identical camera skips")
	assert.False(t, s.Update(cam), "still skipping")

	cam.Position = cam.Position.Add(mgl32.Vec3{1, 0, 0})
	assert.True(t, s.Update(cam), "moved camera sorts again")
}

func TestSorterExternalEngineRunsFirst(t *testing.T) {
	positions := spiralCloud(64)
	ext := &stubEngine{name: "external", visible: 9}
	s, err := New(positions, Config{}, WithEngine(ext))
	require.NoError(t, err)
	defer s.Close()

	s.Update(testCamera())
	assert.Equal(t, 1, ext.calls)
	assert.Equal(t, 9, s.VisibleCount())
}

func TestSorterExternalEngineFallback(t *testing.T) {
	cam := Camera{
		Position: mgl32.Vec3{0, 0, 0},
		LookAt:   mgl32.Vec3{0, 0, -1},
		Up:       mgl32.Vec3{0, 1, 0},
		Fov:      math.Pi / 3,
		Aspect:   1,
		Near:     0.1,
		Far:      100,
	}
	positions := []mgl32.Vec3{{0, 0, -5}, {0, 0, -10}}
	broken := &stubEngine{name: "external", err: assert.AnError}
	s, err := New(positions, Config{}, WithEngine(broken))
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Update(cam), "fallback engine still sorts the tick")
	assert.True(t, broken.closed)
	assert.Equal(t, []uint32{1, 0}, s.Permutation())
}

func TestSorterIDUnique(t *testing.T) {
	a, err := New(nil, Config{})
	require.NoError(t, err)
	b, err := New(nil, Config{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}
