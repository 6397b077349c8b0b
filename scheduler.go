package splatsort

import (
	"github.com/go-gl/mathgl/mgl32"
)

// scheduler decides per tick whether a re-sort is worth doing and which
// engine runs it. The last camera sample lives on the instance, never in
// package state. There is no failure terminal: a misbehaving engine is
// demoted out of the chain and the next one runs, down to the identity
// permutation.
type scheduler struct {
	log     Logger
	epsilon float32
	cadence int
	noSort  bool

	engines []Engine
	future  *visibleFuture
	tick    *uint64

	lastPos       mgl32.Vec3
	lastDir       mgl32.Vec3
	hasLast       bool
	sinceEligible int
}

func newScheduler(log Logger, epsilon float32, cadence int, noSort bool, engines []Engine, future *visibleFuture, tick *uint64) *scheduler {
	if cadence < 1 {
		cadence = 1
	}
	return &scheduler{
		log:           log,
		epsilon:       epsilon,
		cadence:       cadence,
		noSort:        noSort,
		engines:       engines,
		future:        future,
		tick:          tick,
		sinceEligible: cadence, // first tick is eligible
	}
}

// shouldSort applies the movement epsilon and the cadence gate. A skipped
// sort is a valid outcome: the previous permutation stays in place.
func (s *scheduler) shouldSort(cam Camera) bool {
	if s.noSort {
		return false
	}

	dir := cam.Direction()
	if dir.LenSqr() == 0 {
		// Degenerate view axis, treat as no movement.
		return false
	}

	if s.sinceEligible < s.cadence {
		return false
	}

	if s.hasLast {
		posDelta := cam.Position.Sub(s.lastPos).Len()
		dirDelta := dir.Sub(s.lastDir).Len()
		if posDelta < s.epsilon && dirDelta < s.epsilon {
			return false
		}
	}
	return true
}

// run executes the first engine in the chain that succeeds and records the
// camera sample the sort was computed for. Engines that error are demoted
// permanently; the identity engine at the end of the chain cannot fail.
func (s *scheduler) run(cam Camera, perm []uint32) Engine {
	for len(s.engines) > 0 {
		eng := s.engines[0]
		visible, ok, err := eng.Sort(cam, perm)
		if err != nil {
			s.log.Warnf("engine %s unavailable, falling back: %v", eng.Name(), err)
			_ = eng.Close()
			s.engines = s.engines[1:]
			continue
		}
		if ok {
			s.future.complete(visible, *s.tick)
		}
		s.lastPos = cam.Position
		s.lastDir = cam.Direction()
		s.hasLast = true
		s.sinceEligible = 0
		return eng
	}
	return nil
}

func (s *scheduler) advanceTick() {
	if s.sinceEligible < s.cadence {
		s.sinceEligible++
	}
}

func (s *scheduler) close() {
	for _, eng := range s.engines {
		_ = eng.Close()
	}
	s.engines = nil
}
