package splatsort

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Option configures a Sorter at construction.
type Option func(*Sorter)

// WithLogger injects a logger; the default discards everything.
func WithLogger(log Logger) Option {
	return func(s *Sorter) { s.log = log }
}

// WithEngine prepends an externally constructed engine (typically gpu.Engine)
// to the fallback chain. The engine must have been built for the same
// position slice.
func WithEngine(eng Engine) Option {
	return func(s *Sorter) { s.extra = append(s.extra, eng) }
}

// Sorter owns the permutation buffer and drives the scheduler. The position
// slice is read-only shared state: the caller keeps it alive and stable for
// the sorter's lifetime, and the sorter never reorders it; elements are only
// ever referenced through the permutation.
type Sorter struct {
	id  string
	log Logger
	cfg Config

	positions []mgl32.Vec3
	perm      []uint32
	visible   int
	tick      uint64

	sched  *scheduler
	future *visibleFuture
	extra  []Engine
}

// New builds a sorter for a fixed element count. Buffers for every engine in
// the chain are allocated here and reused on each invocation; changing the
// element count requires constructing a new sorter.
func New(positions []mgl32.Vec3, cfg Config, opts ...Option) (*Sorter, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Count != 0 && cfg.Count != len(positions) {
		return nil, fmt.Errorf("config count %d does not match %d positions", cfg.Count, len(positions))
	}

	s := &Sorter{
		id:        uuid.NewString(),
		log:       NewNopLogger(),
		cfg:       cfg,
		positions: positions,
		perm:      make([]uint32, len(positions)),
		visible:   len(positions),
		future:    &visibleFuture{},
	}
	for _, opt := range opts {
		opt(s)
	}

	// The permutation is well defined before the first sort.
	for i := range s.perm {
		s.perm[i] = uint32(i)
	}

	disp := newDispatcher(cfg.Workers)
	chain := append([]Engine(nil), s.extra...)
	switch cfg.Algorithm {
	case AlgorithmAuto, AlgorithmBitonic:
		chain = append(chain,
			newBitonicEngine(positions, cfg.FrustumMargin, disp),
			newRadixEngine(positions, cfg.FrustumMargin, disp),
			newReferenceEngine(positions),
		)
	case AlgorithmRadix:
		chain = append(chain,
			newRadixEngine(positions, cfg.FrustumMargin, disp),
			newReferenceEngine(positions),
		)
	case AlgorithmReference:
		chain = append(chain, newReferenceEngine(positions))
	case AlgorithmNone:
		// No sorting mode: the chain is never consulted.
	}
	chain = append(chain, &identityEngine{n: len(positions)})

	s.sched = newScheduler(s.log, cfg.Epsilon, cfg.Cadence, cfg.Algorithm == AlgorithmNone, chain, s.future, &s.tick)
	s.log.Debugf("sorter %s: %d elements, algorithm %s", s.id, len(positions), cfg.Algorithm)
	return s, nil
}

// Update runs one tick: decides whether to re-sort for the camera, runs the
// chain if so, and consumes any pending visible-count readback. It reports
// whether a sort actually happened; a skip is a valid outcome, not an error.
func (s *Sorter) Update(cam Camera) bool {
	s.tick++
	s.sched.advanceTick()

	sorted := false
	if s.sched.shouldSort(cam) {
		if eng := s.sched.run(cam, s.perm); eng != nil {
			s.log.Debugf("sorter %s: tick %d sorted via %s", s.id, s.tick, eng.Name())
			sorted = true
		}
	}

	if sample, ok := s.future.poll(); ok {
		s.visible = sample.count
	}
	return sorted
}

// Permutation returns the current draw order, farthest element first. The
// slice is owned by the sorter: read-only to the caller and rewritten by the
// next sort.
func (s *Sorter) Permutation() []uint32 {
	return s.perm
}

// VisibleCount tells the renderer how many leading permutation entries to
// draw. With an asynchronous engine the value can lag the permutation by a
// tick or more; before the first readback it defaults to the full element
// count.
func (s *Sorter) VisibleCount() int {
	return s.visible
}

// ID is a unique handle for this sorter instance, used in logs and GPU
// resource labels.
func (s *Sorter) ID() string { return s.id }

func (s *Sorter) Close() error {
	s.sched.close()
	return nil
}
