package splatsort

// Engine computes a far-to-near permutation for a fixed element count.
// Implementations own their working buffers for the lifetime of the engine;
// the permutation slice is the only externally visible output.
type Engine interface {
	Name() string
	// Sort fills perm (len N) with element indices in far-to-near order for
	// the given camera, and reports the visible-element count when a sample
	// is available: synchronous engines return this invocation's count,
	// asynchronous engines a prior one's (at least one tick stale) with
	// ok=false until the first readback lands. A returned error means the
	// engine produced nothing usable and the scheduler should fall back.
	Sort(cam Camera, perm []uint32) (visible int, ok bool, err error)
	Close() error
}

// identityEngine is the terminal fallback: a well-defined permutation always
// exists even when every real engine is unavailable. Blending order will be
// wrong, rendering still proceeds.
type identityEngine struct {
	n int
}

func (e *identityEngine) Name() string { return "identity" }

func (e *identityEngine) Sort(cam Camera, perm []uint32) (int, bool, error) {
	for i := range perm {
		perm[i] = uint32(i)
	}
	return e.n, true, nil
}

func (e *identityEngine) Close() error { return nil }
