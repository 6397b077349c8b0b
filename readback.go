package splatsort

import "sync/atomic"

// visibleSample is one completed visible-counter readback.
type visibleSample struct {
	count int
	tick  uint64
}

// visibleFuture hands the visible-element counter from an engine back to the
// scheduler without blocking either side. Engines publish with complete; the
// scheduler polls once per tick and keeps the previous value when nothing new
// arrived. Asynchronous engines publish the counter of a sort they issued at
// least one tick earlier, so consumers must tolerate a stale count.
type visibleFuture struct {
	latest atomic.Pointer[visibleSample]
}

func (f *visibleFuture) complete(count int, tick uint64) {
	f.latest.Store(&visibleSample{count: count, tick: tick})
}

// poll consumes the most recent sample, if any. A sample is delivered once.
func (f *visibleFuture) poll() (visibleSample, bool) {
	s := f.latest.Swap(nil)
	if s == nil {
		return visibleSample{}, false
	}
	return *s, true
}
