package splatsort

import (
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	radixPasses        = 4
	radixDigits        = 256
	radixPartitionSize = 1024
)

// radixEngine is a 4-pass least-significant-digit radix sort over 8-bit
// windows, parallelized per partition: every pass builds per-partition
// histograms (Upsweep), turns them into scatter bases with exclusive prefix
// sums (Scan) and scatters key+payload into the alternate buffer (Downsweep).
// Keys and payloads ping-pong between two named slots; an explicit current
// index is flipped after each pass instead of aliasing pointers.
type radixEngine struct {
	n     int
	parts int

	ex   *keyExtractor
	disp *dispatcher

	keys    [2][]uint32
	payload [2][]uint32
	current int

	partHist   []uint32 // parts x 256, rebuilt every pass
	partBase   []uint32 // parts x 256, exclusive within each digit column
	globalHist []uint32 // 256, atomic accumulation across partitions
	globalBase []uint32 // 256, exclusive scan of globalHist
}

func newRadixEngine(positions []mgl32.Vec3, margin float32, disp *dispatcher) *radixEngine {
	n := len(positions)
	parts := partitionCount(n, radixPartitionSize)
	r := &radixEngine{
		n:          n,
		parts:      parts,
		ex:         newKeyExtractor(positions, margin, disp),
		disp:       disp,
		partHist:   make([]uint32, parts*radixDigits),
		partBase:   make([]uint32, parts*radixDigits),
		globalHist: make([]uint32, radixDigits),
		globalBase: make([]uint32, radixDigits),
	}
	for slot := 0; slot < 2; slot++ {
		r.keys[slot] = make([]uint32, n)
		r.payload[slot] = make([]uint32, n)
	}
	return r
}

func (r *radixEngine) Name() string { return "radix" }

func (r *radixEngine) Sort(cam Camera, perm []uint32) (int, bool, error) {
	if r.n == 0 {
		return 0, true, nil
	}

	visible := r.ex.extract(cam)

	// Load keys and seed the payload with element indices.
	r.current = 0
	keys := r.keys[0]
	payload := r.payload[0]
	r.disp.dispatch(r.parts, func(part int) {
		lo, hi := partitionBounds(part, radixPartitionSize, r.n)
		for i := lo; i < hi; i++ {
			keys[i] = r.ex.keys[i]
			payload[i] = uint32(i)
		}
	})

	r.sortPasses(true)

	copy(perm, r.payload[r.current])
	return visible, true, nil
}

func (r *radixEngine) Close() error { return nil }

// sortPasses runs the four digit passes over the current buffer slot. With
// reverseFinal the last scatter writes dest -> N-1-dest, fusing the
// far-to-near reversal into the pass instead of spending a fifth one; without
// it the result is ascending by unsigned key.
func (r *radixEngine) sortPasses(reverseFinal bool) {
	for pass := 0; pass < radixPasses; pass++ {
		shift := uint(pass * 8)
		r.runPass(shift, reverseFinal && pass == radixPasses-1)
		r.current ^= 1
	}
}

func (r *radixEngine) runPass(shift uint, reverse bool) {
	src := r.keys[r.current]
	srcPayload := r.payload[r.current]
	dst := r.keys[r.current^1]
	dstPayload := r.payload[r.current^1]

	// Init: clear the global digit table.
	for d := range r.globalHist {
		r.globalHist[d] = 0
	}

	// Upsweep: per-partition histograms, accumulated into the global table
	// with atomic adds (partition completion order does not matter).
	r.disp.dispatch(r.parts, func(part int) {
		var counts [radixDigits]uint32
		lo, hi := partitionBounds(part, radixPartitionSize, r.n)
		for i := lo; i < hi; i++ {
			counts[(src[i]>>shift)&0xFF]++
		}
		base := part * radixDigits
		for d := 0; d < radixDigits; d++ {
			c := counts[d]
			r.partHist[base+d] = c
			if c > 0 {
				atomic.AddUint32(&r.globalHist[d], c)
			}
		}
	})

	// Scan: exclusive prefix per digit column across partitions, one
	// work-group per digit, plus a work-efficient scan of the global table.
	r.disp.dispatch(radixDigits, func(d int) {
		running := uint32(0)
		for p := 0; p < r.parts; p++ {
			r.partBase[p*radixDigits+d] = running
			running += r.partHist[p*radixDigits+d]
		}
	})
	copy(r.globalBase, r.globalHist)
	exclusiveScan(r.globalBase)

	// Downsweep: dest = globalBase[digit] + partitionBase[digit] + local rank.
	n := r.n
	r.disp.dispatch(r.parts, func(part int) {
		var rank [radixDigits]uint32
		base := part * radixDigits
		lo, hi := partitionBounds(part, radixPartitionSize, n)
		for i := lo; i < hi; i++ {
			d := (src[i] >> shift) & 0xFF
			dest := r.globalBase[d] + r.partBase[base+int(d)] + rank[d]
			rank[d]++
			if reverse {
				dest = uint32(n-1) - dest
			}
			dst[dest] = src[i]
			dstPayload[dest] = srcPayload[i]
		}
	})
}

// exclusiveScan computes an in-place exclusive prefix sum with the
// work-efficient two-sweep (Blelloch) schedule. len(a) must be a power of two.
func exclusiveScan(a []uint32) {
	n := len(a)
	for stride := 1; stride < n; stride <<= 1 {
		for i := stride*2 - 1; i < n; i += stride * 2 {
			a[i] += a[i-stride]
		}
	}
	a[n-1] = 0
	for stride := n / 2; stride > 0; stride >>= 1 {
		for i := stride*2 - 1; i < n; i += stride * 2 {
			t := a[i-stride]
			a[i-stride] = a[i]
			a[i] += t
		}
	}
}
