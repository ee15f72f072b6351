package mempool

import (
	"sync"
	"sync/atomic"
)

// Sized pools for the []float32 pixel storage of frame buffers. Frames of one
// video share a size, so a render loop settles on reusing the same few buffers.

// classStep is the size-class granularity in elements (256 KiB of float32).
const classStep = 64 * 1024

var (
	float32Pools sync.Map // key: size class (int), value: *sync.Pool

	gets   atomic.Uint64
	puts   atomic.Uint64
	allocs atomic.Uint64
)

// Stats is a snapshot of pool activity since process start.
type Stats struct {
	Gets   uint64 // buffers handed out
	Puts   uint64 // buffers returned
	Allocs uint64 // buffers that had to be freshly allocated
}

// ReadStats returns the current pool counters.
func ReadStats() Stats {
	return Stats{Gets: gets.Load(), Puts: puts.Load(), Allocs: allocs.Load()}
}

// sizeClass rounds n up to the next multiple of classStep.
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	r := (n + classStep - 1) / classStep
	return r * classStep
}

func poolFor(cls int) *sync.Pool {
	pAny, _ := float32Pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		allocs.Add(1)
		return make([]float32, cls)
	}})
	p, _ := pAny.(*sync.Pool)
	return p
}

// GetFloat32 retrieves a []float32 buffer of at least n elements from the pool.
// The returned slice has length n but may have larger capacity; its contents are
// whatever the previous user left. Return it with PutFloat32.
func GetFloat32(n int) []float32 {
	gets.Add(1)
	cls := sizeClass(n)
	p := poolFor(cls)
	if p == nil {
		allocs.Add(1)
		return make([]float32, cls)[:n]
	}
	buf, ok := p.Get().([]float32)
	if !ok || cap(buf) < cls {
		allocs.Add(1)
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// GetFloat32Zeroed is GetFloat32 with the first n elements cleared.
func GetFloat32Zeroed(n int) []float32 {
	buf := GetFloat32(n)
	clear(buf)
	return buf
}

// PutFloat32 returns a buffer to the pool. It is safe to pass a nil slice.
// Buffers smaller than the minimum class were not pool-allocated and are dropped.
func PutFloat32(buf []float32) {
	if cap(buf) < classStep {
		return
	}
	puts.Add(1)
	// Round down so that a buffer is never filed under a class it cannot hold.
	cls := (cap(buf) / classStep) * classStep
	p := poolFor(cls)
	if p == nil {
		return
	}
	p.Put(buf[:cap(buf)]) //nolint:staticcheck
}
