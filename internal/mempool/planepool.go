// Package mempool pools the per-pixel working planes of image filters.
package mempool

import (
	"sync"
)

// sizeClass rounds n up to a multiple of 1024 so that images of similar
// size share buffers.
func sizeClass(n int) int {
	const step = 1024
	if n <= step {
		return step
	}
	return (n + step - 1) / step * step
}

// sizedPool keeps one sync.Pool per size class.
type sizedPool[T any] struct {
	pools sync.Map // key: size class (int), value: *sync.Pool
}

func (sp *sizedPool[T]) pool(cls int) *sync.Pool {
	pAny, _ := sp.pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return pAny.(*sync.Pool) //nolint:forcetypeassert
}

func (sp *sizedPool[T]) get(n int) []T {
	cls := sizeClass(n)
	bp, ok := sp.pool(cls).Get().(*[]T)
	if !ok || cap(*bp) < cls {
		return make([]T, cls)[:n]
	}
	return (*bp)[:n]
}

func (sp *sizedPool[T]) put(buf []T) {
	if cap(buf) < 1024 {
		return
	}
	// Only exact classes go back; anything else would be handed out short.
	cls := cap(buf)
	if sizeClass(cls) != cls {
		return
	}
	buf = buf[:cls]
	sp.pool(cls).Put(&buf)
}

var (
	uint8Pool   sizedPool[uint8]
	float64Pool sizedPool[float64]
)

// GetUint8 returns a []uint8 of length n. Contents are not zeroed.
// Return it with PutUint8.
func GetUint8(n int) []uint8 { return uint8Pool.get(n) }

// PutUint8 returns a buffer obtained from GetUint8. Nil is ignored.
func PutUint8(buf []uint8) { uint8Pool.put(buf) }

// GetFloat64 returns a []float64 of length n. Contents are not zeroed.
// Return it with PutFloat64.
func GetFloat64(n int) []float64 { return float64Pool.get(n) }

// PutFloat64 returns a buffer obtained from GetFloat64. Nil is ignored.
func PutFloat64(buf []float64) { float64Pool.put(buf) }
