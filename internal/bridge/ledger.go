package bridge

import (
	"sync"
	"unsafe"

	"llamabridge/internal/metrics"
)

// Allocator produces and frees NUL-terminated strings outside the Go heap.
// The cgo surface plugs in C.CString and C.free.
type Allocator interface {
	CString(s string) unsafe.Pointer
	Free(p unsafe.Pointer)
}

// Ledger tracks every string handed across the boundary. Ownership moves to
// the caller on Put and comes back exactly once through Release; pointers the
// ledger never issued, or already took back, are refused instead of freed.
type Ledger struct {
	mu      sync.Mutex
	alloc   Allocator
	live    map[unsafe.Pointer]struct{}
	metrics *metrics.Metrics
}

func NewLedger(alloc Allocator, m *metrics.Metrics) *Ledger {
	return &Ledger{alloc: alloc, live: make(map[unsafe.Pointer]struct{}), metrics: m}
}

// Put allocates a copy of s and records it as caller-owned.
func (l *Ledger) Put(s string) unsafe.Pointer {
	p := l.alloc.CString(s)
	l.mu.Lock()
	l.live[p] = struct{}{}
	n := len(l.live)
	l.mu.Unlock()
	l.metrics.SetOutstandingBuffers(n)
	return p
}

// Release frees p if it is a live buffer issued by Put. It reports false for
// nil, foreign and already released pointers, which are left alone.
func (l *Ledger) Release(p unsafe.Pointer) bool {
	if p == nil {
		return false
	}
	l.mu.Lock()
	_, ok := l.live[p]
	if ok {
		delete(l.live, p)
	}
	n := len(l.live)
	l.mu.Unlock()
	if !ok {
		return false
	}
	l.alloc.Free(p)
	l.metrics.SetOutstandingBuffers(n)
	return true
}

// Outstanding returns the number of buffers the caller has not yet released.
func (l *Ledger) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}
