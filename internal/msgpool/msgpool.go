// Package msgpool pools the byte buffers backing socket message
// payloads, the same size-bucketed sync.Pool trick the teacher's
// internal/queue.BufferPool uses for I/O buffers, adapted from
// variable-size block I/O down to the much smaller, much hotter
// control/data message payloads a socket moves.
package msgpool

import "sync"

// Bucket sizes. Control messages (connect, remote-closed) fit the
// smallest bucket; bucket4k covers the largest data payload a single
// message may carry.
const (
	bucket256 = 256
	bucket1k  = 1024
	bucket4k  = 4096
)

var pools = struct {
	p256, p1k, p4k sync.Pool
}{
	p256: sync.Pool{New: func() any { b := make([]byte, bucket256); return &b }},
	p1k:  sync.Pool{New: func() any { b := make([]byte, bucket1k); return &b }},
	p4k:  sync.Pool{New: func() any { b := make([]byte, bucket4k); return &b }},
}

// Get returns a pooled buffer of at least size bytes, truncated to
// size. Callers own the buffer until they call Put.
func Get(size int) []byte {
	switch {
	case size <= bucket256:
		return (*pools.p256.Get().(*[]byte))[:size]
	case size <= bucket1k:
		return (*pools.p1k.Get().(*[]byte))[:size]
	case size <= bucket4k:
		return (*pools.p4k.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns buf to the pool matching its capacity. A buffer whose
// capacity does not match a bucket exactly (e.g. one Get never
// allocated from a pool) is simply dropped for the GC to reclaim.
func Put(buf []byte) {
	switch cap(buf) {
	case bucket256:
		b := buf[:bucket256]
		pools.p256.Put(&b)
	case bucket1k:
		b := buf[:bucket1k]
		pools.p1k.Put(&b)
	case bucket4k:
		b := buf[:bucket4k]
		pools.p4k.Put(&b)
	}
}
