package testutils

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

// MockBufferPool is a buffer pool backed by the Go heap.
// It keeps every buffer it hands out reachable until the buffer is returned.
type MockBufferPool struct {
	getCalls atomic.Int64
	putCalls atomic.Int64

	mu   sync.Mutex
	live map[unsafe.Pointer][]byte
}

func (p *MockBufferPool) Get(size int) []byte {
	p.getCalls.Add(1)
	b := make([]byte, size)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.live == nil {
		p.live = make(map[unsafe.Pointer][]byte)
	}
	p.live[unsafe.Pointer(unsafe.SliceData(b))] = b
	return b
}

func (p *MockBufferPool) Put(b []byte) {
	p.putCalls.Add(1)

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, unsafe.Pointer(unsafe.SliceData(b)))
}

func (p *MockBufferPool) GetCalls() int64 {
	return p.getCalls.Load()
}

func (p *MockBufferPool) PutCalls() int64 {
	return p.putCalls.Load()
}

func (p *MockBufferPool) BuffersInUse() int64 {
	return p.GetCalls() - p.PutCalls()
}

func (p *MockBufferPool) Reset() {
	p.getCalls.Store(0)
	p.putCalls.Store(0)
}
