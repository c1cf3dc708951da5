package gpalloc

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/holmberd/go-gpalloc/internal/osmem"
)

// BufferPool defines the contract for a source of fixed-size backing buffers.
type BufferPool interface {
	Get(size int) []byte // Get retrieves a buffer of exactly size bytes.
	Put(b []byte)        // Put returns a buffer obtained from Get.
}

type BufferPoolConfig struct {
	// Number of free buffers for each buffer size the pool can hold before starting
	// to release memory. Zero releases every returned buffer immediately.
	FreeThreshold int

	Logger *slog.Logger
}

func DefaultBufferPoolConfig() BufferPoolConfig {
	return BufferPoolConfig{}
}

// MmapBufferPool is a thread-safe pool of off-heap memory buffers.
// Buffers of different sizes are kept on separate free lists.
type MmapBufferPool struct {
	mu     sync.Mutex
	logger *slog.Logger
	free   map[int][][]byte

	// freeThreshold represents the number of free buffers for each size the pool
	// can hold before starting to release memory.
	freeThreshold int
}

// NewMmapBufferPool creates a new, empty buffer pool.
func NewMmapBufferPool(config BufferPoolConfig) *MmapBufferPool {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MmapBufferPool{
		logger:        logger,
		free:          make(map[int][][]byte),
		freeThreshold: max(config.FreeThreshold, 0),
	}
}

// Get retrieves a buffer of the specified size, mapping a new one if none is free.
// It panics if the operating system cannot provide the memory.
func (p *MmapBufferPool) Get(size int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.free[size]
	if len(list) == 0 {
		p.alloc(size, 1)
		list = p.free[size]
	}
	n := len(list) - 1
	b := list[n]
	list[n] = nil
	p.free[size] = list[:n]
	return b
}

// Put returns a buffer to the pool.
// It does nothing if the buffer is nil.
func (p *MmapBufferPool) Put(b []byte) {
	if b == nil {
		return
	}
	b = b[:cap(b)] // Ensure the buffer is reset to its full capacity before returning.
	size := len(b)

	p.mu.Lock()
	list, toUnmap := releaseBuffers(append(p.free[size], b), p.freeThreshold)
	p.free[size] = list
	p.mu.Unlock()

	// Perform unmap outside of the lock to avoid blocking other operations.
	for _, buf := range toUnmap {
		p.unmap(buf)
	}
}

// Allocate ensures that at least numBuffers are available in the pool for the
// specified size. This is useful for pre-warming a pool to a specific capacity.
func (p *MmapBufferPool) Allocate(size int, numBuffers int) {
	if numBuffers <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := numBuffers - len(p.free[size]); n > 0 {
		p.alloc(size, n)
	}
}

// Close releases every free buffer held by the pool.
func (p *MmapBufferPool) Close() {
	p.mu.Lock()
	free := p.free
	p.free = make(map[int][][]byte)
	p.mu.Unlock()

	for _, list := range free {
		for _, buf := range list {
			p.unmap(buf)
		}
	}
}

// unmap releases the memory of a buffer back to the operating system.
func (p *MmapBufferPool) unmap(b []byte) {
	if err := osmem.Unmap(b); err != nil {
		p.logger.Error("failed to unmap buffer", "size", len(b), "error", err)
	}
}

// alloc maps numBuffers buffers of the given size and appends them to the free list.
// It assumes the caller holds the mutex.
func (p *MmapBufferPool) alloc(size int, numBuffers int) {
	for range numBuffers {
		b, err := osmem.Map(size)
		if err != nil {
			panic(fmt.Errorf("cannot allocate buffer of %d bytes: %w", size, err))
		}
		p.free[size] = append(p.free[size], b)
	}
}

// numFree returns the number of available buffers for a given size.
// It is primarily intended as helper method in tests.
func (p *MmapBufferPool) numFree(size int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free[size])
}

// releaseBuffers is a generic helper that trims the free list if it exceeds the given threshold.
// It returns the updated list and a list of any buffers that were removed and should be unmapped.
func releaseBuffers[P any](freeList []P, threshold int) (newList []P, toUnmap []P) {
	if len(freeList) <= threshold {
		return freeList, nil
	}
	if threshold == 0 {
		return freeList[:0:0], freeList
	}
	// Release half of the free buffers to prevent thrashing around the threshold.
	freeCount := len(freeList) / 2
	toUnmap = freeList[:freeCount]
	newList = freeList[freeCount:]
	return newList, toUnmap
}
