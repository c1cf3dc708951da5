// Package gpalloc implements a thread-safe general-purpose allocator for unmanaged memory.
//
// Memory is served from a bounded number of large backing buffers obtained from a
// [BufferPool]. Each buffer is partitioned into blocks, every block prefixed by a small
// header, and free blocks are kept on an intrusive singly-linked free list per buffer.
// Allocation is first-fit in buffer order, splitting blocks that have enough slack;
// freeing merges a block with its free physical neighbours. Requests too large for an
// empty buffer bypass pooling and are mapped directly from the operating system.
//
// Returned memory is not part of the Go heap and must not hold Go pointers.
package gpalloc

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/holmberd/go-gpalloc/internal/osmem"
	"github.com/holmberd/go-gpalloc/internal/spinlock"
)

// HeaderSize is the per-allocation overhead in bytes.
const HeaderSize = headerSize

var defaultBufferPool = NewMmapBufferPool(DefaultBufferPoolConfig())

// counters represents allocator counters guarded by the allocator lock.
type counters struct {
	allocs           uint64
	frees            uint64
	splits           uint64
	coalesceForward  uint64
	coalesceBackward uint64
	newBuffers       uint64
	trimmedBytes     uint64
}

// directCounters represents lock-free counters of the direct allocation path.
type directCounters struct {
	allocs atomic.Uint64
	frees  atomic.Uint64
	bytes  atomic.Int64 // Live bytes, including headers.
}

// Allocator is a general-purpose allocator of unmanaged memory.
// It is safe for concurrent use by multiple goroutines.
type Allocator struct {
	mu     spinlock.SpinLock // Guards buffers, free lists and all block headers.
	logger *slog.Logger
	pool   BufferPool
	seed   uint64 // Header canary seed.

	// buffers contains the mapped backing buffers; buffers[:bufferCount] are active.
	// Buffers past bufferCount were pre-mapped or deactivated by Reset and are
	// re-formatted when activated.
	buffers     [][]byte
	bases       []unsafe.Pointer // Start address of each buffer.
	freeHeads   []uint64         // Free-list head offset of each buffer.
	discarded   []bool           // Inactive buffers whose pages were released by Trim.
	bufferCount int

	maxBufferCount int
	bufferSize     uint64
	checkHeaders   bool
	closed         atomic.Bool
	warnedFull     bool
	stats          counters
	direct         directCounters
}

// New creates a new allocator with the default configuration.
func New() (*Allocator, error) {
	return Custom(DefaultConfig())
}

// Custom creates a new allocator with a custom configuration.
func Custom(config Config) (*Allocator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tableCap := min(config.MaxBufferCount, 64)
	a := &Allocator{
		logger:         logger,
		pool:           config.Pool,
		seed:           newSeed(),
		buffers:        make([][]byte, 0, tableCap),
		bases:          make([]unsafe.Pointer, 0, tableCap),
		freeHeads:      make([]uint64, 0, tableCap),
		discarded:      make([]bool, 0, tableCap),
		maxBufferCount: config.MaxBufferCount,
		bufferSize:     uint64(config.BufferSize),
		checkHeaders:   config.CheckHeaders,
	}
	runtime.SetFinalizer(a, func(a *Allocator) {
		if !a.closed.Load() {
			a.logger.Warn("allocator was garbage collected without Close; releasing buffers")
			a.Close()
		}
	})
	return a, nil
}

// Allocate returns a pointer to size bytes of uninitialized memory, aligned to 8 bytes.
// The memory must be released with Free on the same allocator.
// It panics if size is negative or the allocator is closed.
func (a *Allocator) Allocate(size int) unsafe.Pointer {
	if size < 0 || size > math.MaxInt-headerSize-blockAlign {
		panic(fmt.Sprintf("gpalloc: invalid allocation size %d", size))
	}
	if a.closed.Load() {
		panic(ErrClosed)
	}
	need := blockSize(size)
	if need+uint64(headerSize) > a.bufferSize {
		// The block and the end-of-buffer sentinel do not fit an empty buffer.
		return a.allocateDirect(size)
	}

	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		panic(ErrClosed)
	}
	p := a.findFreeBuffer(need)
	a.mu.Unlock()

	if p == nil {
		// All buffers are in use and full.
		return a.allocateDirect(size)
	}
	return p
}

// AllocateBytes is like Allocate but returns the memory as a byte slice of length size.
func (a *Allocator) AllocateBytes(size int) []byte {
	return unsafe.Slice((*byte)(a.Allocate(size)), size)
}

// Free releases memory returned by Allocate and sets *p to nil.
// It does nothing if p or *p is nil. Pooled memory freed after Close is ignored,
// since its buffer was already returned to the buffer pool.
//
// Freeing a pointer not returned by this allocator, or freeing it twice, corrupts the
// allocator unless Config.CheckHeaders is set, in which case Free panics.
func (a *Allocator) Free(p *unsafe.Pointer) {
	if p == nil || *p == nil {
		return
	}
	if a.checkHeaders {
		a.freeChecked(*p)
	} else {
		a.free(*p)
	}
	*p = nil
}

// FreeBytes releases a slice returned by AllocateBytes and sets *b to nil.
func (a *Allocator) FreeBytes(b *[]byte) {
	if b == nil || *b == nil {
		return
	}
	p := unsafe.Pointer(unsafe.SliceData(*b))
	a.Free(&p)
	*b = nil
}

// AllocateSlice returns a slice of n uninitialized elements of type T.
// T must not contain Go pointers and must not require more than 8-byte alignment.
func AllocateSlice[T any](a *Allocator, n int) []T {
	var zero T
	if unsafe.Alignof(zero) > blockAlign {
		panic(fmt.Sprintf("gpalloc: %T requires %d-byte alignment", zero, unsafe.Alignof(zero)))
	}
	elemSize := int(unsafe.Sizeof(zero))
	if n < 0 || (elemSize > 0 && n > math.MaxInt/elemSize) {
		panic(fmt.Sprintf("gpalloc: invalid slice length %d", n))
	}
	return unsafe.Slice((*T)(a.Allocate(elemSize*n)), n)
}

// FreeSlice releases a slice returned by AllocateSlice and sets *s to nil.
func FreeSlice[T any](a *Allocator, s *[]T) {
	if s == nil || *s == nil {
		return
	}
	p := unsafe.Pointer(unsafe.SliceData(*s))
	a.Free(&p)
	*s = nil
}

// Reset discards every pooled allocation at once.
//
// All pointers into pooled buffers are invalidated, including ones still held by
// callers. Buffers stay mapped and are reused as new allocations need them.
// Direct allocations are not affected.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bufferCount = 0
	for i := range a.freeHeads {
		a.freeHeads[i] = nilOffset
	}
}

// Reserve pre-maps backing buffers until at least n are mapped, bounded by the
// maximum buffer count. Pre-mapped buffers are activated as allocations need them.
func (a *Allocator) Reserve(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed.Load() {
		panic(ErrClosed)
	}
	n = min(n, a.maxBufferCount)
	for len(a.buffers) < n {
		a.mapBuffer()
	}
}

// Trim returns the physical pages backing free memory to the operating system
// without unmapping any buffer. Free blocks and inactive buffers already trimmed and
// unchanged since are skipped. It returns the number of bytes released.
func (a *Allocator) Trim() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	discard := func(b []byte) {
		n, err := osmem.Discard(b)
		if err != nil {
			a.logger.Error("failed to trim buffer memory", "error", err)
			return
		}
		total += n
	}
	for idx := range a.bufferCount {
		base := a.bases[idx]
		for off := a.freeHeads[idx]; off != nilOffset; off = blockAt(base, off).nextFree {
			h := blockAt(base, off)
			if h.isDiscarded() {
				continue
			}
			// Keep the header; it links the free list.
			discard(a.buffers[idx][off+uint64(headerSize) : off+h.length])
			h.markDiscarded()
		}
	}
	for idx := a.bufferCount; idx < len(a.buffers); idx++ {
		if a.discarded[idx] {
			continue
		}
		discard(a.buffers[idx])
		a.discarded[idx] = true
	}
	a.stats.trimmedBytes += uint64(total)
	return total
}

// Close returns all backing buffers to the buffer pool.
// Direct allocations still outstanding remain valid and can be freed.
// Calling Close more than once has no effect.
func (a *Allocator) Close() error {
	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		return nil
	}
	a.closed.Store(true)
	buffers := a.buffers
	a.buffers, a.bases, a.freeHeads, a.discarded = nil, nil, nil, nil
	a.bufferCount = 0
	a.mu.Unlock()

	runtime.SetFinalizer(a, nil)
	for _, b := range buffers {
		a.pool.Put(b)
	}
	a.logger.Debug("allocator closed", "buffers", len(buffers))
	return nil
}

func (a *Allocator) allocateDirect(size int) unsafe.Pointer {
	length := headerSize + size
	base, err := osmem.MapPointer(length)
	if err != nil {
		panic(errors.Wrapf(err, "gpalloc: direct allocation of %d bytes", size))
	}
	h := (*header)(base)
	h.markDirect()
	h.previous = nilOffset
	h.nextFree = nilOffset
	h.length = uint64(length)
	a.seal(h)

	a.direct.allocs.Add(1)
	a.direct.bytes.Add(int64(length))
	return payloadOf(h)
}

func (a *Allocator) freeDirect(h *header) {
	length := int(h.length)
	if err := osmem.UnmapPointer(unsafe.Pointer(h), length); err != nil {
		panic(errors.Wrapf(err, "gpalloc: direct free of %d bytes", length))
	}
	a.direct.frees.Add(1)
	a.direct.bytes.Add(-int64(length))
}

func (a *Allocator) free(ptr unsafe.Pointer) {
	h := headerOf(ptr)
	if h.isDirect() {
		a.freeDirect(h)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return
	}
	a.release(h.index(), h)
}

// freeChecked is like free but validates the block before releasing it.
func (a *Allocator) freeChecked(ptr unsafe.Pointer) {
	a.mu.Lock()
	idx, owned := a.owner(ptr)
	if !owned {
		closed := a.closed.Load()
		a.mu.Unlock()
		h := headerOf(ptr)
		if h.isDirect() && h.isAllocated() && a.sealed(h) {
			a.freeDirect(h)
			return
		}
		if closed {
			return
		}
		panic(errors.Wrapf(ErrForeignPointer, "free of %p", ptr))
	}
	defer a.mu.Unlock()

	h := headerOf(ptr)
	switch {
	case !h.isAllocated():
		panic(errors.Wrapf(ErrDoubleFree, "free of %p in buffer %d", ptr, idx))
	case h.isSentinel() || h.index() != idx || !a.sealed(h):
		panic(errors.Wrapf(ErrCorruptHeader, "free of %p in buffer %d", ptr, idx))
	}
	a.release(idx, h)
}

// owner returns the index of the active buffer containing the payload pointer.
// It assumes the caller holds the lock.
func (a *Allocator) owner(ptr unsafe.Pointer) (uint32, bool) {
	addr := uintptr(ptr)
	for idx := range a.bufferCount {
		start := uintptr(a.bases[idx])
		if addr >= start+uintptr(headerSize) && addr < start+uintptr(a.bufferSize) {
			return uint32(idx), true
		}
	}
	return 0, false
}

// mapBuffer maps one more backing buffer. It assumes the caller holds the lock.
func (a *Allocator) mapBuffer() {
	b := a.pool.Get(int(a.bufferSize))
	if uint64(len(b)) != a.bufferSize {
		panic(fmt.Errorf("gpalloc: buffer pool returned %d bytes, expected %d", len(b), a.bufferSize))
	}
	base := unsafe.Pointer(unsafe.SliceData(b))
	if uintptr(base)%blockAlign != 0 {
		panic(fmt.Errorf("gpalloc: buffer pool returned a buffer not aligned to %d bytes", blockAlign))
	}
	a.buffers = append(a.buffers, b)
	a.bases = append(a.bases, base)
	a.freeHeads = append(a.freeHeads, nilOffset)
	a.discarded = append(a.discarded, false)
}
