package gpalloc

import "io"

// Stats represents allocator stats.
type Stats struct {
	MappedBuffers    int    // Backing buffers currently mapped.
	ActiveBuffers    int    // Mapped buffers serving allocations.
	InUseBytes       uint64 // Bytes in allocated pooled blocks, including headers.
	FreeBytes        uint64 // Bytes in free pooled blocks, including headers.
	FreeBlocks       int    // Number of free pooled blocks.
	LargestFreeBlock uint64 // Length of the largest free pooled block.
	DirectBytes      int64  // Bytes in live direct allocations, including headers.

	Allocs           uint64 // Pooled allocations.
	Frees            uint64 // Pooled frees.
	DirectAllocs     uint64 // Allocations served directly by the operating system.
	DirectFrees      uint64 // Frees of direct allocations.
	Splits           uint64 // Free blocks split by an allocation.
	CoalesceForward  uint64 // Frees merged with the following block.
	CoalesceBackward uint64 // Frees merged into the preceding block.
	NewBuffers       uint64 // Buffer activations.
	TrimmedBytes     uint64 // Bytes released to the operating system by Trim.
}

// Stats returns a snapshot of the allocator stats.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		MappedBuffers:    len(a.buffers),
		ActiveBuffers:    a.bufferCount,
		DirectBytes:      a.direct.bytes.Load(),
		Allocs:           a.stats.allocs,
		Frees:            a.stats.frees,
		DirectAllocs:     a.direct.allocs.Load(),
		DirectFrees:      a.direct.frees.Load(),
		Splits:           a.stats.splits,
		CoalesceForward:  a.stats.coalesceForward,
		CoalesceBackward: a.stats.coalesceBackward,
		NewBuffers:       a.stats.newBuffers,
		TrimmedBytes:     a.stats.trimmedBytes,
	}
	for idx := range a.bufferCount {
		r := newBlockReader(a.bases[idx], a.bufferSize)
		for {
			_, h, err := r.Next()
			if err != nil {
				if err != io.EOF {
					a.logger.Error("cannot collect stats of corrupt buffer", "index", idx, "error", err)
				}
				break
			}
			switch {
			case h.isSentinel():
			case h.isAllocated():
				s.InUseBytes += h.length
			default:
				s.FreeBytes += h.length
				s.FreeBlocks++
				s.LargestFreeBlock = max(s.LargestFreeBlock, h.length)
			}
		}
	}
	return s
}
