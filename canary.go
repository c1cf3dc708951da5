package gpalloc

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

var allocatorSeq atomic.Uint64

// newSeed returns a seed that differs between allocator instances, so a header
// written by one allocator does not validate in another.
func newSeed() uint64 {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:], allocatorSeq.Add(1))
	binary.LittleEndian.PutUint64(b[8:], uint64(time.Now().UnixNano()))
	return xxhash.Sum64(b[:])
}

// canary returns the check word of an allocated block header.
func canary(seed uint64, bufferIndex uint32, length uint64) uint32 {
	var b [20]byte
	binary.LittleEndian.PutUint64(b[0:], seed)
	binary.LittleEndian.PutUint32(b[8:], bufferIndex)
	binary.LittleEndian.PutUint64(b[12:], length)
	return uint32(xxhash.Sum64(b[:]))
}

// seal writes the check word of an allocated block. It does nothing unless headers
// are checked.
func (a *Allocator) seal(h *header) {
	if !a.checkHeaders {
		return
	}
	h.canary = canary(a.seed, h.bufferIndex, h.length)
}

// sealed reports whether the block's check word matches its header.
func (a *Allocator) sealed(h *header) bool {
	return h.canary == canary(a.seed, h.bufferIndex, h.length)
}
