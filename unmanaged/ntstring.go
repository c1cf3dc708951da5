package unmanaged

import (
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding/unicode"
)

// sizePrefix is the size of the allocation length stored before a NUL-terminated string.
const sizePrefix = 4

// AllocateNtString copies s into unmanaged memory as a NUL-terminated UTF-8 string and
// returns a pointer to its first byte. The allocation size is stored in the four bytes
// preceding the pointer, so the string is released with FreeNtString alone.
func AllocateNtString(s string) *byte {
	total := sizePrefix + len(s) + 1
	base := Alloc(total)
	b := unsafe.Slice((*byte)(base), total)
	*(*uint32)(base) = uint32(total)
	copy(b[sizePrefix:], s)
	b[total-1] = 0
	return &b[sizePrefix]
}

// AllocateNtStringUTF16 is like AllocateNtString but converts little-endian UTF-16
// code units to UTF-8. Unpaired surrogates are replaced by U+FFFD.
func AllocateNtStringUTF16(u []uint16) (*byte, error) {
	raw := make([]byte, 2*len(u))
	for i, c := range u {
		binary.LittleEndian.PutUint16(raw[2*i:], c)
	}
	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "unmanaged: cannot decode UTF-16 string")
	}
	return AllocateNtString(string(decoded)), nil
}

// FreeNtString releases a string returned by AllocateNtString or
// AllocateNtStringUTF16 and sets *p to nil.
func FreeNtString(p **byte) {
	if p == nil || *p == nil {
		return
	}
	base := unsafe.Add(unsafe.Pointer(*p), -sizePrefix)
	release(base, int(*(*uint32)(base)))
	*p = nil
}

// NtString returns a copy of the NUL-terminated string at p.
func NtString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}
