package gpalloc

import (
	"errors"
	"fmt"
	"log/slog"
)

const (
	KiB = 1024
	MiB = KiB * KiB

	DefaultBufferSize     = 64 * MiB
	DefaultMaxBufferCount = 255
)

// minBufferSize fits one allocated block, one free block and the sentinel.
const minBufferSize = 4 * headerSize

type Config struct {
	// MaxBufferCount is the maximum number of backing buffers the allocator can own.
	// Requests that cannot be served once all buffers are in use fall back to direct
	// allocation from the operating system.
	MaxBufferCount int

	// BufferSize is the size of each backing buffer in bytes. Requests whose block
	// does not fit an empty buffer are allocated directly from the operating system.
	BufferSize int

	// Pool provides the backing buffers. Defaults to a shared mmap pool that
	// releases buffers back to the operating system as soon as they are returned.
	Pool BufferPool

	Logger *slog.Logger

	// CheckHeaders enables validation of block headers on Free. Misuse such as
	// double frees or foreign pointers panics instead of corrupting the heap.
	CheckHeaders bool
}

func (c Config) Validate() error {
	var errs []error
	if c.MaxBufferCount < 1 || c.MaxBufferCount > MaxBufferCount {
		errs = append(
			errs,
			fmt.Errorf("invalid config: max buffer count %d must be between 1 and %d", c.MaxBufferCount, MaxBufferCount),
		)
	}
	if c.BufferSize < minBufferSize {
		errs = append(
			errs,
			fmt.Errorf("invalid config: buffer size %d must be at least %d bytes", c.BufferSize, minBufferSize),
		)
	} else if c.BufferSize%blockAlign != 0 {
		errs = append(
			errs,
			fmt.Errorf("invalid config: buffer size %d must be a multiple of %d", c.BufferSize, blockAlign),
		)
	}
	if c.Pool == nil {
		errs = append(errs, errors.New("invalid config: buffer pool must not be nil"))
	}
	return errors.Join(errs...)
}

func DefaultConfig() Config {
	return Config{
		MaxBufferCount: DefaultMaxBufferCount,
		BufferSize:     DefaultBufferSize,
		Pool:           defaultBufferPool,
		Logger:         slog.Default(),
	}
}
