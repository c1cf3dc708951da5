package gpalloc

import (
	"context"
	"fmt"
	"time"
)

// TrimWorkerConfig configures RunTrimWorker.
type TrimWorkerConfig struct {
	// Interval is how often the free share of the active buffers is checked.
	Interval time.Duration

	// FreeRatio is the share of free bytes in the active buffers above which
	// the allocator is trimmed, e.g. 0.3 trims once 30% of the space is free.
	FreeRatio float64
}

func DefaultTrimWorkerConfig() TrimWorkerConfig {
	return TrimWorkerConfig{
		Interval:  10 * time.Second,
		FreeRatio: 0.3,
	}
}

func (c TrimWorkerConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("invalid config: trim interval %s must be positive", c.Interval)
	}
	if c.FreeRatio < 0 || c.FreeRatio >= 1 {
		return fmt.Errorf("invalid config: free ratio %g must be in [0, 1)", c.FreeRatio)
	}
	return nil
}

// RunTrimWorker periodically returns free memory to the operating system when the
// free share of the active buffers exceeds the configured ratio. It blocks until ctx
// is done or the allocator is closed.
func (a *Allocator) RunTrimWorker(ctx context.Context, config TrimWorkerConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	ticker := time.NewTicker(config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if a.closed.Load() {
			return nil
		}

		s := a.Stats()
		total := s.InUseBytes + s.FreeBytes
		if total == 0 {
			continue
		}
		freeRatio := float64(s.FreeBytes) / float64(total)
		if freeRatio > config.FreeRatio {
			if n := a.Trim(); n > 0 {
				a.logger.Debug("trimmed free memory", "freeRatio", freeRatio, "bytes", n)
			}
		}
	}
}
