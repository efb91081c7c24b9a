package utils

import (
	"sync/atomic"
)

// StopFlag is the cooperative cancellation flag shared by a run loop and its
// batch sub-tasks. It is checked at suspension points (between batches,
// between tiers); in-flight work is never aborted, only not re-issued.
type StopFlag struct {
	stopped atomic.Bool
}

func (f *StopFlag) Stop() {
	f.stopped.Store(true)
}

func (f *StopFlag) Stopped() bool {
	return f.stopped.Load()
}

func (f *StopFlag) Reset() {
	f.stopped.Store(false)
}

// Chunk splits items into consecutive batches of at most size elements.
// Order is preserved.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var batches [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
