//go:build !linux

package inspect

// MonotonicNow returns nanoseconds on the runtime's monotonic clock,
// measured from process start.
func MonotonicNow() uint64 {
	return sinceStart()
}
