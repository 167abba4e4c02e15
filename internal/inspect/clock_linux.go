//go:build linux

package inspect

import "golang.org/x/sys/unix"

// MonotonicNow returns CLOCK_MONOTONIC in nanoseconds.
func MonotonicNow() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return sinceStart()
	}
	return uint64(ts.Nano())
}
