//go:build !windows

package preflight

import "golang.org/x/sys/unix"

// fileDescriptorLimit returns the soft RLIMIT_NOFILE.
func fileDescriptorLimit() (int, bool) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, false
	}
	if limit.Cur > 1<<30 {
		return 1 << 30, true
	}
	return int(limit.Cur), true
}
