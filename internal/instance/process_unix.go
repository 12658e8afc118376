//go:build !windows

package instance

import "syscall"

// processRunning reports whether pid names a live process by sending the
// null signal, the standard POSIX liveness probe.
func processRunning(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}
