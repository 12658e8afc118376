//go:build windows

package instance

import "golang.org/x/sys/windows"

// processRunning reports whether pid names a live process, via the same
// OpenProcess probe the teacher's instance manager used.
func processRunning(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)
	return true
}
