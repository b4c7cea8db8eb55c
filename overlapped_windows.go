//go:build windows
// +build windows

package amio

import "golang.org/x/sys/windows"

// overlapped is the kernel's OVERLAPPED structure, embedded as IOContext's
// first field. Because it is first, a pointer to it (as returned by
// GetQueuedCompletionStatus/Ex) is also a valid pointer to the owning
// IOContext, recovered in completionpoller_windows.go via unsafe.Pointer.
type overlapped = windows.Overlapped
