//go:build !windows
// +build !windows

package amio

// overlapped is unused outside Windows; IOContext still carries the field
// so the type is portable, but only the Windows completion poller reads it.
type overlapped struct{}
