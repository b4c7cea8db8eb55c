//go:build linux
// +build linux

package reactor

// New creates the readiness Backend native to the running OS.
func New() (Backend, error) { return NewEpoll() }
