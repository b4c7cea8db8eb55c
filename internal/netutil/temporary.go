//go:build dragonfly || freebsd || illumos || linux || netbsd || openbsd || darwin
// +build dragonfly freebsd illumos linux netbsd openbsd darwin

package netutil

import "golang.org/x/sys/unix"

// IsTemporary reports whether err from Accept is transient and the caller
// should simply stop accepting for now rather than treat the listener as
// broken. Mirrors the Temporary() classification a net.Error wrapper
// around Accept would use.
func IsTemporary(err error) bool {
	switch err {
	case unix.EAGAIN, unix.ECONNRESET, unix.ECONNABORTED, unix.EINTR:
		return true
	default:
		return false
	}
}
