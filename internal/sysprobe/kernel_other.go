//go:build !linux
// +build !linux

package sysprobe

// KernelVersion is only meaningful on Linux; elsewhere it reports zero so
// callers fall back to the conservative (unsupported) branch.
func KernelVersion() (major, minor, patch int) { return 0, 0, 0 }

// SupportsEPOLLRDHUP is always false off Linux: the flag doesn't exist.
func SupportsEPOLLRDHUP() bool { return false }
