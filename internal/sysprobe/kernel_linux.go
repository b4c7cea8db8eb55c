//go:build linux
// +build linux

// Package sysprobe holds the one-shot, process-global probes the reactor
// needs at startup: the Linux kernel version (to decide whether EPOLLRDHUP
// is safe to request) and, on Windows, which optional kernel exports are
// present. Results are computed once, on first use, through a sync.Once and
// cached.
package sysprobe

import (
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	kernelOnce             sync.Once
	kernelMajor, kernelMinor, kernelPatch int
)

// KernelVersion returns the running kernel's (major, minor, patch), probed
// once via uname(2). Unparseable release strings report (0, 0, 0), which
// callers treat as "assume unsupported".
func KernelVersion() (major, minor, patch int) {
	kernelOnce.Do(probeKernelVersion)
	return kernelMajor, kernelMinor, kernelPatch
}

func probeKernelVersion() {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return
	}
	release := charsToString(uts.Release[:])
	// Release looks like "5.15.0-91-generic"; only the dotted prefix matters.
	fields := strings.FieldsFunc(release, func(r rune) bool {
		return r == '.' || r == '-'
	})
	parse := func(i int) int {
		if i >= len(fields) {
			return 0
		}
		n, err := strconv.Atoi(fields[i])
		if err != nil {
			return 0
		}
		return n
	}
	kernelMajor, kernelMinor, kernelPatch = parse(0), parse(1), parse(2)
}

func charsToString(c []byte) string {
	n := 0
	for n < len(c) && c[n] != 0 {
		n++
	}
	return string(c[:n])
}

// SupportsEPOLLRDHUP reports whether the running kernel is new enough
// (>= 2.6.17) to support EPOLLRDHUP, which lets epoll distinguish a
// half-closed peer from plain readability without an extra read().
func SupportsEPOLLRDHUP() bool {
	major, minor, patch := KernelVersion()
	switch {
	case major > 2:
		return true
	case major < 2:
		return false
	case minor > 6:
		return true
	case minor < 6:
		return false
	default: // major == 2, minor == 6
		return patch >= 17
	}
}
