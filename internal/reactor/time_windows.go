//go:build windows
// +build windows

package reactor

import "time"

func afterMS(ms int) <-chan time.Time {
	return time.After(time.Duration(ms) * time.Millisecond)
}
