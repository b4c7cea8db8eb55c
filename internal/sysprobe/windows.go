//go:build windows
// +build windows

package sysprobe

import (
	"sync"

	"golang.org/x/sys/windows"
)

// WindowsFeatures records which optional completion-port exports the
// running system provides. The core behaves correctly when any of these
// are absent; they only gate fast paths.
type WindowsFeatures struct {
	BatchedDequeue     bool // GetQueuedCompletionStatusEx
	SkipIOCPOnSuccess  bool // SetFileCompletionNotificationModes
	CancelIoEx         bool // CancelIoEx
}

var (
	featuresOnce sync.Once
	features     WindowsFeatures
)

// Features probes, once per process, which of the optional Windows
// completion-port exports are present.
func Features() WindowsFeatures {
	featuresOnce.Do(probeWindowsFeatures)
	return features
}

func probeWindowsFeatures() {
	kernel32 := windows.NewLazySystemDLL("kernel32.dll")
	features = WindowsFeatures{
		BatchedDequeue:    kernel32.NewProc("GetQueuedCompletionStatusEx").Find() == nil,
		SkipIOCPOnSuccess: kernel32.NewProc("SetFileCompletionNotificationModes").Find() == nil,
		CancelIoEx:        kernel32.NewProc("CancelIoEx").Find() == nil,
	}
}
