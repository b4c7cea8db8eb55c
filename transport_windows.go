//go:build windows
// +build windows

package amio

import "golang.org/x/sys/windows"

// Setup marks nothing special on Windows: association with a completion
// port happens in CompletionPoller.Attach, not here. It exists so platform-
// agnostic callers can call t.Setup() unconditionally.
func (t *Transport) Setup() error { return nil }

func (t *Transport) closeHandle() error {
	if err := windows.CloseHandle(windows.Handle(t.fd)); err != nil {
		return NewSystemError(err)
	}
	return nil
}
