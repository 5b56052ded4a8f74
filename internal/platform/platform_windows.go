//go:build windows

// Package platform provides the per-thread platform initialization spec.md
// §4.C step 1 requires ("on Windows: apartment-threaded COM; elsewhere:
// no-op"). Each Instance's thread calls InitThread once, before touching
// its interpreter.
package platform

import "golang.org/x/sys/windows"

// InitThread initializes single-threaded apartment COM for the calling
// OS thread. The caller must already be locked to this OS thread (see
// runtime.LockOSThread in internal/instance) since COM apartment state is
// thread-local.
func InitThread() error {
	return windows.CoInitializeEx(0, windows.COINIT_APARTMENTTHREADED)
}

// CloseThread undoes InitThread, called once the Instance's thread is
// about to exit.
func CloseThread() {
	windows.CoUninitialize()
}
