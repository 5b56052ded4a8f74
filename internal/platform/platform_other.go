//go:build !windows

package platform

// InitThread is a no-op outside Windows (spec.md §4.C step 1).
func InitThread() error { return nil }

// CloseThread is a no-op outside Windows.
func CloseThread() {}
