//go:build !linux

package internal

// pinThread is a no-op outside Linux.
func pinThread(cpu int) error { return nil }
