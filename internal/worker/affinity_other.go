//go:build !linux

package worker

// pinThread is a no-op off Linux; there is no portable thread affinity.
func pinThread(int) {}
