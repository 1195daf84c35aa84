//go:build !unix

package singleton

type fileLock struct {
	path string
}

func (fl *fileLock) lock() error   { return nil }
func (fl *fileLock) unlock() error { return nil }

// processAlive cannot probe other processes here, so liveness falls back to
// the heartbeat alone.
func processAlive(pid int) bool { return pid > 0 }
