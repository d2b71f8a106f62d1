//go:build !unix

package tier

import (
	"os"
	"sync"
)

// Platforms without flock fall back to an in-process lock per path. This
// serializes goroutines but not separate processes sharing the directory.
var pathLocks sync.Map

func lockFile(file *os.File) error {
	mu, _ := pathLocks.LoadOrStore(file.Name(), &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return nil
}

func unlockFile(file *os.File) error {
	if mu, ok := pathLocks.Load(file.Name()); ok {
		mu.(*sync.Mutex).Unlock()
	}
	return nil
}
