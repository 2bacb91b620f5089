package fileutil

import (
	"context"
	"os"
	"time"
)

// IsRegularFile reports whether path exists and is a regular file.
func IsRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsExecutable reports whether path is a regular file with an execute bit.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// WaitForFile polls until path is a regular file or timeout elapses. The
// first check happens immediately. A zero timeout checks once.
func WaitForFile(ctx context.Context, path string, timeout, poll time.Duration) bool {
	if IsRegularFile(path) {
		return true
	}
	if timeout <= 0 {
		return false
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return IsRegularFile(path)
		case <-ticker.C:
			if IsRegularFile(path) {
				return true
			}
		}
	}
}
