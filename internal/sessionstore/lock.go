package sessionstore

import (
	"fmt"
	"os"
	"syscall"
)

// dirLock is an exclusive flock on the per-username lock file. It
// serializes session-store access across processes: two runs sharing a
// cookie directory for the same account would otherwise interleave
// cookie writes and corrupt each other's sessions.
type dirLock struct {
	path string
	file *os.File
}

// acquireLock takes a non-blocking exclusive lock, failing immediately
// when another process holds it.
func acquireLock(path string) (*dirLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, FilePerms)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("sessionstore: session %s is in use by another process", path)
	}

	// The PID makes "who holds this" answerable from a shell.
	if err := f.Truncate(0); err == nil {
		_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
		_ = f.Sync()
	}

	return &dirLock{path: path, file: f}, nil
}

// release drops the lock and removes the lock file. Safe to call once.
func (l *dirLock) release() error {
	if l.file == nil {
		return nil
	}

	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil

	return err
}
