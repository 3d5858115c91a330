//go:build !windows

package scheduler

import (
	"os"
	"strconv"
	"syscall"
)

// FileLock is a non-blocking process lock using flock(2). The holder writes
// its pid into the file.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a FileLock for the given path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if another process holds it.
func (l *FileLock) TryLock() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return false, err
	}

	err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}
	l.file = f
	return true, nil
}

// Unlock releases the lock and removes the lock file.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		return err
	}
	name := l.file.Name()
	l.file.Close()
	l.file = nil
	os.Remove(name)
	return nil
}
