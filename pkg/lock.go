package pkg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	// LockDir is the directory where ibuild's advisory lock file lives.
	LockDir = "/var/run/ibuild"
	// BootstrapLockFile guards a single `ibuild bootstrap` invocation per host.
	BootstrapLockFile = "bootstrap.lock"
)

// ErrLockHeld is returned when a lock cannot be acquired because another
// process holds it.
var ErrLockHeld = errors.New("lock held by another process")

// FileLock represents a file-based lock using flock. This is a host-local
// convenience guarding two CLI invocations from racing each other; it has
// no bearing on the orchestrator's own safety contract, which assumes
// exclusive access to the target device is the caller's responsibility.
type FileLock struct {
	file *os.File
	path string
}

// BootstrapLockPath returns the full path to the bootstrap lock file.
func BootstrapLockPath() string {
	return filepath.Join(LockDir, BootstrapLockFile)
}

func ensureLockDir() error {
	if err := os.MkdirAll(LockDir, 0755); err != nil {
		return fmt.Errorf("failed to create lock directory %s: %w", LockDir, err)
	}
	return nil
}

// AcquireExclusive acquires an exclusive (write) lock on the given path.
// Returns ErrLockHeld if the lock is already held by another process.
func AcquireExclusive(lockPath string) (*FileLock, error) {
	return acquireLock(lockPath, syscall.LOCK_EX, false)
}

// AcquireShared acquires a shared (read) lock on the given path. Multiple
// processes can hold shared locks simultaneously.
func AcquireShared(lockPath string) (*FileLock, error) {
	return acquireLock(lockPath, syscall.LOCK_SH, false)
}

func acquireLock(lockPath string, lockType int, ensureDir bool) (*FileLock, error) {
	if ensureDir {
		if err := ensureLockDir(); err != nil {
			return nil, err
		}
	} else {
		dir := filepath.Dir(lockPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), lockType|syscall.LOCK_NB); err != nil {
		_ = file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("failed to acquire lock on %s: %w", lockPath, err)
	}

	return &FileLock{file: file, path: lockPath}, nil
}

// Release releases the lock and closes the underlying file. Safe to call
// multiple times, and safe to call on a nil *FileLock.
func (l *FileLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path of the lock file.
func (l *FileLock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// AcquireBootstrapLock acquires an exclusive lock guarding a single
// `ibuild bootstrap` invocation on this host at a time. It does not
// coordinate across hosts, and does not protect the target device itself.
func AcquireBootstrapLock() (*FileLock, error) {
	lock, err := acquireLock(BootstrapLockPath(), syscall.LOCK_EX, true)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			return nil, fmt.Errorf("another ibuild bootstrap is already running on this host")
		}
		return nil, err
	}
	return lock, nil
}
