package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout indicates the lock acquisition timed out
var ErrLockTimeout = errors.New("lock acquisition timed out")

// lockRetryDelay is the poll interval while waiting for a held lock
const lockRetryDelay = 25 * time.Millisecond

// FileLock provides exclusive, cross-process file locking using gofrs/flock.
// Two FileLocks on the same path conflict even within one process, since each
// holds its own file descriptor.
// The lock is released by the OS when the process exits or crashes.
type FileLock struct {
	path  string
	flock *flock.Flock
}

// NewFileLock creates a new file lock at the given path.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

// TryLock attempts to acquire the exclusive lock without blocking.
// Returns true if the lock was acquired, false if it is held elsewhere.
func (l *FileLock) TryLock() (bool, error) {
	if err := l.ensureDir(); err != nil {
		return false, err
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return acquired, nil
}

// Lock acquires the exclusive lock, waiting up to timeout.
// Returns ErrLockTimeout if the timeout expires before the lock is acquired.
func (l *FileLock) Lock(timeout time.Duration) error {
	return l.LockWithContext(context.Background(), timeout)
}

// LockWithContext acquires the exclusive lock, waiting until it's available,
// timeout expires, or the context is canceled.
func (l *FileLock) LockWithContext(ctx context.Context, timeout time.Duration) error {
	if err := l.ensureDir(); err != nil {
		return err
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	acquired, err := l.flock.TryLockContext(lockCtx, lockRetryDelay)
	if acquired {
		return nil
	}
	// Parent cancellation is reported as-is, our own deadline as a timeout
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ErrLockTimeout
}

// Unlock releases the lock. Safe to call on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsLocked returns true if this FileLock currently holds the lock.
func (l *FileLock) IsLocked() bool {
	return l.flock.Locked()
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}

// ensureDir creates the lock file's parent directory
func (l *FileLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	return nil
}
