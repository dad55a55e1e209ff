package caseindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	lockFile      = "index.lock"
	lockTimeout   = 5 * time.Second // Max time to wait for lock
	lockRetryWait = 500 * time.Millisecond
)

// ErrLockTimeout is returned when another live process keeps the case lock
var ErrLockTimeout = errors.New("timeout waiting for case lock")

// isProcessRunning is implemented in platform-specific files:
// - lock_unix.go for Unix/Linux/macOS
// - lock_windows.go for Windows

// Lock is an inter-process PID lock on a case directory
type Lock struct {
	path      string
	timeout   time.Duration
	retryWait time.Duration
	logger    *slog.Logger
}

// NewLock returns the lock guarding caseDir
func NewLock(caseDir string, logger *slog.Logger) *Lock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{
		path:      filepath.Join(caseDir, lockFile),
		timeout:   lockTimeout,
		retryWait: lockRetryWait,
		logger:    logger,
	}
}

// Path returns the lock file location
func (l *Lock) Path() string {
	return l.path
}

// cleanStale removes the lock file if the owning process is dead
func (l *Lock) cleanStale() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		l.logger.Warn("corrupted lock file (invalid PID), removing", "path", l.path)
		return os.Remove(l.path)
	}

	if isProcessRunning(pid) {
		return fmt.Errorf("lock held by running process %d", pid)
	}

	l.logger.Info("stale lock detected, cleaning", "pid", pid)
	return os.Remove(l.path)
}

// HeldBy returns the PID of another live process holding the lock
func (l *Lock) HeldBy() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid == os.Getpid() {
		return 0, false
	}
	return pid, isProcessRunning(pid)
}

// Acquire takes the lock, waiting while another live process holds it
func (l *Lock) Acquire(ctx context.Context) error {
	ourPID := os.Getpid()

	if data, err := os.ReadFile(l.path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == ourPID {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create case directory: %w", err)
	}

	start := time.Now()
	for {
		err := l.cleanStale()
		if err == nil {
			var f *os.File
			f, err = os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
			if err == nil {
				_, werr := f.WriteString(strconv.Itoa(ourPID))
				cerr := f.Close()
				if werr != nil || cerr != nil {
					os.Remove(l.path)
					return fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
				}
				l.logger.Info("case lock acquired", "pid", ourPID)
				return nil
			}
			if !os.IsExist(err) {
				return fmt.Errorf("failed to create lock file: %w", err)
			}
		}

		elapsed := time.Since(start)
		if elapsed >= l.timeout {
			return fmt.Errorf("%w after %v: %v", ErrLockTimeout, elapsed.Round(time.Millisecond), err)
		}
		l.logger.Info("case locked by another process, waiting", "elapsed", elapsed.Round(100*time.Millisecond))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryWait):
		}
	}
}

// Release removes the lock if this process owns it
func (l *Lock) Release() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && pid != os.Getpid() {
		l.logger.Warn("lock file contains different PID, not removing", "pid", pid, "self", os.Getpid())
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	l.logger.Info("case lock released")
	return nil
}
