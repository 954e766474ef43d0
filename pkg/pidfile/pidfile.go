package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning indicates another live process holds the PID file.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// Acquire claims the PID file for the current process. A live holder aborts
// the claim with ErrAlreadyRunning; a stale file left by a dead process is
// replaced.
func Acquire(path string) error {
	if raw, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if convErr == nil && pid > 0 && processAlive(pid) {
			return fmt.Errorf("%w (pid=%d)", ErrAlreadyRunning, pid)
		}
		_ = os.Remove(path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create pid file directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Release removes the PID file. A missing file is not an error.
func Release(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// processAlive probes a PID with signal 0. EPERM means the process exists
// but belongs to another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	sigErr := proc.Signal(syscall.Signal(0))
	if sigErr == nil {
		return true
	}
	return errors.Is(sigErr, syscall.EPERM)
}
