package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/edgegov/internal/errors"
)

const (
	pidFile = "edgegov.pid"
)

// Path returns configured, or the default PID file location.
func Path(configured string) string {
	if configured != "" {
		return configured
	}
	return filepath.Join(os.TempDir(), pidFile)
}

// Write writes the current process ID to the PID file at path. If the file
// names another live process it is left alone and an ErrAlreadyRunning
// error carrying that PID is returned so the caller can warn: a single
// instance per host is a deployment invariant, not enforced.
func Write(path string) error {
	errFactory := errors.New()

	if other, ok := read(path); ok && other != os.Getpid() && alive(other) {
		return errFactory.WithData(errors.ErrAlreadyRunning, other)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
	if err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file if it still names this process.
func Remove(path string) error {
	errFactory := errors.New()

	if owner, ok := read(path); !ok || owner != os.Getpid() {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func read(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
