// Package lockfile guards a database directory against concurrent opens.
// Acquire creates a LOCK sentinel file inside the directory, takes an
// exclusive OS-level lock on it (flock on Unix, LockFileEx on Windows),
// and records the owning pid in the sentinel so an operator can see who
// holds a stuck directory. The lock lives until Release or process exit.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const sentinelName = "LOCK"

// Handle is an acquired exclusive lock on one database directory.
type Handle struct {
	mu  sync.Mutex
	dir string
	f   *os.File
}

// Acquire blocks until the exclusive lock on dir's sentinel is granted,
// creating dir and the sentinel as needed. A second process opening the
// same directory waits here rather than erroring.
func Acquire(dir string) (*Handle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockfile: mkdir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, sentinelName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open sentinel: %w", err)
	}
	if err := lockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lockfile: lock %s: %w", dir, err)
	}
	// Best-effort owner tag; the OS lock is what actually excludes.
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &Handle{dir: dir, f: f}, nil
}

// Dir reports the directory this handle locks.
func (h *Handle) Dir() string { return h.dir }

// Owner reports the pid recorded in dir's sentinel without taking the
// lock. Zero means no sentinel or no readable pid; the pid may be stale
// if the recorded process died without releasing.
func Owner(dir string) int {
	raw, err := os.ReadFile(filepath.Join(dir, sentinelName))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	return pid
}

// Release drops the OS lock and closes the sentinel. Safe to call more
// than once.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.f == nil {
		return nil
	}
	err := unlock(h.f)
	if cerr := h.f.Close(); err == nil {
		err = cerr
	}
	h.f = nil
	return err
}
