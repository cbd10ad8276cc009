//go:build unix || linux || darwin

// flock(2) on Unix platforms. The engine only ever needs the exclusive
// flavor: every Db owns its whole directory, so there is no shared-read
// locking tier to model.
package lockfile

import (
	"os"
	"syscall"
)

func lockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

func unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
