//go:build windows

// LockFileEx/UnlockFileEx on Windows. A single byte at offset zero is
// locked rather than a whole-file range: the sentinel's contents are
// advisory (the owner pid), so the byte range only has to be stable,
// not cover the file.
package lockfile

import (
	"os"
	"syscall"
	"unsafe"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = kernel32.NewProc("LockFileEx")
	procUnlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const lockfileExclusiveLock = 0x00000002

func lockExclusive(f *os.File) error {
	var ov syscall.Overlapped
	r, _, err := procLockFileEx.Call(
		f.Fd(),
		uintptr(lockfileExclusiveLock),
		0, // reserved
		1, // bytes to lock, low
		0, // bytes to lock, high
		uintptr(unsafe.Pointer(&ov)),
	)
	if r == 0 {
		return err
	}
	return nil
}

func unlock(f *os.File) error {
	var ov syscall.Overlapped
	r, _, err := procUnlockFileEx.Call(
		f.Fd(),
		0, // reserved
		1, // bytes to unlock, low
		0, // bytes to unlock, high
		uintptr(unsafe.Pointer(&ov)),
	)
	if r == 0 {
		return err
	}
	return nil
}
