//go:build windows

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
	"unsafe"
)

const (
	processQueryLimitedInformation = 0x1000
	lockfileFailImmediately        = 0x1
	lockfileExclusiveLock          = 0x2

	stopFilePrefix   = "reposcope-stop-"
	stopPollInterval = 500 * time.Millisecond
	exitPollInterval = 250 * time.Millisecond
)

var (
	kernel32        = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess = kernel32.NewProc("OpenProcess")
	procCloseHandle = kernel32.NewProc("CloseHandle")
	procLockFileEx  = kernel32.NewProc("LockFileEx")
)

// IsProcessRunning reports whether a handle to pid can be opened.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, _, _ := procOpenProcess.Call(processQueryLimitedInformation, 0, uintptr(pid))
	if h == 0 {
		return false
	}
	procCloseHandle.Call(h)
	return true
}

// lockFile locks one byte of f exclusively without waiting. The OS drops the
// lock when the process exits.
func lockFile(f *os.File) error {
	var ov syscall.Overlapped
	ok, _, err := procLockFileEx.Call(
		f.Fd(),
		lockfileExclusiveLock|lockfileFailImmediately,
		0, 1, 0,
		uintptr(unsafe.Pointer(&ov)),
	)
	if ok == 0 {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

func detached() *syscall.SysProcAttr { return nil }

// exitNotifier polls the child's pid; ExtraFiles is not available here.
type exitNotifier struct{}

func newExitNotifier() (*exitNotifier, error) { return &exitNotifier{}, nil }

func (n *exitNotifier) attach(*exec.Cmd) {}

func (n *exitNotifier) watch(pid int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for IsProcessRunning(pid) {
			time.Sleep(exitPollInterval)
		}
	}()
	return done
}

func (n *exitNotifier) abort() {}

func stopFilePath(dir string, pid int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d", stopFilePrefix, pid))
}

// StopProcess drops a stop file for pid into dir. Console interrupts do not
// cross process groups on windows, so the daemon polls for the file instead.
func StopProcess(dir string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	if !IsProcessRunning(pid) {
		return fmt.Errorf("process %d is not running", pid)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := os.WriteFile(stopFilePath(dir, pid), []byte(fmt.Sprintf("%d\n", pid)), 0600); err != nil {
		return fmt.Errorf("failed to write stop file: %w", err)
	}
	return nil
}

// StopChannel closes once a stop file for the current process shows up in
// dir. A file left behind by an earlier process with the same pid is removed
// first.
func StopChannel(dir string) <-chan struct{} {
	path := stopFilePath(dir, os.Getpid())
	_ = os.Remove(path)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			time.Sleep(stopPollInterval)
			if _, err := os.Stat(path); err == nil {
				_ = os.Remove(path)
				return
			}
		}
	}()
	return done
}
