//go:build !windows

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// IsProcessRunning probes pid with the null signal.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// lockFile takes a non-blocking exclusive flock(2), released by the OS when
// the process exits.
func lockFile(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

// detached puts the child in its own process group so terminal signals sent
// to the parent do not reach it.
func detached() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// exitNotifier hands the child the write end of a pipe. The kernel closes it
// when the child exits, which unblocks the parent's read with EOF.
type exitNotifier struct {
	r, w *os.File
}

func newExitNotifier() (*exitNotifier, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create liveness pipe: %w", err)
	}
	return &exitNotifier{r: r, w: w}, nil
}

func (n *exitNotifier) attach(cmd *exec.Cmd) {
	cmd.ExtraFiles = append(cmd.ExtraFiles, n.w)
}

func (n *exitNotifier) watch(_ int) <-chan struct{} {
	n.w.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		var b [1]byte
		_, _ = n.r.Read(b[:])
		n.r.Close()
	}()
	return done
}

func (n *exitNotifier) abort() {
	n.r.Close()
	n.w.Close()
}

// StopProcess interrupts pid. The run directory is unused on unix.
func StopProcess(_ string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("failed to interrupt process %d: %w", pid, err)
	}
	return nil
}

// StopChannel never fires on unix; shutdown arrives through os/signal.
func StopChannel(_ string) <-chan struct{} {
	return make(chan struct{})
}
