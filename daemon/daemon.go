// Package daemon runs a long-lived reposcope command (watch or serve) in the
// background and tracks it through files in a run directory:
//
//	<name>.pid    process id, written under an exclusive lock
//	<name>.ready  present once the process finished starting
//	<name>.log    stdout and stderr of the background process
//
// The PID file contains a single line with the process ID as a decimal integer.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BackgroundEnvVar is set in the environment of spawned processes.
const BackgroundEnvVar = "REPOSCOPE_BACKGROUND"

// Daemon locates the files of one named background process.
type Daemon struct {
	dir  string
	name string
}

func New(dir, name string) *Daemon {
	return &Daemon{dir: dir, name: name}
}

// InBackground reports whether the current process was spawned by Spawn.
func InBackground() bool {
	return os.Getenv(BackgroundEnvVar) == "1"
}

func (d *Daemon) Dir() string       { return d.dir }
func (d *Daemon) PIDPath() string   { return filepath.Join(d.dir, d.name+".pid") }
func (d *Daemon) LogPath() string   { return filepath.Join(d.dir, d.name+".log") }
func (d *Daemon) readyPath() string { return filepath.Join(d.dir, d.name+".ready") }

// Acquire records the current process as the running daemon. The lock is
// held for the lifetime of the process; release removes the pid and ready
// files.
func (d *Daemon) Acquire() (release func(), err error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	pidPath := d.PIDPath()
	lockFh, err := os.OpenFile(pidPath+".lock", os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	if err := lockFile(lockFh); err != nil {
		lockFh.Close()
		return nil, fmt.Errorf("another reposcope %s process is running (lock held)", d.name)
	}

	// temp file + rename so readers never see a partial pid
	tmpPath := pidPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0600); err != nil {
		lockFh.Close()
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := os.Rename(tmpPath, pidPath); err != nil {
		os.Remove(tmpPath)
		lockFh.Close()
		return nil, fmt.Errorf("failed to rename PID file: %w", err)
	}

	return func() {
		_ = os.Remove(d.readyPath())
		_ = os.Remove(pidPath)
		_ = os.Remove(pidPath + ".lock")
		lockFh.Close()
	}, nil
}

// ReadPID returns the recorded process id, or 0 when no PID file exists. It
// does not check whether the process is alive.
func (d *Daemon) ReadPID() (int, error) {
	data, err := os.ReadFile(d.PIDPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// RunningPID returns the pid of the live daemon, or 0. Stale files left by a
// process that died are removed.
func (d *Daemon) RunningPID() (int, error) {
	pid, err := d.ReadPID()
	if err != nil || pid == 0 {
		return 0, err
	}
	if !IsProcessRunning(pid) {
		_ = os.Remove(d.PIDPath())
		_ = os.Remove(d.PIDPath() + ".lock")
		_ = os.Remove(d.readyPath())
		return 0, nil
	}
	return pid, nil
}

// MarkReady signals that the daemon finished starting.
func (d *Daemon) MarkReady() error {
	content := fmt.Sprintf("ready\n%d\n", os.Getpid())
	if err := os.WriteFile(d.readyPath(), []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write ready file: %w", err)
	}
	return nil
}

func (d *Daemon) IsReady() bool {
	_, err := os.Stat(d.readyPath())
	return err == nil
}

// Spawn re-executes the current binary with args as a detached background
// process logging to LogPath. The returned channel is closed when the child
// exits.
func (d *Daemon) Spawn(args []string) (int, <-chan struct{}, error) {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return 0, nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	executable, err := os.Executable()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	logFile, err := os.OpenFile(d.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	exit, err := newExitNotifier()
	if err != nil {
		return 0, nil, err
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), BackgroundEnvVar+"=1")
	cmd.SysProcAttr = detached()
	exit.attach(cmd)

	if err := cmd.Start(); err != nil {
		exit.abort()
		return 0, nil, fmt.Errorf("failed to start background process: %w", err)
	}
	return cmd.Process.Pid, exit.watch(cmd.Process.Pid), nil
}

// WaitReady blocks until the spawned process is ready, exits or ctx is done.
func (d *Daemon) WaitReady(ctx context.Context, exited <-chan struct{}) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if d.IsReady() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("background %s did not become ready: %w", d.name, ctx.Err())
		case <-exited:
			return fmt.Errorf("background %s exited during startup, see %s", d.name, d.LogPath())
		case <-ticker.C:
		}
	}
}

// Stop asks the running daemon to shut down and waits until it exits or ctx
// is done. It returns the stopped pid, or 0 when nothing was running.
func (d *Daemon) Stop(ctx context.Context) (int, error) {
	pid, err := d.RunningPID()
	if err != nil || pid == 0 {
		return 0, err
	}
	if err := StopProcess(d.dir, pid); err != nil {
		return pid, err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for IsProcessRunning(pid) {
		select {
		case <-ctx.Done():
			return pid, fmt.Errorf("process %d did not stop: %w", pid, ctx.Err())
		case <-ticker.C:
		}
	}
	_, _ = d.RunningPID()
	return pid, nil
}
