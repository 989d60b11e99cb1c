package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/reposcope/reposcope/daemon"
)

const (
	readyTimeout = 30 * time.Second
	stopTimeout  = 15 * time.Second
)

// backgroundFlags are shared by the long-running commands.
type backgroundFlags struct {
	background bool
	status     bool
	stop       bool
}

func (f *backgroundFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.background, "background", false, "Run in the background")
	cmd.Flags().BoolVar(&f.status, "status", false, "Show whether a background process is running")
	cmd.Flags().BoolVar(&f.stop, "stop", false, "Stop the background process")
}

func newDaemon(name string) (*daemon.Daemon, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}
	return daemon.New(filepath.Join(home, "run"), "reposcope-"+name), nil
}

// controlBackground handles --status, --stop and the parent side of
// --background. It reports whether the command is fully handled.
func controlBackground(out io.Writer, d *daemon.Daemon, name string, f *backgroundFlags) (bool, error) {
	switch {
	case f.status:
		pid, err := d.RunningPID()
		if err != nil {
			return true, err
		}
		if pid == 0 {
			fmt.Fprintf(out, "%s is not running\n", name)
			return true, nil
		}
		state := "starting"
		if d.IsReady() {
			state = "ready"
		}
		fmt.Fprintf(out, "%s is running (PID %d, %s)\n", name, pid, state)
		fmt.Fprintf(out, "Log: %s\n", d.LogPath())
		return true, nil

	case f.stop:
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		pid, err := d.Stop(ctx)
		if err != nil {
			return true, err
		}
		if pid == 0 {
			fmt.Fprintf(out, "%s is not running\n", name)
		} else {
			fmt.Fprintf(out, "Stopped %s (PID %d)\n", name, pid)
		}
		return true, nil

	case f.background && !daemon.InBackground():
		if pid, err := d.RunningPID(); err != nil {
			return true, err
		} else if pid != 0 {
			return true, fmt.Errorf("%s is already running (PID %d)", name, pid)
		}
		pid, exited, err := d.Spawn(withoutFlag(os.Args[1:], "--background"))
		if err != nil {
			return true, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
		defer cancel()
		if err := d.WaitReady(ctx, exited); err != nil {
			return true, err
		}
		fmt.Fprintf(out, "Started %s in the background (PID %d)\n", name, pid)
		fmt.Fprintf(out, "Log: %s\n", d.LogPath())
		return true, nil
	}
	return false, nil
}

// detach runs on the child side of --background: it records the process and
// cancels ctx on a platform stop request. The returned ready func must be
// called once the command is serving.
func detach(ctx context.Context, d *daemon.Daemon) (context.Context, func() error, func(), error) {
	noop := func() error { return nil }
	if !daemon.InBackground() {
		return ctx, noop, func() {}, nil
	}
	release, err := d.Acquire()
	if err != nil {
		return ctx, noop, func() {}, err
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-daemon.StopChannel(d.Dir()):
			cancel()
		case <-ctx.Done():
		}
	}()
	cleanup := func() {
		cancel()
		release()
	}
	return ctx, d.MarkReady, cleanup, nil
}

func withoutFlag(args []string, flag string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == flag || a == flag+"=true" {
			continue
		}
		out = append(out, a)
	}
	return out
}
