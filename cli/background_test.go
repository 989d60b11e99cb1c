package cli

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/reposcope/reposcope/daemon"
)

func TestWithoutFlag(t *testing.T) {
	got := withoutFlag([]string{"serve", "--background", "--addr", ":9000", "--background=true"}, "--background")
	want := []string{"serve", "--addr", ":9000"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("withoutFlag() = %v, want %v", got, want)
	}
}

func TestControlBackground_StatusAndStop(t *testing.T) {
	d := daemon.New(t.TempDir(), "reposcope-watch")

	var out bytes.Buffer
	handled, err := controlBackground(&out, d, "watch", &backgroundFlags{status: true})
	if err != nil || !handled {
		t.Fatalf("status: handled=%v err=%v", handled, err)
	}
	if !strings.Contains(out.String(), "watch is not running") {
		t.Errorf("status output = %q", out.String())
	}

	out.Reset()
	handled, err = controlBackground(&out, d, "watch", &backgroundFlags{stop: true})
	if err != nil || !handled {
		t.Fatalf("stop: handled=%v err=%v", handled, err)
	}
	if !strings.Contains(out.String(), "watch is not running") {
		t.Errorf("stop output = %q", out.String())
	}

	handled, err = controlBackground(&out, d, "watch", &backgroundFlags{})
	if err != nil || handled {
		t.Errorf("foreground: handled=%v err=%v", handled, err)
	}
}

func TestControlBackground_StatusRunning(t *testing.T) {
	d := daemon.New(t.TempDir(), "reposcope-serve")
	release, err := d.Acquire()
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	defer release()

	var out bytes.Buffer
	if _, err := controlBackground(&out, d, "serve", &backgroundFlags{status: true}); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(out.String(), "serve is running") || !strings.Contains(out.String(), "starting") {
		t.Errorf("status output = %q", out.String())
	}
}

func TestDetach_Foreground(t *testing.T) {
	t.Setenv(daemon.BackgroundEnvVar, "")
	d := daemon.New(t.TempDir(), "reposcope-watch")

	ctx, ready, cleanup, err := detach(t.Context(), d)
	if err != nil {
		t.Fatalf("detach() failed: %v", err)
	}
	defer cleanup()
	if ctx == nil {
		t.Fatal("detach() returned nil context")
	}
	if err := ready(); err != nil {
		t.Errorf("ready() = %v", err)
	}
	if d.IsReady() {
		t.Error("foreground run should not write a ready file")
	}
}

func TestDetach_Background(t *testing.T) {
	t.Setenv(daemon.BackgroundEnvVar, "1")
	d := daemon.New(t.TempDir(), "reposcope-watch")

	_, ready, cleanup, err := detach(t.Context(), d)
	if err != nil {
		t.Fatalf("detach() failed: %v", err)
	}
	if err := ready(); err != nil {
		t.Fatalf("ready() = %v", err)
	}
	if !d.IsReady() {
		t.Error("background run should write a ready file")
	}
	cleanup()
	if d.IsReady() {
		t.Error("cleanup should remove the ready file")
	}
}
