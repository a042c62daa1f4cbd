package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/triad/internal/signals"
	"github.com/ShayCichocki/triad/internal/store"
	"github.com/ShayCichocki/triad/internal/version"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// isolate keeps the user's config and environment out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TRIAD_EXECUTOR_POLL_INTERVAL", "10ms")
	t.Setenv("TRIAD_CHECKPOINT_INTERVAL", "1h")
	return filepath.Join(t.TempDir(), "state")
}

func run(t *testing.T, stateDir string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(append([]string{"--state-dir", stateDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	stateDir := isolate(t)
	out, err := run(t, stateDir, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version.Get()) {
		t.Errorf("output %q does not contain version %q", out, version.Get())
	}
}

func TestStatusCommand_Empty(t *testing.T) {
	stateDir := isolate(t)
	out, err := run(t, stateDir, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "No sessions") {
		t.Errorf("output = %q, want a no-sessions hint", out)
	}
}

func TestStartDryRun_ThenInspect(t *testing.T) {
	stateDir := isolate(t)

	out, err := run(t, stateDir, "start", "--dry-run", "--project", "demo", "add a login page")
	if err != nil {
		t.Fatalf("start: %v\n%s", err, out)
	}
	for _, want := range []string{"started for project demo", "completed: 3/3", "inactive"} {
		if !strings.Contains(out, want) {
			t.Errorf("start output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, stateDir, "status", "--project", "demo")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Project: demo", "add a login page", "3/3", "research", "implement", "test"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, stateDir, "memory", "--list", "/projects/demo/")
	if err != nil {
		t.Fatalf("memory --list: %v", err)
	}
	graphKey := store.TaskGraphKey("demo")
	if !strings.Contains(out, graphKey) {
		t.Errorf("memory --list output missing %s:\n%s", graphKey, out)
	}

	out, err = run(t, stateDir, "memory", graphKey)
	if err != nil {
		t.Fatalf("memory %s: %v", graphKey, err)
	}
	if !strings.Contains(out, `"project_id": "demo"`) {
		t.Errorf("graph value not pretty-printed JSON:\n%s", out)
	}
}

func TestMemoryCommand_MissingKey(t *testing.T) {
	stateDir := isolate(t)
	_, err := run(t, stateDir, "memory", "/no/such/key")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestMemoryCommand_Quarantine(t *testing.T) {
	stateDir := isolate(t)
	db, err := store.Open(filepath.Join(stateDir, "triad.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := db.Set("/tasks/index/bad", []byte("{not json")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	db.Close()

	if _, err := run(t, stateDir, "memory", "--quarantine", "/tasks/index/bad"); err != nil {
		t.Fatalf("memory --quarantine: %v", err)
	}
	if _, err := run(t, stateDir, "memory", "/tasks/index/bad"); err == nil {
		t.Error("quarantined key still readable at its old location")
	}
	out, err := run(t, stateDir, "memory", store.QuarantineKey("/tasks/index/bad"))
	if err != nil {
		t.Fatalf("read quarantined value: %v", err)
	}
	if !strings.Contains(out, "{not json") {
		t.Errorf("quarantined value = %q", out)
	}
}

func TestResumeCommand_UnknownSession(t *testing.T) {
	stateDir := isolate(t)
	if _, err := run(t, stateDir, "resume", "--dry-run", "nope"); err == nil {
		t.Fatal("expected error resuming an unknown session")
	}
}

func TestStartCommand_RequiresGoal(t *testing.T) {
	stateDir := isolate(t)
	if _, err := run(t, stateDir, "start", "--dry-run"); err == nil {
		t.Fatal("expected error without a goal")
	}
}

func TestSignalCommands(t *testing.T) {
	stateDir := isolate(t)

	if _, err := run(t, stateDir, "pause"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := os.Stat(filepath.Join(signals.Dir(stateDir), signals.PauseFile)); err != nil {
		t.Errorf("pause file not written: %v", err)
	}

	if _, err := run(t, stateDir, "continue"); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if _, err := os.Stat(filepath.Join(signals.Dir(stateDir), signals.PauseFile)); !os.IsNotExist(err) {
		t.Errorf("pause file still present after continue: %v", err)
	}

	if _, err := run(t, stateDir, "stop"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(filepath.Join(signals.Dir(stateDir), signals.KillFile)); err != nil {
		t.Errorf("kill file not written: %v", err)
	}
}

func TestShortID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"1700000000-coder-implement", "coder-implement"},
		{"20250301T120000.000000000-demo-coder-implementation", "demo-coder-implementation"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := shortID(tt.in); got != tt.want {
			t.Errorf("shortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{5 * time.Minute, "5m"},
		{2 * time.Hour, "2h"},
		{2*time.Hour + 15*time.Minute, "2h15m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
