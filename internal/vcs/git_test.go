package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	triadexec "github.com/ShayCichocki/triad/internal/exec"
)

type call struct {
	dir  string
	args string
}

type fakeRunner struct {
	calls   []call
	outputs map[string]string
	fail    map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, workDir, name string, args ...string) ([]byte, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, call{dir: workDir, args: name + " " + key})
	if f.fail[key] {
		return []byte("fatal: boom"), errors.New("exit status 128")
	}
	return []byte(f.outputs[key]), nil
}

func TestGit_CommitSequence(t *testing.T) {
	r := &fakeRunner{outputs: map[string]string{
		"status --porcelain --untracked-files=no": "M  main.go\n",
		"rev-parse HEAD": "abc123\n",
	}}
	g := NewGit("/repo", r)

	if err := g.StageAll(context.Background()); err != nil {
		t.Fatalf("StageAll: %v", err)
	}
	id, err := g.Commit(context.Background(), "triad: t1")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if id != "abc123" {
		t.Errorf("Commit id = %q, want abc123", id)
	}

	want := []string{
		"git add -A",
		"git status --porcelain --untracked-files=no",
		"git commit -m triad: t1",
		"git rev-parse HEAD",
	}
	if len(r.calls) != len(want) {
		t.Fatalf("calls = %+v", r.calls)
	}
	for i, c := range r.calls {
		if c.args != want[i] || c.dir != "/repo" {
			t.Errorf("call %d = %+v, want %q in /repo", i, c, want[i])
		}
	}
}

func TestGit_NothingToCommit(t *testing.T) {
	g := NewGit("/repo", &fakeRunner{})
	if _, err := g.Commit(context.Background(), "msg"); !errors.Is(err, ErrNothingToCommit) {
		t.Errorf("Commit = %v, want ErrNothingToCommit", err)
	}
}

func TestGit_ErrorIncludesOutput(t *testing.T) {
	g := NewGit("/repo", &fakeRunner{fail: map[string]bool{"add -A": true}})
	err := g.StageAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "fatal: boom") {
		t.Errorf("StageAll = %v, want error with git output", err)
	}
}

func TestGit_RealRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	ctx := context.Background()
	runner := triadexec.NewRunner(
		"GIT_AUTHOR_NAME=triad", "GIT_AUTHOR_EMAIL=triad@example.com",
		"GIT_COMMITTER_NAME=triad", "GIT_COMMITTER_EMAIL=triad@example.com",
	)
	if out, err := runner.Run(ctx, dir, "git", "init", "-q"); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}

	g := NewGit(dir, runner)
	if !g.IsRepo(ctx) {
		t.Fatal("IsRepo = false for a fresh repository")
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := g.StageAll(ctx); err != nil {
		t.Fatalf("StageAll: %v", err)
	}
	id, err := g.Commit(ctx, "triad: first")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(id) != 40 {
		t.Errorf("commit id = %q, want a full sha", id)
	}
	if _, err := g.Commit(ctx, "again"); !errors.Is(err, ErrNothingToCommit) {
		t.Errorf("second Commit = %v, want ErrNothingToCommit", err)
	}
}
