package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/pkg/models"
)

// ProcessConfig configures the CLI worker backend.
type ProcessConfig struct {
	// Binary is the worker executable. Defaults to "claude".
	Binary string
	// Model is passed with --model when set.
	Model string
	// WorkDir is the worker's working directory.
	WorkDir string
	// ExtraArgs are appended before the prompt.
	ExtraArgs []string
}

// ProcessExecutor runs each task as a claude CLI subprocess in its own
// process group, reading stream-json output from stdout.
type ProcessExecutor struct {
	cfg       ProcessConfig
	briefings BriefingSource
	log       *logging.Logger

	mu    sync.Mutex
	procs map[Handle]*process
	seq   int
}

type process struct {
	cmd  *exec.Cmd
	pgid int

	mu    sync.Mutex
	lines []string

	done     chan struct{}
	exitCode int
	waitErr  error
}

// NewProcessExecutor creates a CLI-backed executor.
func NewProcessExecutor(cfg ProcessConfig, briefings BriefingSource, log *logging.Logger) *ProcessExecutor {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	return &ProcessExecutor{
		cfg:       cfg,
		briefings: briefings,
		log:       log.Named("process"),
		procs:     make(map[Handle]*process),
	}
}

// CheckBinary verifies the worker executable is on PATH.
func (e *ProcessExecutor) CheckBinary() error {
	if _, err := exec.LookPath(e.cfg.Binary); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", e.cfg.Binary, err)
	}
	return nil
}

func (e *ProcessExecutor) args(b []string, prompt string) []string {
	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--allowedTools", strings.Join(b, ","),
	}
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	args = append(args, e.cfg.ExtraArgs...)
	return append(args, "-p", prompt)
}

// Spawn starts the worker. The process is not tied to ctx; cancellation
// goes through the monitor so the grace period is honored.
func (e *ProcessExecutor) Spawn(_ context.Context, role models.Role, briefingKey string) (Handle, error) {
	b, err := loadBriefing(e.briefings, role, briefingKey)
	if err != nil {
		return "", err
	}

	cmd := exec.Command(e.cfg.Binary, e.args(b.AllowedTools, b.Prompt)...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Env = append(os.Environ(),
		"TRIAD_BRIEFING_KEY="+briefingKey,
		"TRIAD_TASK_ID="+b.TaskID,
		"TRIAD_ROLE="+string(role),
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", e.cfg.Binary, err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	p.pgid, err = syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		p.pgid = cmd.Process.Pid
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		p.read(stdout, formatStreamLine)
	}()
	go func() {
		defer readers.Done()
		p.read(stderr, func(line []byte) string { return "[stderr] " + string(line) })
	}()
	go func() {
		// Wait must not run before the pipes are drained.
		readers.Wait()
		err := cmd.Wait()
		p.exitCode, p.waitErr = exitStatus(err)
		close(p.done)
	}()

	e.mu.Lock()
	e.seq++
	h := Handle(fmt.Sprintf("%s-%d-%d", role.Slug(), cmd.Process.Pid, e.seq))
	e.procs[h] = p
	e.mu.Unlock()

	e.log.Log("started %s (pid %d) for %s", e.cfg.Binary, cmd.Process.Pid, b.TaskID)
	return h, nil
}

func (p *process) read(r io.Reader, format func([]byte) string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		text := format(line)
		if text == "" {
			continue
		}
		p.mu.Lock()
		p.lines = append(p.lines, text)
		p.mu.Unlock()
	}
}

// exitStatus converts a cmd.Wait error into an exit code. A process
// killed by a signal reports -1.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (e *ProcessExecutor) get(h Handle) (*process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.procs[h]
	if !ok {
		return nil, fmt.Errorf("%s: %w", h, ErrUnknownHandle)
	}
	return p, nil
}

// Poll returns buffered output lines and whether the process is alive.
func (e *ProcessExecutor) Poll(h Handle) ([]string, bool) {
	p, err := e.get(h)
	if err != nil {
		return nil, false
	}
	p.mu.Lock()
	lines := p.lines
	p.lines = nil
	p.mu.Unlock()

	select {
	case <-p.done:
		return lines, false
	default:
		return lines, true
	}
}

func (e *ProcessExecutor) signal(h Handle, sig syscall.Signal) error {
	p, err := e.get(h)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := syscall.Kill(-p.pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return p.cmd.Process.Signal(sig)
	}
	return nil
}

// Terminate sends SIGTERM to the worker's process group.
func (e *ProcessExecutor) Terminate(h Handle) error {
	return e.signal(h, syscall.SIGTERM)
}

// Kill sends SIGKILL to the worker's process group.
func (e *ProcessExecutor) Kill(h Handle) error {
	return e.signal(h, syscall.SIGKILL)
}

// Wait blocks up to timeout for the process to exit.
func (e *ProcessExecutor) Wait(h Handle, timeout time.Duration) (int, error) {
	p, err := e.get(h)
	if err != nil {
		return -1, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
		return -1, ErrWaitTimeout
	}
	return p.exitCode, p.waitErr
}

// Release forgets h. A process that is somehow still running is killed
// first so it cannot outlive its record.
func (e *ProcessExecutor) Release(h Handle) {
	e.mu.Lock()
	p, ok := e.procs[h]
	delete(e.procs, h)
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-p.done:
	default:
		syscall.Kill(-p.pgid, syscall.SIGKILL)
	}
}

var _ Executor = (*ProcessExecutor)(nil)
