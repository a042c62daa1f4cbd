package agent

import (
	"context"
	"errors"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/pkg/models"
)

// Defaults for worker supervision.
const (
	DefaultPollInterval = time.Second
	DefaultGracePeriod  = 10 * time.Second
)

// StopFlag is checked at every poll. The workflow engine's pause
// controller satisfies it.
type StopFlag interface {
	IsStopped() bool
}

// MonitorConfig bounds how a worker is supervised.
type MonitorConfig struct {
	PollInterval time.Duration
	GracePeriod  time.Duration
	// TaskTimeout of zero means no limit.
	TaskTimeout time.Duration
}

// Monitor supervises one worker at a time by polling.
type Monitor struct {
	exec Executor
	cfg  MonitorConfig
	stop StopFlag
	log  *logging.Logger
}

// Result is what a finished worker produced.
type Result struct {
	ExitCode int
	Output   []string
	Duration time.Duration
}

// NewMonitor creates a monitor. stop may be nil.
func NewMonitor(exec Executor, cfg MonitorConfig, stop StopFlag, log *logging.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Monitor{exec: exec, cfg: cfg, stop: stop, log: log.Named("monitor")}
}

// Run spawns a worker for task and waits for it, polling every
// PollInterval. When ctx is cancelled, the stop flag is set, or the task
// times out, the worker is terminated and killed after GracePeriod.
// onLine, if set, receives each output line as it is polled.
func (m *Monitor) Run(ctx context.Context, task models.Task, briefingKey string, onLine func(string)) (*Result, error) {
	start := time.Now()
	h, err := m.exec.Spawn(ctx, task.Role, briefingKey)
	if err != nil {
		return nil, &WorkerExecutionError{TaskID: task.ID, Role: task.Role, ExitCode: -1, Err: err}
	}
	m.log.Log("spawned %s worker %s for task %s", task.Role, h, task.ID)
	defer m.exec.Release(h)

	res := &Result{}
	drain := func() bool {
		lines, running := m.exec.Poll(h)
		for _, l := range lines {
			res.Output = append(res.Output, l)
			if onLine != nil {
				onLine(l)
			}
		}
		return running
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var deadline time.Time
	if m.cfg.TaskTimeout > 0 {
		deadline = start.Add(m.cfg.TaskTimeout)
	}

	for {
		if !drain() {
			code, err := m.exec.Wait(h, m.cfg.GracePeriod)
			drain()
			res.ExitCode = code
			res.Duration = time.Since(start)
			if err != nil {
				return res, &WorkerExecutionError{TaskID: task.ID, Role: task.Role, ExitCode: code, Err: err}
			}
			if code != 0 {
				return res, &WorkerExecutionError{TaskID: task.ID, Role: task.Role, ExitCode: code}
			}
			return res, nil
		}

		stopped := ctx.Err() != nil || (m.stop != nil && m.stop.IsStopped())
		timedOut := !deadline.IsZero() && time.Now().After(deadline)
		if stopped || timedOut {
			code := m.shutdown(h)
			drain()
			res.ExitCode = code
			res.Duration = time.Since(start)
			return res, &WorkerExecutionError{
				TaskID:   task.ID,
				Role:     task.Role,
				ExitCode: code,
				TimedOut: timedOut && !stopped,
				Stopped:  stopped,
			}
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// shutdown asks the worker to exit and escalates to a kill if it is
// still running after the grace period.
func (m *Monitor) shutdown(h Handle) int {
	m.log.Log("terminating worker %s", h)
	if err := m.exec.Terminate(h); err != nil {
		m.log.Log("WARNING: terminate %s: %v", h, err)
	}
	code, err := m.exec.Wait(h, m.cfg.GracePeriod)
	if err == nil {
		return code
	}
	if !errors.Is(err, ErrWaitTimeout) {
		m.log.Log("WARNING: wait %s: %v", h, err)
	}

	m.log.Log("worker %s ignored terminate for %s, killing", h, m.cfg.GracePeriod)
	if err := m.exec.Kill(h); err != nil {
		m.log.Log("WARNING: kill %s: %v", h, err)
	}
	code, err = m.exec.Wait(h, m.cfg.GracePeriod)
	if err != nil {
		m.log.Log("WARNING: worker %s did not exit after kill: %v", h, err)
		return -1
	}
	return code
}
