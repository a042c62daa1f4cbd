// Package checkpoint writes timestamped snapshots of session state so an
// interrupted run can be resumed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
)

// handleLayout sorts lexicographically in time order.
const handleLayout = "20060102T150405.000000000Z"

const ext = ".json"

// Handle names one checkpoint of a session.
type Handle string

// Time returns the moment encoded in the handle.
func (h Handle) Time() (time.Time, error) {
	return time.Parse(handleLayout, string(h))
}

// Manager stores checkpoints under <dir>/<session id>/<handle>.json.
type Manager struct {
	dir  string
	keep int
	log  *logging.Logger
	now  func() time.Time
	mu   sync.Mutex
}

// NewManager creates a manager rooted at dir. keep > 0 bounds how many
// checkpoints per session Run retains.
func NewManager(dir string, keep int, log *logging.Logger) *Manager {
	return &Manager{
		dir:  dir,
		keep: keep,
		log:  log.Named("checkpoint"),
		now:  time.Now,
	}
}

// Dir returns the root directory.
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) sessionDir(sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." || strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(m.dir, sessionID), nil
}

// Save serializes state into a new checkpoint. Existing checkpoints are
// never overwritten; if the timestamp is taken the next nanosecond is used.
func (m *Manager) Save(sessionID string, state any) (Handle, error) {
	dir, err := m.sessionDir(sessionID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write checkpoint file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close checkpoint file: %w", err)
	}

	// os.Link refuses to replace an existing file, which gives us
	// create-only semantics with an atomic publish.
	at := m.now().UTC()
	for attempt := 0; attempt < 1000; attempt++ {
		h := Handle(at.Format(handleLayout))
		err := os.Link(tmpPath, filepath.Join(dir, string(h)+ext))
		if err == nil {
			m.log.Log("saved checkpoint %s/%s (%d bytes)", sessionID, h, len(data))
			return h, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("publish checkpoint: %w", err)
		}
		at = at.Add(time.Nanosecond)
	}
	return "", fmt.Errorf("publish checkpoint: no free handle near %s", at.Format(handleLayout))
}

// List returns the session's checkpoint handles, oldest first.
func (m *Manager) List(sessionID string) ([]Handle, error) {
	dir, err := m.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}

	var handles []Handle
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		handles = append(handles, Handle(strings.TrimSuffix(name, ext)))
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles, nil
}

// Latest returns the newest handle, or false if the session has none.
func (m *Manager) Latest(sessionID string) (Handle, bool, error) {
	handles, err := m.List(sessionID)
	if err != nil || len(handles) == 0 {
		return "", false, err
	}
	return handles[len(handles)-1], true, nil
}

// Load decodes a checkpoint into into. An empty handle selects the latest.
// found is false when the session has no checkpoints or the handle is missing.
func (m *Manager) Load(sessionID string, h Handle, into any) (found bool, err error) {
	if h == "" {
		var ok bool
		h, ok, err = m.Latest(sessionID)
		if err != nil || !ok {
			return false, err
		}
	}
	dir, err := m.sessionDir(sessionID)
	if err != nil {
		return false, err
	}
	if strings.ContainsAny(string(h), `/\`) {
		return false, fmt.Errorf("invalid checkpoint handle %q", h)
	}

	data, err := os.ReadFile(filepath.Join(dir, string(h)+ext))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read checkpoint file: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return false, fmt.Errorf("unmarshal checkpoint %s: %w", h, err)
	}
	return true, nil
}

// Prune deletes the oldest checkpoints so at most keep remain.
func (m *Manager) Prune(sessionID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	handles, err := m.List(sessionID)
	if err != nil || len(handles) <= keep {
		return 0, err
	}
	dir, _ := m.sessionDir(sessionID)

	removed := 0
	for _, h := range handles[:len(handles)-keep] {
		if err := os.Remove(filepath.Join(dir, string(h)+ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove checkpoint %s: %w", h, err)
		}
		removed++
	}
	return removed, nil
}

// Run saves a checkpoint every interval until ctx is done. Snapshot and
// save errors are logged and the loop keeps going.
func (m *Manager) Run(ctx context.Context, sessionID string, interval time.Duration, snapshot func() (any, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := snapshot()
			if err != nil {
				m.log.Log("WARNING: snapshot for %s failed: %v", sessionID, err)
				continue
			}
			if _, err := m.Save(sessionID, state); err != nil {
				m.log.Log("WARNING: checkpoint for %s failed: %v", sessionID, err)
				continue
			}
			if _, err := m.Prune(sessionID, m.keep); err != nil {
				m.log.Log("WARNING: prune for %s failed: %v", sessionID, err)
			}
		}
	}
}
