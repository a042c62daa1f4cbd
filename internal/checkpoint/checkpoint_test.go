package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
)

type sessionState struct {
	SessionID      string           `json:"session_id"`
	CompletedTasks []string         `json:"completed_tasks"`
	Metrics        map[string]int64 `json:"metrics"`
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), 0, logging.Nop())
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	m := newTestManager(t)
	want := sessionState{
		SessionID:      "s1",
		CompletedTasks: []string{"a", "b"},
		Metrics:        map[string]int64{"stage_cycles": 2},
	}

	if _, err := m.Save("s1", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var got sessionState
	found, err := m.Load("s1", "", &got)
	if err != nil || !found {
		t.Fatalf("Load = %v, %v", found, err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestSave_NeverOverwrites(t *testing.T) {
	m := newTestManager(t)
	fixed := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	h1, err := m.Save("s1", sessionState{CompletedTasks: []string{"a"}})
	if err != nil {
		t.Fatalf("Save 1: %v", err)
	}
	h2, err := m.Save("s1", sessionState{CompletedTasks: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("Save 2: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("handles collide: %s", h1)
	}
	if !(h1 < h2) {
		t.Errorf("later save %s should sort after %s", h2, h1)
	}

	var first sessionState
	m.Load("s1", h1, &first)
	if len(first.CompletedTasks) != 1 {
		t.Errorf("first checkpoint was overwritten: %+v", first)
	}

	var latest sessionState
	m.Load("s1", "", &latest)
	if len(latest.CompletedTasks) != 2 {
		t.Errorf("latest = %+v, want the second save", latest)
	}

	handles, _ := m.List("s1")
	if len(handles) != 2 {
		t.Errorf("List = %v, want 2 handles", handles)
	}
}

func TestLoad_Missing(t *testing.T) {
	m := newTestManager(t)
	var st sessionState

	found, err := m.Load("nobody", "", &st)
	if err != nil || found {
		t.Errorf("Load(no checkpoints) = %v, %v; want false, nil", found, err)
	}

	m.Save("s1", st)
	found, err = m.Load("s1", Handle("20000101T000000.000000000Z"), &st)
	if err != nil || found {
		t.Errorf("Load(missing handle) = %v, %v; want false, nil", found, err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	m := newTestManager(t)
	h, _ := m.Save("s1", sessionState{})
	path := filepath.Join(m.Dir(), "s1", string(h)+".json")
	os.WriteFile(path, []byte("{"), 0644)

	var st sessionState
	if _, err := m.Load("s1", h, &st); err == nil {
		t.Error("expected error loading corrupt checkpoint")
	}
}

func TestSessionIDValidation(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, err := m.Save(id, sessionState{}); err == nil {
			t.Errorf("Save(%q) should fail", id)
		}
	}
}

func TestList_IgnoresTempFiles(t *testing.T) {
	m := newTestManager(t)
	m.Save("s1", sessionState{})
	os.WriteFile(filepath.Join(m.Dir(), "s1", ".tmp-123"), []byte("{}"), 0644)
	os.WriteFile(filepath.Join(m.Dir(), "s1", "notes.txt"), []byte("x"), 0644)

	handles, err := m.List("s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(handles) != 1 {
		t.Errorf("List = %v, want 1 handle", handles)
	}
	if _, err := handles[0].Time(); err != nil {
		t.Errorf("handle %s does not parse as a time: %v", handles[0], err)
	}
}

func TestPrune(t *testing.T) {
	m := newTestManager(t)
	for i := 0; i < 5; i++ {
		if _, err := m.Save("s1", sessionState{CompletedTasks: []string{string(rune('a' + i))}}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	removed, err := m.Prune("s1", 2)
	if err != nil || removed != 3 {
		t.Fatalf("Prune = %d, %v; want 3, nil", removed, err)
	}
	var latest sessionState
	m.Load("s1", "", &latest)
	if latest.CompletedTasks[0] != "e" {
		t.Errorf("latest after prune = %+v", latest)
	}
}

func TestRun_SavesPeriodically(t *testing.T) {
	m := NewManager(t.TempDir(), 3, logging.Nop())
	var calls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, "s1", 10*time.Millisecond, func() (any, error) {
			calls.Add(1)
			return sessionState{SessionID: "s1"}, nil
		})
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	handles, _ := m.List("s1")
	if len(handles) == 0 || len(handles) > 4 {
		t.Errorf("List = %d handles, want at most keep+1 after pruning", len(handles))
	}
}
