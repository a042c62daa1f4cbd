package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/triad/internal/events"
	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/planner"
	"github.com/ShayCichocki/triad/internal/store"
	"github.com/ShayCichocki/triad/internal/workflow"
	"github.com/ShayCichocki/triad/pkg/models"
)

type testServer struct {
	URL    string
	client *http.Client
	store  *store.DB
	plan   *planner.Planner
	bus    *events.Bus
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "triad.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	log := logging.Nop()
	p := planner.New(db, log)
	bus := events.NewBus(db, log)
	handler, err := New(Config{Store: db, Planner: p, Bus: bus, BasePath: "/v0", Log: log})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String() + "/v0",
		client: &http.Client{Timeout: 5 * time.Second},
		store:  db,
		plan:   p,
		bus:    bus,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			db.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

// seedSession plans goal for projectID and stores an active session that
// has completed the first task.
func (ts *testServer) seedSession(t *testing.T, id, projectID, goal string) *models.Session {
	t.Helper()
	g, err := ts.plan.CreateTaskGraph(projectID, goal)
	if err != nil {
		t.Fatalf("CreateTaskGraph: %v", err)
	}
	s := models.NewSession(id, projectID, goal, time.Now())
	if err := s.Transition(models.SessionActive, time.Now()); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	s.RecordCompleted(g.Tasks[0].ID)
	if _, err := workflow.NewSessions(ts.store, logging.Nop()).Save(s, 0); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return s
}

func doJSON(t *testing.T, client *http.Client, method, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("status = %d, want %d: %s", res.StatusCode, status, data)
	}
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	decode(t, data, &env)
	if env.Error.Code != code {
		t.Errorf("error code = %q, want %q", env.Error.Code, code)
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/health")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", res.StatusCode, data)
	}
	var body map[string]string
	decode(t, data, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestSessions_ListAndGet(t *testing.T) {
	ts := newTestServer(t)
	ts.seedSession(t, "s-1", "alpha", "implement login")
	ts.seedSession(t, "s-2", "beta", "fix the crash")

	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/sessions")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d: %s", res.StatusCode, data)
	}
	var list []SessionResponse
	decode(t, data, &list)
	if len(list) != 2 {
		t.Fatalf("got %d sessions, want 2", len(list))
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/sessions?project_id=beta")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered status = %d: %s", res.StatusCode, data)
	}
	list = nil
	decode(t, data, &list)
	if len(list) != 1 || list[0].Session.SessionID != "s-2" {
		t.Fatalf("filtered list = %+v, want only s-2", list)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/sessions/s-1")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d: %s", res.StatusCode, data)
	}
	var one SessionResponse
	decode(t, data, &one)
	if one.Session.ProjectID != "alpha" {
		t.Errorf("project = %q, want alpha", one.Session.ProjectID)
	}
	if one.Progress.CompletedTasks != 1 || one.Progress.TotalTasks == 0 {
		t.Errorf("progress = %+v, want 1 completed of a non-empty plan", one.Progress)
	}
}

func TestSessions_NotFound(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/sessions/missing")
	expectError(t, res, data, http.StatusNotFound, "not_found")
}

func TestSessions_InvalidStateFilter(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/sessions?state=bogus")
	expectError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestProjects_GraphAndProgress(t *testing.T) {
	ts := newTestServer(t)
	s := ts.seedSession(t, "s-1", "alpha", "implement login")

	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/projects/alpha/graph")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("graph status = %d: %s", res.StatusCode, data)
	}
	var g models.TaskGraph
	decode(t, data, &g)
	if g.ProjectID != "alpha" || len(g.Tasks) == 0 {
		t.Fatalf("graph = %+v", g)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/projects/alpha/progress")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress status = %d: %s", res.StatusCode, data)
	}
	var body struct {
		SessionID string           `json:"session_id"`
		Progress  planner.Progress `json:"progress"`
		NextTask  string           `json:"next_task"`
	}
	decode(t, data, &body)
	if body.SessionID != s.SessionID {
		t.Errorf("session_id = %q, want %q", body.SessionID, s.SessionID)
	}
	if body.Progress.CompletedTasks != 1 {
		t.Errorf("completed = %d, want 1", body.Progress.CompletedTasks)
	}
	if len(g.Tasks) > 1 && body.NextTask != g.Tasks[1].ID {
		t.Errorf("next_task = %q, want %q", body.NextTask, g.Tasks[1].ID)
	}
}

func TestProjects_Missing(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/projects/nope/graph", "/projects/nope/progress"} {
		res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+path)
		expectError(t, res, data, http.StatusNotFound, "not_found")
	}
}

func TestEvents_SinceTypeAndLimit(t *testing.T) {
	ts := newTestServer(t)
	for i, typ := range []string{events.SessionStarted, events.TaskStarted, events.TaskCompleted, events.TaskStarted} {
		if err := ts.bus.Publish(typ, map[string]any{"n": i}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	tests := []struct {
		name     string
		query    string
		wantSeqs []int64
		wantNext int64
	}{
		{"all", "", []int64{1, 2, 3, 4}, 0},
		{"since", "?since=2", []int64{3, 4}, 0},
		{"type", "?type=task_started", []int64{2, 4}, 0},
		{"limit", "?limit=2", []int64{1, 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/events"+tt.query)
			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d: %s", res.StatusCode, data)
			}
			var page paginatedEvents
			decode(t, data, &page)
			if len(page.Items) != len(tt.wantSeqs) {
				t.Fatalf("got %d events, want %d", len(page.Items), len(tt.wantSeqs))
			}
			for i, ev := range page.Items {
				if ev.Seq != tt.wantSeqs[i] {
					t.Errorf("item %d seq = %d, want %d", i, ev.Seq, tt.wantSeqs[i])
				}
			}
			if page.NextCursor != tt.wantNext {
				t.Errorf("next_cursor = %d, want %d", page.NextCursor, tt.wantNext)
			}
		})
	}
}

func TestMemory_KeysAndValues(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.store.Set("/notes/json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := ts.store.Set("/notes/text", []byte("plain words")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	res, data := doJSON(t, ts.client, http.MethodGet, ts.URL+"/memory?prefix=/notes/")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("keys status = %d: %s", res.StatusCode, data)
	}
	var keys []string
	decode(t, data, &keys)
	if len(keys) != 2 || keys[0] != "/notes/json" || keys[1] != "/notes/text" {
		t.Fatalf("keys = %v", keys)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/memory/value?key=/notes/json")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("value status = %d: %s", res.StatusCode, data)
	}
	var entry MemoryEntry
	decode(t, data, &entry)
	if string(entry.Value) != `{"a":1}` || entry.Version != 1 {
		t.Errorf("entry = %+v", entry)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/memory/value?key=/notes/text")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("value status = %d: %s", res.StatusCode, data)
	}
	entry = MemoryEntry{}
	decode(t, data, &entry)
	if entry.Raw != "plain words" || entry.Value != nil {
		t.Errorf("entry = %+v, want raw text", entry)
	}

	res, data = doJSON(t, ts.client, http.MethodGet, ts.URL+"/memory/value?key=/notes/none")
	expectError(t, res, data, http.StatusNotFound, "not_found")
}
