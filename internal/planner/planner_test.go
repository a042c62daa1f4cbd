package planner

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/store"
	"github.com/ShayCichocki/triad/pkg/models"
)

// setupTestStore opens a fresh store for one test.
func setupTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func setupPlanner(t *testing.T) (*Planner, *store.DB) {
	t.Helper()
	db := setupTestStore(t)
	return New(db, logging.Nop(), WithClock(tickingClock())), db
}

func types(g *models.TaskGraph) []models.TaskType {
	out := make([]models.TaskType, len(g.Tasks))
	for i, t := range g.Tasks {
		out[i] = t.Type
	}
	return out
}

func TestCreateTaskGraph_Templates(t *testing.T) {
	bugTypes := []models.TaskType{models.TaskTypeInvestigation, models.TaskTypeBugFix, models.TaskTypeVerification}
	implTypes := []models.TaskType{models.TaskTypeResearch, models.TaskTypeImplementation, models.TaskTypeTesting}

	tests := []struct {
		goal string
		want []models.TaskType
	}{
		{"Fix login validation bug", bugTypes},
		{"there is an ERROR in checkout", bugTypes},
		{"look into issue 42", bugTypes},
		{"add retries, fix timeouts", bugTypes},
		{"Implement user authentication system", implTypes},
		{"build a cache", implTypes},
		{"refactor the parser", implTypes},
		{"", implTypes},
		{"   ", implTypes},
	}

	for _, tt := range tests {
		t.Run(tt.goal, func(t *testing.T) {
			p, _ := setupPlanner(t)
			g, err := p.CreateTaskGraph("p1", tt.goal)
			if err != nil {
				t.Fatalf("CreateTaskGraph: %v", err)
			}
			got := types(g)
			if len(got) != 3 {
				t.Fatalf("got %d tasks, want 3", len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("task %d type = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCreateTaskGraph_LinearDependencies(t *testing.T) {
	p, _ := setupPlanner(t)
	g, err := p.CreateTaskGraph("p1", "Fix login validation bug")
	if err != nil {
		t.Fatalf("CreateTaskGraph: %v", err)
	}

	if len(g.Tasks[0].Dependencies) != 0 {
		t.Errorf("first task deps = %v, want none", g.Tasks[0].Dependencies)
	}
	for i := 1; i < len(g.Tasks); i++ {
		deps := g.Tasks[i].Dependencies
		if len(deps) != 1 || deps[0] != g.Tasks[i-1].ID {
			t.Errorf("task %d deps = %v, want [%s]", i, deps, g.Tasks[i-1].ID)
		}
	}

	roles := []models.Role{models.RoleSupervisor, models.RoleCoder, models.RoleAdversary}
	for i, task := range g.Tasks {
		if task.Role != roles[i] {
			t.Errorf("task %d role = %s, want %s", i, task.Role, roles[i])
		}
		if task.Status != models.TaskStatusPending {
			t.Errorf("task %d status = %s, want pending", i, task.Status)
		}
		if !strings.Contains(task.ID, task.Role.Slug()) || !strings.Contains(task.ID, string(task.Type)) {
			t.Errorf("task id %q should carry role and type", task.ID)
		}
	}
	if err := g.Validate(); err != nil {
		t.Errorf("generated graph invalid: %v", err)
	}
}

func TestCreateTaskGraph_PersistsRecords(t *testing.T) {
	p, db := setupPlanner(t)
	g, err := p.CreateTaskGraph("p1", "Implement user authentication system")
	if err != nil {
		t.Fatalf("CreateTaskGraph: %v", err)
	}

	var stored models.TaskGraph
	if found, err := store.GetJSON(db, store.TaskGraphKey("p1"), &stored); !found || err != nil {
		t.Fatalf("graph not stored: found=%v err=%v", found, err)
	}
	if stored.Goal != g.Goal || len(stored.Tasks) != 3 {
		t.Errorf("stored graph = %+v", stored)
	}

	for _, task := range g.Tasks {
		for _, key := range []string{
			store.PendingTaskKey(task.ID),
			store.TaskIndexKey(task.ID),
			store.BriefingKey("p1", task.ID),
		} {
			if _, found, _ := db.Get(key); !found {
				t.Errorf("missing %s", key)
			}
		}
		queue, err := p.Queue(task.Role)
		if err != nil {
			t.Fatalf("Queue: %v", err)
		}
		if len(queue) != 1 || queue[0] != task.ID {
			t.Errorf("%s queue = %v", task.Role, queue)
		}
	}

	var wf WorkflowRecord
	if found, _ := store.GetJSON(db, store.WorkflowKey(g.WorkflowID), &wf); !found {
		t.Fatal("workflow record missing")
	}
	if len(wf.TaskIDs) != 3 || wf.ProjectID != "p1" {
		t.Errorf("workflow record = %+v", wf)
	}

	b, err := p.LoadBriefing(store.BriefingKey("p1", g.Tasks[1].ID))
	if err != nil || b == nil {
		t.Fatalf("LoadBriefing = %v, %v", b, err)
	}
	if b.Role != models.RoleCoder || len(b.AllowedTools) == 0 || !strings.Contains(b.Prompt, g.Goal) {
		t.Errorf("briefing = %+v", b)
	}
}

func TestCreateTaskGraph_ReplacesPreviousPlan(t *testing.T) {
	p, db := setupPlanner(t)
	first, err := p.CreateTaskGraph("p1", "build a thing")
	if err != nil {
		t.Fatalf("first plan: %v", err)
	}
	second, err := p.CreateTaskGraph("p1", "fix the thing")
	if err != nil {
		t.Fatalf("second plan: %v", err)
	}

	g, _ := p.LoadGraph("p1")
	if g.Goal != "fix the thing" || g.WorkflowID != second.WorkflowID {
		t.Errorf("stored plan not replaced: %+v", g)
	}
	for _, task := range first.Tasks {
		if _, found, _ := db.Get(store.PendingTaskKey(task.ID)); found {
			t.Errorf("stale pending record %s", task.ID)
		}
	}
	queue, _ := p.Queue(models.RoleCoder)
	if len(queue) != 1 || queue[0] != second.Tasks[1].ID {
		t.Errorf("coder queue = %v", queue)
	}
}

func TestGetNextTask_EndToEnd(t *testing.T) {
	p, _ := setupPlanner(t)
	g, err := p.CreateTaskGraph("p1", "Implement user authentication system")
	if err != nil {
		t.Fatalf("CreateTaskGraph: %v", err)
	}
	research, impl, test := g.Tasks[0], g.Tasks[1], g.Tasks[2]

	completed := map[string]bool{}
	steps := []models.Task{research, impl, test}
	for _, want := range steps {
		next, err := p.GetNextTask("p1", completed)
		if err != nil {
			t.Fatalf("GetNextTask: %v", err)
		}
		if next == nil || next.ID != want.ID {
			t.Fatalf("GetNextTask = %v, want %s", next, want.ID)
		}
		if _, err := p.MarkStarted("p1", next.ID); err != nil {
			t.Fatalf("MarkStarted: %v", err)
		}
		if _, err := p.MarkCompleted("p1", next.ID); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
		completed[next.ID] = true
	}

	next, err := p.GetNextTask("p1", completed)
	if err != nil || next != nil {
		t.Errorf("GetNextTask after all done = %v, %v; want nil", next, err)
	}
	prog, err := p.GetProgress("p1", completed)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if prog.CompletionPercentage != 100.0 || prog.CompletedTasks != 3 || prog.TotalTasks != 3 {
		t.Errorf("progress = %+v", prog)
	}
}

func TestGetNextTask_EmptyCompletedReturnsFirst(t *testing.T) {
	p, _ := setupPlanner(t)
	g, _ := p.CreateTaskGraph("p1", "Fix login validation bug")

	next, err := p.GetNextTask("p1", map[string]bool{})
	if err != nil || next == nil {
		t.Fatalf("GetNextTask = %v, %v", next, err)
	}
	if next.ID != g.Tasks[0].ID {
		t.Errorf("GetNextTask = %s, want %s", next.ID, g.Tasks[0].ID)
	}
}

func TestGetNextTask_AbsentProject(t *testing.T) {
	p, _ := setupPlanner(t)
	next, err := p.GetNextTask("nope", nil)
	if err != nil || next != nil {
		t.Errorf("GetNextTask(absent) = %v, %v; want nil, nil", next, err)
	}
	prog, err := p.GetProgress("nope", nil)
	if err != nil || prog.CompletionPercentage != 0 {
		t.Errorf("GetProgress(absent) = %+v, %v", prog, err)
	}
}

func TestGetNextTask_FailedDependencyBlocks(t *testing.T) {
	p, _ := setupPlanner(t)
	g, _ := p.CreateTaskGraph("p1", "build it")
	first := g.Tasks[0].ID

	p.MarkStarted("p1", first)
	if _, err := p.MarkFailed("p1", first, "exit status 1"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	next, err := p.GetNextTask("p1", map[string]bool{})
	if err != nil {
		t.Fatalf("GetNextTask: %v", err)
	}
	if next != nil {
		t.Errorf("GetNextTask = %s, want nil (failed task and its dependents blocked)", next.ID)
	}
	ready, _ := p.GetRunnableTasks("p1", map[string]bool{})
	if len(ready) != 0 {
		t.Errorf("GetRunnableTasks = %d tasks, want 0", len(ready))
	}
}

func TestGetNextTask_CorruptGraphTreatedAsAbsent(t *testing.T) {
	var buf strings.Builder
	db := setupTestStore(t)
	p := New(db, logging.NewWriter(&buf))
	db.Set(store.TaskGraphKey("p1"), []byte("{broken"))

	next, err := p.GetNextTask("p1", nil)
	if err != nil || next != nil {
		t.Errorf("GetNextTask(corrupt) = %v, %v; want nil, nil", next, err)
	}
	if !strings.Contains(buf.String(), "corrupt task graph") {
		t.Errorf("corruption not logged: %q", buf.String())
	}

	// Re-planning over a corrupt record works.
	if _, err := p.CreateTaskGraph("p1", "build it"); err != nil {
		t.Errorf("CreateTaskGraph over corrupt record: %v", err)
	}
}

func TestGetProgress(t *testing.T) {
	p, _ := setupPlanner(t)
	g, _ := p.CreateTaskGraph("p1", "build it")

	tests := []struct {
		name      string
		completed map[string]bool
		want      float64
	}{
		{"none", map[string]bool{}, 0},
		{"one", map[string]bool{g.Tasks[0].ID: true}, 100.0 / 3},
		{"foreign ids ignored", map[string]bool{g.Tasks[0].ID: true, "other": true}, 100.0 / 3},
		{"all", map[string]bool{g.Tasks[0].ID: true, g.Tasks[1].ID: true, g.Tasks[2].ID: true}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := p.GetProgress("p1", tt.completed)
			if err != nil {
				t.Fatalf("GetProgress: %v", err)
			}
			b, _ := p.GetProgress("p1", tt.completed)
			if a != b {
				t.Errorf("GetProgress not idempotent: %+v vs %+v", a, b)
			}
			if a.CompletionPercentage != tt.want {
				t.Errorf("CompletionPercentage = %v, want %v", a.CompletionPercentage, tt.want)
			}
		})
	}
}

func TestProgressOf_EmptyGraph(t *testing.T) {
	prog := progressOf(&models.TaskGraph{}, map[string]bool{"x": true})
	if prog.CompletionPercentage != 0.0 || prog.TotalTasks != 0 {
		t.Errorf("progress of empty graph = %+v", prog)
	}
}

func TestMarkCompleted_MovesRecords(t *testing.T) {
	p, db := setupPlanner(t)
	g, _ := p.CreateTaskGraph("p1", "build it")
	id := g.Tasks[0].ID

	started, err := p.MarkStarted("p1", id)
	if err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if started.StartedAt == nil {
		t.Error("StartedAt not set")
	}
	queue, _ := p.Queue(models.RoleSupervisor)
	if len(queue) != 0 {
		t.Errorf("supervisor queue after start = %v, want empty", queue)
	}

	done, err := p.MarkCompleted("p1", id)
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if done.CompletedAt == nil || done.Status != models.TaskStatusCompleted {
		t.Errorf("completed task = %+v", done)
	}

	if _, found, _ := db.Get(store.PendingTaskKey(id)); found {
		t.Error("pending record still present")
	}
	var rec models.Task
	if found, _ := store.GetJSON(db, store.CompletedTaskKey(id), &rec); !found || rec.Status != models.TaskStatusCompleted {
		t.Errorf("completed record = %+v, found %v", rec, found)
	}
	var idx IndexRecord
	store.GetJSON(db, store.TaskIndexKey(id), &idx)
	if idx.Status != models.TaskStatusCompleted || idx.Location != LocationCompleted {
		t.Errorf("index = %+v", idx)
	}

	g2, _ := p.LoadGraph("p1")
	if g2.Tasks[0].Status != models.TaskStatusCompleted {
		t.Errorf("graph status = %s", g2.Tasks[0].Status)
	}
}

func TestMarkCompleted_RejectsIllegalTransition(t *testing.T) {
	p, _ := setupPlanner(t)
	g, _ := p.CreateTaskGraph("p1", "build it")
	id := g.Tasks[0].ID

	if _, err := p.MarkCompleted("p1", id); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("complete pending task err = %v, want ErrInvalidTransition", err)
	}
	p.MarkStarted("p1", id)
	p.MarkCompleted("p1", id)
	if _, err := p.MarkFailed("p1", id, "late"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("fail completed task err = %v, want ErrInvalidTransition", err)
	}
}

func TestMarkStarted_Idempotent(t *testing.T) {
	p, _ := setupPlanner(t)
	g, _ := p.CreateTaskGraph("p1", "build it")
	id := g.Tasks[0].ID

	first, err := p.MarkStarted("p1", id)
	if err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	again, err := p.MarkStarted("p1", id)
	if err != nil {
		t.Fatalf("second MarkStarted: %v", err)
	}
	if !again.StartedAt.Equal(*first.StartedAt) {
		t.Error("StartedAt changed on second start")
	}
}

func TestMark_UnknownTaskAndProject(t *testing.T) {
	p, _ := setupPlanner(t)
	if _, err := p.MarkStarted("p1", "x"); !errors.Is(err, ErrNoGraph) {
		t.Errorf("err = %v, want ErrNoGraph", err)
	}
	p.CreateTaskGraph("p1", "build it")
	if _, err := p.MarkStarted("p1", "x"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("err = %v, want ErrUnknownTask", err)
	}
}

func TestIndex(t *testing.T) {
	p, db := setupPlanner(t)
	p.CreateTaskGraph("p1", "build it")
	db.Set(store.TaskIndexKey("zzz"), []byte("not json"))

	recs, err := p.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("Index returned %d records, want 3 (corrupt one skipped)", len(recs))
	}
}

func TestCreateTaskGraph_SameClockDistinctProjects(t *testing.T) {
	db := setupTestStore(t)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := New(db, logging.Nop(), WithClock(func() time.Time { return fixed }))

	g1, err := p.CreateTaskGraph("app", "build it")
	if err != nil {
		t.Fatalf("CreateTaskGraph(app): %v", err)
	}
	g2, err := p.CreateTaskGraph("web", "build it")
	if err != nil {
		t.Fatalf("CreateTaskGraph(web): %v", err)
	}

	seen := make(map[string]bool)
	for _, g := range []*models.TaskGraph{g1, g2} {
		for _, task := range g.Tasks {
			if seen[task.ID] {
				t.Errorf("task id %s reused across projects", task.ID)
			}
			seen[task.ID] = true
		}
	}

	recs, err := p.Index()
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if len(recs) != 6 {
		t.Errorf("Index returned %d records, want 6", len(recs))
	}
	for _, r := range recs {
		if r.ProjectID == "app" && !strings.Contains(r.TaskID, "-app-") {
			t.Errorf("app task %s does not carry its project", r.TaskID)
		}
	}
}

func TestProjectSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"demo", "demo"},
		{"My App", "my-app"},
		{"org/repo_v2", "org-repo-v2"},
		{"--", "project"},
	}
	for _, tt := range tests {
		if got := projectSlug(tt.in); got != tt.want {
			t.Errorf("projectSlug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fixedClassifier TemplateKind

func (f fixedClassifier) Classify(string) TemplateKind { return TemplateKind(f) }

func TestWithClassifier(t *testing.T) {
	db := setupTestStore(t)
	p := New(db, logging.Nop(), WithClassifier(fixedClassifier(TemplateBugFix)))
	g, err := p.CreateTaskGraph("p1", "implement feature")
	if err != nil {
		t.Fatalf("CreateTaskGraph: %v", err)
	}
	if g.Tasks[0].Type != models.TaskTypeInvestigation {
		t.Errorf("custom classifier ignored: first type = %s", g.Tasks[0].Type)
	}
}

func TestWithProfiles(t *testing.T) {
	db := setupTestStore(t)
	custom := models.RoleCoder.Profile()
	custom.AllowedTools = []string{"Edit"}
	p := New(db, logging.Nop(), WithProfiles(map[models.Role]models.RoleProfile{models.RoleCoder: custom}))

	g, _ := p.CreateTaskGraph("p1", "build it")
	b, _ := p.LoadBriefing(store.BriefingKey("p1", g.Tasks[1].ID))
	if len(b.AllowedTools) != 1 || b.AllowedTools[0] != "Edit" {
		t.Errorf("briefing tools = %v", b.AllowedTools)
	}
	if got := p.Profile(models.RoleSupervisor).AllowedTools; len(got) == 0 {
		t.Error("unrelated role lost its default profile")
	}
}
