// Package server exposes a read-only HTTP view of the orchestration store:
// sessions, project plans and progress, the event log and raw keys.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/ShayCichocki/triad/internal/events"
	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/planner"
	"github.com/ShayCichocki/triad/internal/store"
	"github.com/ShayCichocki/triad/internal/version"
	"github.com/ShayCichocki/triad/internal/workflow"
	"github.com/ShayCichocki/triad/pkg/models"
)

// Config for the HTTP API handler.
type Config struct {
	Store    store.Store
	Planner  *planner.Planner
	Bus      *events.Bus
	BasePath string
	Log      *logging.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"session not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type deps struct {
	store    store.Store
	sessions *workflow.Sessions
	planner  *planner.Planner
	bus      *events.Bus
	log      *logging.Logger
}

// New returns an HTTP handler exposing the status API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log.Named("server")
	d := deps{
		store:    cfg.Store,
		sessions: workflow.NewSessions(cfg.Store, log),
		planner:  cfg.Planner,
		bus:      cfg.Bus,
		log:      log,
	}
	if d.planner == nil {
		d.planner = planner.New(cfg.Store, log)
	}
	if d.bus == nil {
		d.bus = events.NewBus(cfg.Store, log)
	}

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Log("%s %s", r.Method, r.URL.RequestURI())
			next.ServeHTTP(w, r)
		})
	})
	hcfg := huma.DefaultConfig("Triad Status API", version.Get())
	hcfg.OpenAPIPath = basePath + "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerSessions(group, d)
	registerProjects(group, d)
	registerEvents(group, d)
	registerMemory(group, d)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if store.IsDeserializationError(err) {
		return newAPIError(http.StatusUnprocessableEntity, "corrupt_record", err.Error(), nil)
	}
	if store.IsStorageError(err) {
		return newAPIError(http.StatusServiceUnavailable, "storage_unavailable", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func notFound(what, id string) huma.StatusError {
	return newAPIError(http.StatusNotFound, "not_found", what+" not found", map[string]any{"id": id})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok", "version": version.Get()}}, nil
	})
}

// SessionResponse is a session with its plan progress.
type SessionResponse struct {
	Session  *models.Session  `json:"session"`
	Progress planner.Progress `json:"progress"`
}

func sessionResponse(d deps, s *models.Session) (SessionResponse, error) {
	prog, err := d.planner.GetProgress(s.ProjectID, s.CompletedSet())
	if err != nil {
		return SessionResponse{}, err
	}
	return SessionResponse{Session: s, Progress: prog}, nil
}

func registerSessions(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions, newest first",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		State     string `query:"state" enum:"idle,active,inactive,failed"`
	}) (*struct {
		Body []SessionResponse `json:"body"`
	}, error) {
		all, err := d.sessions.List()
		if err != nil {
			return nil, handleError(err)
		}
		out := []SessionResponse{}
		for _, s := range all {
			if input.ProjectID != "" && s.ProjectID != input.ProjectID {
				continue
			}
			if input.State != "" && string(s.State) != input.State {
				continue
			}
			resp, err := sessionResponse(d, s)
			if err != nil {
				return nil, handleError(err)
			}
			out = append(out, resp)
		}
		return &struct {
			Body []SessionResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, _, err := d.sessions.Load(input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		if s == nil {
			return nil, notFound("session", input.SessionID)
		}
		resp, err := sessionResponse(d, s)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerProjects(api huma.API, d deps) {
	type projectPath struct {
		ProjectID string `path:"project_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-task-graph",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/graph",
		Summary:     "Get the project's task graph",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body *models.TaskGraph `json:"body"`
	}, error) {
		g, err := d.planner.LoadGraph(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if g == nil {
			return nil, notFound("task graph", input.ProjectID)
		}
		return &struct {
			Body *models.TaskGraph `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/progress",
		Summary:     "Progress of the project's newest session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		s, err := d.sessions.ForProject(input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		if s == nil {
			return nil, notFound("session for project", input.ProjectID)
		}
		prog, err := d.planner.GetProgress(s.ProjectID, s.CompletedSet())
		if err != nil {
			return nil, handleError(err)
		}
		next, err := d.planner.GetNextTask(s.ProjectID, s.CompletedSet())
		if err != nil {
			return nil, handleError(err)
		}
		body := map[string]any{
			"project_id": s.ProjectID,
			"session_id": s.SessionID,
			"state":      s.State,
			"progress":   prog,
			"failed":     s.FailedTasks,
		}
		if next != nil {
			body["next_task"] = next.ID
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: body}, nil
	})
}

type paginatedEvents struct {
	Items      []events.Event `json:"items"`
	NextCursor int64          `json:"next_cursor,omitempty"`
}

func registerEvents(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Replay the event log",
	}, func(ctx context.Context, input *struct {
		Since int64  `query:"since" minimum:"0"`
		Type  string `query:"type"`
		Limit int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		all, err := d.bus.ReplaySince(input.Since)
		if err != nil {
			return nil, handleError(err)
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 100
		}
		resp := paginatedEvents{Items: []events.Event{}}
		for _, ev := range all {
			if input.Type != "" && ev.Type != input.Type {
				continue
			}
			if len(resp.Items) == limit {
				resp.NextCursor = resp.Items[limit-1].Seq
				break
			}
			resp.Items = append(resp.Items, ev)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

// MemoryEntry is one raw store value. Value holds the JSON document when
// the stored bytes are valid JSON and Raw holds them otherwise.
type MemoryEntry struct {
	Key     string          `json:"key"`
	Version int64           `json:"version"`
	Value   json.RawMessage `json:"value,omitempty"`
	Raw     string          `json:"raw,omitempty"`
}

func registerMemory(api huma.API, d deps) {
	huma.Register(api, huma.Operation{
		OperationID: "list-keys",
		Method:      http.MethodGet,
		Path:        "/memory",
		Summary:     "List store keys under a prefix",
	}, func(ctx context.Context, input *struct {
		Prefix string `query:"prefix"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		keys, err := d.store.Keys(input.Prefix)
		if err != nil {
			return nil, handleError(err)
		}
		if keys == nil {
			keys = []string{}
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: keys}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-key",
		Method:      http.MethodGet,
		Path:        "/memory/value",
		Summary:     "Read one store value",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Key string `query:"key" required:"true"`
	}) (*struct {
		Body MemoryEntry `json:"body"`
	}, error) {
		if input.Key == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "key is required", nil)
		}
		entry, err := d.store.GetEntry(input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		if entry == nil {
			return nil, notFound("key", input.Key)
		}
		out := MemoryEntry{Key: entry.Key, Version: entry.Version}
		if json.Valid(entry.Value) {
			out.Value = json.RawMessage(entry.Value)
		} else {
			out.Raw = string(entry.Value)
		}
		return &struct {
			Body MemoryEntry `json:"body"`
		}{Body: out}, nil
	})
}
