package tui

import (
	"time"

	"github.com/ShayCichocki/triad/internal/events"
	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/planner"
	"github.com/ShayCichocki/triad/internal/store"
	"github.com/ShayCichocki/triad/internal/workflow"
	"github.com/ShayCichocki/triad/pkg/models"
)

// Snapshot is everything one dashboard refresh shows.
type Snapshot struct {
	Sessions []*models.Session
	// Session is the selected session, nil when there are none.
	Session  *models.Session
	Graph    *models.TaskGraph
	Progress planner.Progress
	// Events are log entries newer than the requested cursor.
	Events   []events.Event
	LoadedAt time.Time
}

// Source loads dashboard snapshots.
type Source interface {
	Load(sessionID string, afterSeq int64) (Snapshot, error)
}

// StoreSource reads snapshots straight from the durable store.
type StoreSource struct {
	sessions *workflow.Sessions
	planner  *planner.Planner
	bus      *events.Bus
	now      func() time.Time
}

// NewStoreSource creates a Source over s.
func NewStoreSource(s store.Store, log *logging.Logger) *StoreSource {
	log = log.Named("dashboard")
	return &StoreSource{
		sessions: workflow.NewSessions(s, log),
		planner:  planner.New(s, log),
		bus:      events.NewBus(s, log),
		now:      time.Now,
	}
}

// Load returns the session named by sessionID, or the newest session when
// sessionID is empty or unknown.
func (src *StoreSource) Load(sessionID string, afterSeq int64) (Snapshot, error) {
	snap := Snapshot{LoadedAt: src.now()}
	all, err := src.sessions.List()
	if err != nil {
		return snap, err
	}
	snap.Sessions = all
	for _, s := range all {
		if s.SessionID == sessionID {
			snap.Session = s
			break
		}
	}
	if snap.Session == nil && len(all) > 0 {
		snap.Session = all[0]
	}

	if snap.Session != nil {
		completed := snap.Session.CompletedSet()
		if snap.Graph, err = src.planner.LoadGraph(snap.Session.ProjectID); err != nil {
			return snap, err
		}
		if snap.Progress, err = src.planner.GetProgress(snap.Session.ProjectID, completed); err != nil {
			return snap, err
		}
	}

	if snap.Events, err = src.bus.ReplaySince(afterSeq); err != nil {
		return snap, err
	}
	return snap, nil
}
