package workflow

import (
	"sort"
	"time"

	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/internal/store"
	"github.com/ShayCichocki/triad/pkg/models"
)

// IndexEntry is the lightweight record under /sessions/index/{id}.
type IndexEntry struct {
	SessionID string    `json:"session_id"`
	ProjectID string    `json:"project_id"`
	Goal      string    `json:"goal"`
	CreatedAt time.Time `json:"created_at"`
}

// Sessions reads and writes session records. Sessions are never deleted;
// Delete only removes the index entry.
type Sessions struct {
	store store.Store
	log   *logging.Logger
}

// NewSessions creates a session repository.
func NewSessions(s store.Store, log *logging.Logger) *Sessions {
	return &Sessions{store: s, log: log.Named("sessions")}
}

// Load returns the session and its record version. A missing session
// returns (nil, 0, nil); a corrupt one is logged and reported missing.
func (r *Sessions) Load(id string) (*models.Session, int64, error) {
	var s models.Session
	version, err := store.GetEntryJSON(r.store, store.SessionKey(id), &s)
	if store.IsDeserializationError(err) {
		r.log.Log("WARNING: ignoring corrupt session %s: %v", id, err)
		return nil, 0, nil
	}
	if err != nil || version == 0 {
		return nil, 0, err
	}
	return &s, version, nil
}

// Save writes s if its stored version still equals version (0 to create)
// and returns the new version. A concurrent writer surfaces as
// store.ErrVersionConflict.
func (r *Sessions) Save(s *models.Session, version int64) (int64, error) {
	var next int64
	err := r.store.Update(func(tx store.Tx) error {
		v, err := store.CompareAndSetJSON(tx, store.SessionKey(s.SessionID), s, version)
		if err != nil {
			return err
		}
		next = v
		if version != 0 {
			return nil
		}
		return store.SetJSON(tx, store.SessionIndexKey(s.SessionID), IndexEntry{
			SessionID: s.SessionID,
			ProjectID: s.ProjectID,
			Goal:      s.Goal,
			CreatedAt: s.CreatedAt,
		})
	})
	return next, err
}

// List returns indexed sessions, newest first. Entries whose record is
// missing or corrupt are skipped.
func (r *Sessions) List() ([]*models.Session, error) {
	keys, err := r.store.Keys(store.SessionIndexPrefix)
	if err != nil {
		return nil, err
	}
	var out []*models.Session
	for _, key := range keys {
		s, _, err := r.Load(store.LastSegment(key))
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ForProject returns the newest indexed session for projectID, or nil.
func (r *Sessions) ForProject(projectID string) (*models.Session, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.ProjectID == projectID {
			return s, nil
		}
	}
	return nil, nil
}

// Delete removes the session from the index. The record stays for audit.
func (r *Sessions) Delete(id string) (bool, error) {
	return r.store.Delete(store.SessionIndexKey(id))
}
