package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AlirezaZareeiD/hamfounder-sub000/model"
)

const (
	sessionTTL    = 2 * time.Hour
	janitorPeriod = 10 * time.Minute
)

// EditSession holds the draft state for one user editing one project.
// A session for a new project has an empty project id until the first
// successful submit binds one.
type EditSession struct {
	ID      string
	OwnerID string
	Tracker *Tracker

	mu        sync.Mutex
	projectID string
	lastUsed  time.Time
	latest    []model.Attachment
	persist   func(projectID string, docs []model.Attachment)
}

// Project returns the bound project id, empty for an unsaved draft.
func (s *EditSession) Project() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.projectID
}

// Bind associates the session with a saved project.
func (s *EditSession) Bind(projectID string) {
	s.mu.Lock()
	s.projectID = projectID
	s.mu.Unlock()
}

// OnPersist arms a callback invoked whenever the finalized attachment
// list changes for a session already bound to a project, so uploads
// that resolve after a submit still write their url back to the store.
func (s *EditSession) OnPersist(fn func(projectID string, docs []model.Attachment)) {
	s.mu.Lock()
	s.persist = fn
	s.mu.Unlock()
}

func (s *EditSession) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *EditSession) setLatest(list []model.Attachment) {
	s.mu.Lock()
	s.latest = list
	s.lastUsed = time.Now()
	persist := s.persist
	projectID := s.projectID
	s.mu.Unlock()
	if persist != nil && projectID != "" {
		go persist(projectID, list)
	}
}

// Latest returns the finalized attachment list as of the last change
// notification.
func (s *EditSession) Latest() []model.Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// SessionRegistry owns all live edit sessions, keyed by session id.
// Sessions idle past their TTL are reaped, canceling any in-flight
// uploads they still hold.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*EditSession
	uploader *Uploader
	blob     BlobStore
	bucket   string
	stop     chan struct{}
	once     sync.Once
}

func NewSessionRegistry(uploader *Uploader, blob BlobStore, bucket string) *SessionRegistry {
	r := &SessionRegistry{
		sessions: make(map[string]*EditSession),
		uploader: uploader,
		blob:     blob,
		bucket:   bucket,
		stop:     make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Create opens a session for the given owner. project is nil when
// creating a new project; for an existing project its attachment list
// seeds the tracker.
func (r *SessionRegistry) Create(owner model.UserRef, project *model.Project) *EditSession {
	session := &EditSession{
		ID:       uuid.New().String(),
		OwnerID:  owner.ID,
		lastUsed: time.Now(),
	}
	projectID := ""
	if project != nil {
		projectID = project.ID
		session.projectID = project.ID
	}
	session.Tracker = NewTracker(projectID, r.bucket, r.uploader, r.blob, session.setLatest)
	if project != nil {
		session.Tracker.SetFromParent(project.Documents)
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
	return session
}

// Get returns the session if it exists and belongs to ownerID.
func (r *SessionRegistry) Get(id, ownerID string) (*EditSession, error) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || session.OwnerID != ownerID {
		return nil, ErrSessionNotFound
	}
	session.touch()
	return session, nil
}

// Remove closes and drops a session.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	session, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		session.Tracker.Close()
	}
}

// Stop halts the janitor and closes every session.
func (r *SessionRegistry) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.mu.Lock()
	sessions := make([]*EditSession, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Tracker.Close()
	}
}

func (r *SessionRegistry) janitor() {
	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

func (r *SessionRegistry) reap() {
	cutoff := time.Now().Add(-sessionTTL)
	var expired []*EditSession
	r.mu.Lock()
	for id, s := range r.sessions {
		s.mu.Lock()
		idle := s.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if idle && !s.Tracker.AnyUploading() {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, s := range expired {
		s.Tracker.Close()
		slog.Info("reaped idle edit session", "session_id", s.ID, "owner_id", s.OwnerID)
	}
}
