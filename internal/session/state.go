package session

import (
	"time"

	"github.com/albumforge/albumforge/internal/matcher"
	"github.com/albumforge/albumforge/internal/recognize"
)

// State is the full serializable content of a session, used by store
// backends that persist sessions outside the process.
type State struct {
	ID              string
	OwnerID         string
	CreatedAt       time.Time
	WorkDir         string
	Step            int
	Status          Status
	Error           string
	People          map[string]*recognize.Person
	EventPhotos     []string
	EventEmbeddings map[string][]float32
	Results         *matcher.Results
	ZipPath         string
	BuildSeconds    float64
}

// State captures the session under its lock.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		ID:           s.ID,
		OwnerID:      s.OwnerID,
		CreatedAt:    s.CreatedAt,
		WorkDir:      s.WorkDir,
		Step:         s.step,
		Status:       s.status,
		Error:        s.errMsg,
		EventPhotos:  append([]string(nil), s.eventPhotos...),
		Results:      s.results,
		ZipPath:      s.zipPath,
		BuildSeconds: s.buildSeconds,
	}
	st.People = make(map[string]*recognize.Person, len(s.people))
	for k, v := range s.people {
		st.People[k] = v
	}
	st.EventEmbeddings = make(map[string][]float32, len(s.eventEmbedding))
	for k, v := range s.eventEmbedding {
		st.EventEmbeddings[k] = v
	}
	return st
}

// Restore rebuilds a session from persisted state. The scratch directory is
// not recreated; a restored session whose work dir is gone can still serve
// status reads and cleanup.
func Restore(st State) *Session {
	s := &Session{
		ID:           st.ID,
		OwnerID:      st.OwnerID,
		CreatedAt:    st.CreatedAt,
		WorkDir:      st.WorkDir,
		step:         st.Step,
		status:       st.Status,
		errMsg:       st.Error,
		eventPhotos:  append([]string(nil), st.EventPhotos...),
		results:      st.Results,
		zipPath:      st.ZipPath,
		buildSeconds: st.BuildSeconds,
	}
	s.people = make(map[string]*recognize.Person, len(st.People))
	for k, v := range st.People {
		s.people[k] = v
	}
	s.eventEmbedding = make(map[string][]float32, len(st.EventEmbeddings))
	for k, v := range st.EventEmbeddings {
		s.eventEmbedding[k] = v
	}
	if s.step == 0 {
		s.step = StepReferences
	}
	if s.status == "" {
		s.status = StatusStarted
	}
	return s
}
