package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/albumforge/albumforge/internal/session"
)

func TestSessionsCreate(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionsHandler(env.builder, env.store, nil)

	req := authAs(httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil), "user42")
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assertStatusCode(t, rec, http.StatusCreated)

	var snap session.Snapshot
	parseJSONResponse(t, rec, &snap)
	if snap.ID == "" {
		t.Fatal("expected a session ID")
	}
	if snap.Step != session.StepReferences {
		t.Errorf("new session step = %d, want %d", snap.Step, session.StepReferences)
	}
	if snap.Status != session.StatusStarted {
		t.Errorf("new session status = %q, want %q", snap.Status, session.StatusStarted)
	}
	if env.store.Len() != 1 {
		t.Errorf("store has %d sessions, want 1", env.store.Len())
	}
}

func TestSessionsGet(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionsHandler(env.builder, env.store, nil)
	s := env.startSession(t, "user42")

	req := sessionRequest(http.MethodGet, "/api/v1/sessions/"+s.ID, "user42", s.ID)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var snap session.Snapshot
	parseJSONResponse(t, rec, &snap)
	if snap.ID != s.ID {
		t.Errorf("snapshot ID = %q, want %q", snap.ID, s.ID)
	}
}

func TestSessionsGetNotFound(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionsHandler(env.builder, env.store, nil)

	req := sessionRequest(http.MethodGet, "/api/v1/sessions/missing", "user42", "missing")
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
	assertJSONError(t, rec, "session not found")
}

func TestSessionsGetWrongOwner(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionsHandler(env.builder, env.store, nil)
	s := env.startSession(t, "user42")

	req := sessionRequest(http.MethodGet, "/api/v1/sessions/"+s.ID, "intruder", s.ID)
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assertStatusCode(t, rec, http.StatusForbidden)
}

func TestSessionsDelete(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionsHandler(env.builder, env.store, nil)
	s := env.startSession(t, "user42")

	req := sessionRequest(http.MethodDelete, "/api/v1/sessions/"+s.ID, "user42", s.ID)
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	if env.store.Len() != 0 {
		t.Errorf("store has %d sessions after delete, want 0", env.store.Len())
	}
	if _, err := os.Stat(s.WorkDir); !os.IsNotExist(err) {
		t.Errorf("work dir %s still exists after delete", s.WorkDir)
	}
}

func TestSessionsDuplicatesEmpty(t *testing.T) {
	env := newTestEnv(t)
	h := NewSessionsHandler(env.builder, env.store, nil)
	s := env.startSession(t, "user42")

	req := sessionRequest(http.MethodGet, "/api/v1/sessions/"+s.ID+"/duplicates", "user42", s.ID)
	rec := httptest.NewRecorder()
	h.Duplicates(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	var result struct {
		Count int `json:"count"`
	}
	parseJSONResponse(t, rec, &result)
	if result.Count != 0 {
		t.Errorf("duplicate group count = %d, want 0", result.Count)
	}
}
