package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/albumforge/albumforge/internal/config"
	"github.com/albumforge/albumforge/internal/pipeline"
	"github.com/albumforge/albumforge/internal/recognize"
	"github.com/albumforge/albumforge/internal/session"
	"github.com/albumforge/albumforge/internal/web/middleware"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			SimilarityThreshold: 0.55,
			MinDetConfidence:    0.4,
			QualityFloor:        0.6,
			MaxDimension:        1600,
			TargetFileSizeMB:    1.0,
			JPEGQualityFloor:    65,
			DuplicateThreshold:  0.08,
			Concurrency:         2,
		},
	}
}

// stubRecognizer never finds faces and has no whole-image embeddings.
// Handler tests exercise routing, ownership, and step ordering; the
// matching pipeline has its own tests.
type stubRecognizer struct{}

func (stubRecognizer) DetectFaces(ctx context.Context, imageData []byte) ([]recognize.FaceDetection, error) {
	return nil, nil
}

func (stubRecognizer) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	return nil, fmt.Errorf("not supported")
}

// testEnv bundles a builder and its store for handler tests.
type testEnv struct {
	builder *pipeline.Builder
	store   *session.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := session.NewMemoryStore()
	builder := pipeline.New(testConfig(), store, stubRecognizer{}, nil, t.TempDir(), nil)
	return &testEnv{builder: builder, store: store}
}

// startSession creates a session owned by the given user.
func (e *testEnv) startSession(t *testing.T, ownerID string) *session.Session {
	t.Helper()
	s, err := e.builder.StartSession(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return s
}

// authAs attaches an authenticated user to the request context.
func authAs(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.SetUserInContext(req.Context(), userID))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// sessionRequest builds an authenticated request routed at a session.
func sessionRequest(method, path, userID, sessionID string) *http.Request {
	req := authAs(httptest.NewRequest(method, path, nil), userID)
	return requestWithChiParams(req, map[string]string{"sessionId": sessionID})
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
