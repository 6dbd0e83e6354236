package matcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/albumforge/albumforge/internal/recognize"
)

// patternRecognizer maps image bytes to canned face detections, simulating a
// detector that recognizes synthetic face patterns embedded in the file
// content.
type patternRecognizer struct {
	faces map[string][]recognize.FaceDetection
}

func (p *patternRecognizer) DetectFaces(ctx context.Context, imageData []byte) ([]recognize.FaceDetection, error) {
	canned := p.faces[string(imageData)]
	out := make([]recognize.FaceDetection, len(canned))
	for i, f := range canned {
		out[i] = f
		out[i].Embedding = append([]float32(nil), f.Embedding...)
	}
	return out, nil
}

func (p *patternRecognizer) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

// Synthetic identities: orthogonal unit vectors are maximally distinct.
var (
	aliceVec = []float32{1, 0, 0, 0}
	bobVec   = []float32{0, 1, 0, 0}
	otherVec = []float32{0, 0, 1, 0}
)

func goodFace(emb []float32) recognize.FaceDetection {
	return recognize.FaceDetection{DetScore: 0.95, BBox: []float64{0, 0, 100, 100}, Embedding: append([]float32(nil), emb...)}
}

func writePhoto(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestMatcher(rec recognize.Recognizer) *Matcher {
	return New(recognize.NewExtractor(rec, 0.4, 0.6, nil), nil)
}

func alicePerson(t *testing.T) map[string]*recognize.Person {
	t.Helper()
	p, err := recognize.BuildPerson("Alice", [][]float32{aliceVec}, []string{"alice.jpg"})
	if err != nil {
		t.Fatal(err)
	}
	return map[string]*recognize.Person{"Alice": p}
}

func TestSearch_ScenarioAlice(t *testing.T) {
	dir := t.TempDir()
	rec := &patternRecognizer{faces: map[string][]recognize.FaceDetection{
		"other-1": {goodFace(otherVec)},
		"alice-2": {goodFace(aliceVec)},
		"other-3": {goodFace(otherVec)},
		"alice-4": {goodFace(aliceVec)},
		"other-5": {goodFace(otherVec)},
	}}

	photos := []string{
		writePhoto(t, dir, "photo1.jpg", "other-1"),
		writePhoto(t, dir, "photo2.jpg", "alice-2"),
		writePhoto(t, dir, "photo3.jpg", "other-3"),
		writePhoto(t, dir, "photo4.jpg", "alice-4"),
		writePhoto(t, dir, "photo5.jpg", "other-5"),
	}

	m := newTestMatcher(rec)
	res, err := m.Search(context.Background(), alicePerson(t), photos, Options{Threshold: 0.55})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alice := res.People["Alice"]
	if len(alice) != 2 {
		t.Fatalf("expected 2 matches for Alice, got %d", len(alice))
	}
	if alice[0].Path != photos[1] || alice[1].Path != photos[3] {
		t.Errorf("expected photos 2 and 4, got %v", alice)
	}
	if len(res.Unknown) != 3 {
		t.Errorf("expected 3 unknown photos, got %d", len(res.Unknown))
	}
	if res.Processed != 5 {
		t.Errorf("expected 5 processed, got %d", res.Processed)
	}
}

func TestSearch_Idempotent(t *testing.T) {
	dir := t.TempDir()
	rec := &patternRecognizer{faces: map[string][]recognize.FaceDetection{
		"a": {goodFace(aliceVec)},
		"b": {goodFace(bobVec)},
	}}
	photos := []string{
		writePhoto(t, dir, "one.jpg", "a"),
		writePhoto(t, dir, "two.jpg", "b"),
	}

	m := newTestMatcher(rec)
	people := alicePerson(t)

	first, err := m.Search(context.Background(), people, photos, Options{Threshold: 0.55, Concurrency: 4})
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Search(context.Background(), people, photos, Options{Threshold: 0.55, Concurrency: 4})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("matcher is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestSearch_AtMostOncePerPhoto(t *testing.T) {
	dir := t.TempDir()
	// Two faces of the same person in one photo.
	rec := &patternRecognizer{faces: map[string][]recognize.FaceDetection{
		"twice": {goodFace(aliceVec), goodFace(aliceVec)},
	}}
	photos := []string{writePhoto(t, dir, "group.jpg", "twice")}

	m := newTestMatcher(rec)
	res, err := m.Search(context.Background(), alicePerson(t), photos, Options{Threshold: 0.55})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.People["Alice"]) != 1 {
		t.Errorf("expected exactly one entry for Alice, got %d", len(res.People["Alice"]))
	}
}

func TestSearch_CoOccurrence(t *testing.T) {
	dir := t.TempDir()
	// One photo containing both Alice's and Bob's faces: both must be
	// credited, a face assignment is not either/or.
	rec := &patternRecognizer{faces: map[string][]recognize.FaceDetection{
		"both": {goodFace(aliceVec), goodFace(bobVec)},
	}}
	photos := []string{writePhoto(t, dir, "pair.jpg", "both")}

	alice, err := recognize.BuildPerson("Alice", [][]float32{aliceVec}, nil)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := recognize.BuildPerson("Bob", [][]float32{bobVec}, nil)
	if err != nil {
		t.Fatal(err)
	}
	people := map[string]*recognize.Person{"Alice": alice, "Bob": bob}

	m := newTestMatcher(rec)
	res, err := m.Search(context.Background(), people, photos, Options{Threshold: 0.55})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.People["Alice"]) != 1 || len(res.People["Bob"]) != 1 {
		t.Errorf("expected both people credited: alice=%d bob=%d",
			len(res.People["Alice"]), len(res.People["Bob"]))
	}
	if len(res.Unknown) != 0 {
		t.Errorf("expected no unknown photos, got %v", res.Unknown)
	}
}

func TestSearch_ThresholdMonotonicity(t *testing.T) {
	dir := t.TempDir()
	// Faces at graded similarity to Alice: cos = 1.0, ~0.71, 0.
	near := []float32{1, 1, 0, 0} // normalized later by extractor: cos ~0.71
	rec := &patternRecognizer{faces: map[string][]recognize.FaceDetection{
		"exact": {goodFace(aliceVec)},
		"near":  {goodFace(near)},
		"far":   {goodFace(otherVec)},
	}}
	photos := []string{
		writePhoto(t, dir, "exact.jpg", "exact"),
		writePhoto(t, dir, "near.jpg", "near"),
		writePhoto(t, dir, "far.jpg", "far"),
	}

	m := newTestMatcher(rec)
	people := alicePerson(t)

	prev := -1
	for _, threshold := range []float64{0.3, 0.5, 0.65, 0.8, 0.99} {
		res, err := m.Search(context.Background(), people, photos, Options{Threshold: threshold})
		if err != nil {
			t.Fatal(err)
		}
		count := len(res.People["Alice"])
		if prev >= 0 && count > prev {
			t.Errorf("raising threshold to %v increased matches from %d to %d", threshold, prev, count)
		}
		prev = count
	}
	if prev != 1 {
		t.Errorf("expected only the exact match at threshold 0.99, got %d", prev)
	}
}

func TestSearch_UnreadablePhotoSkipped(t *testing.T) {
	dir := t.TempDir()
	rec := &patternRecognizer{faces: map[string][]recognize.FaceDetection{
		"a": {goodFace(aliceVec)},
	}}
	photos := []string{
		writePhoto(t, dir, "ok.jpg", "a"),
		filepath.Join(dir, "missing.jpg"),
	}

	m := newTestMatcher(rec)
	res, err := m.Search(context.Background(), alicePerson(t), photos, Options{Threshold: 0.55})
	if err != nil {
		t.Fatalf("one bad photo must not fail the batch: %v", err)
	}
	if res.Processed != 1 {
		t.Errorf("expected 1 processed, got %d", res.Processed)
	}
	if len(res.Skipped) != 1 {
		t.Errorf("expected 1 skipped, got %v", res.Skipped)
	}
}

func TestSearch_ZeroFacesGoesToUnknown(t *testing.T) {
	dir := t.TempDir()
	rec := &patternRecognizer{faces: map[string][]recognize.FaceDetection{}}
	photos := []string{writePhoto(t, dir, "landscape.jpg", "no faces here")}

	m := newTestMatcher(rec)
	res, err := m.Search(context.Background(), alicePerson(t), photos, Options{Threshold: 0.55})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unknown) != 1 {
		t.Errorf("expected face-less photo in Unknown, got %v", res.Unknown)
	}
}

func TestSearch_ProgressCallback(t *testing.T) {
	dir := t.TempDir()
	rec := &patternRecognizer{faces: map[string][]recognize.FaceDetection{}}
	var photos []string
	for i := 0; i < 7; i++ {
		photos = append(photos, writePhoto(t, dir, filepath.Base(dir)+string(rune('a'+i))+".jpg", "x"))
	}

	calls := 0
	last := Progress{}
	m := newTestMatcher(rec)
	_, err := m.Search(context.Background(), alicePerson(t), photos, Options{
		Threshold:   0.55,
		Concurrency: 3,
		OnProgress: func(p Progress) {
			calls++
			last = p
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != len(photos) {
		t.Errorf("expected %d progress calls, got %d", len(photos), calls)
	}
	if last.Current != len(photos) || last.Total != len(photos) {
		t.Errorf("expected final progress %d/%d, got %d/%d", len(photos), len(photos), last.Current, last.Total)
	}
}

// gatedRecognizer blocks every detection until the gate is closed.
type gatedRecognizer struct {
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedRecognizer) DetectFaces(ctx context.Context, imageData []byte) ([]recognize.FaceDetection, error) {
	g.started <- struct{}{}
	<-g.gate
	return nil, nil
}

func (g *gatedRecognizer) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	return nil, nil
}

// A cancelled search must not return while workers are still running, so
// no progress callback ever fires after the caller gets control back.
func TestSearch_CancelWaitsForWorkers(t *testing.T) {
	dir := t.TempDir()
	rec := &gatedRecognizer{
		started: make(chan struct{}, 2),
		gate:    make(chan struct{}),
	}
	var photos []string
	for i := 0; i < 5; i++ {
		photos = append(photos, writePhoto(t, dir, string(rune('a'+i))+".jpg", "x"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	var returned atomic.Bool

	m := newTestMatcher(rec)
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Search(ctx, alicePerson(t), photos, Options{
			Threshold:   0.55,
			Concurrency: 2,
			OnProgress: func(p Progress) {
				if returned.Load() {
					t.Error("progress callback fired after Search returned")
				}
			},
		})
		returned.Store(true)
		errCh <- err
	}()

	// Two workers are now blocked inside detection; cancel while they run.
	<-rec.started
	<-rec.started
	cancel()

	select {
	case err := <-errCh:
		t.Fatalf("Search returned %v with workers still in flight", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(rec.gate)
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
